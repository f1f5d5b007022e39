// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Roostd is the Roost orchestrator daemon. It serves the tenant
// control plane over HTTP, provisions and deprovisions tenant VMs
// against the cloud provider, and runs the periodic health sweep that
// restarts dead workloads and trips the per-tenant circuit breaker.
// Tenant credentials are sealed with an age identity before they touch
// the record database; the daemon is the only process holding that
// identity.
package main
