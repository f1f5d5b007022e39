// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package monitor runs the recurring health sweep over provisioned
// tenant VMs. Each sweep checks every active tenant's workload service
// over SSH, consults the per-tenant circuit breaker, attempts a
// service restart when the breaker allows it, and sends tenant and
// operator notifications on state transitions.
//
// Sweeps are self-excluding: a tick that arrives while a sweep is
// still running is skipped, never queued. Within a sweep, tenants are
// checked concurrently up to a fixed limit, and one tenant's failure
// never affects another's check.
//
// Key exports:
//
//   - Monitor: the sweep engine with Start/Stop lifecycle.
//   - Metrics: Prometheus instrumentation for sweeps and checks.
package monitor
