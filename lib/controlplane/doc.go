// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package controlplane serves Roost's HTTP API: the boot-time callback
// that booting VMs phone home to, tenant provisioning and
// deprovisioning triggers, tenant status, and the usual healthz and
// metrics endpoints.
//
// The server follows a bind-then-signal lifecycle: Serve(ctx) binds
// the listener, closes Ready, and blocks until the context is
// cancelled, then drains in-flight requests.
//
// Key exports:
//
//   - Server: the HTTP server with Serve/Ready/Addr lifecycle.
//   - Provisioner, TenantRemover: the orchestration interfaces the
//     handlers call into.
package controlplane
