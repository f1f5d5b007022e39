// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package provision drives the tenant VM lifecycle: the orchestrator
// walks a provisioning run through pending, creating, boot_pending,
// injecting_secrets, and ready; the injector places tenant credentials
// on the booted VM over SSH; the deprovisioner idempotently releases
// provider resources and reconciles the persisted record.
//
// Resource handles are persisted the moment the resource exists,
// before the next fallible step runs, so cleanup only ever consults
// persisted state. Any failure routes through cleanup and ends in a
// terminal failed status with a human-readable cause.
//
// Key exports:
//
//   - Orchestrator: Provision and SignalBoot.
//   - Injector: the post-boot secret placement sequence.
//   - Deprovisioner: idempotent teardown.
package provision
