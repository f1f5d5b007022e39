// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package bootconfig renders the cloud-init user data handed to a new
// tenant VM at creation time. The rendered payload creates the
// unprivileged workload user, installs the base package set and the
// workload runtime, clones the workload repository, and registers a
// phone-home callback against the Roost control plane so provisioning
// can advance the moment first boot completes.
//
// The payload travels through the provider API and is visible in the
// provider's console, so it must never carry tenant secrets. Builder
// input types have no secret-bearing fields; credentials reach the VM
// later over SSH.
//
// Key exports:
//
//   - Builder: validated, template-backed user data renderer.
//   - Instance: per-VM render inputs (tenant id, hostname, public key).
//   - MaxUserDataBytes: hard ceiling on the rendered payload.
package bootconfig
