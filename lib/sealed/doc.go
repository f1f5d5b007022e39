// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption for secrets that rest in the
// Roost store: per-VM SSH private keys, assistant OAuth token bundles,
// and messaging-bot tokens. It wraps filippo.io/age for the specific
// operations Roost needs: generate an x25519 identity for the control
// plane, seal plaintext to it, and open ciphertext with it.
//
// Ciphertext is base64-encoded for storage in VM record fields.
// Callers pass plaintext []byte to [Box.Seal] and receive a base64
// string; [Box.Open] accepts a base64 string and returns plaintext in
// a [secret.Buffer] backed by mmap memory outside the Go heap (locked
// against swap, excluded from core dumps, zeroed on Close).
//
// Key exports:
//
//   - [Box] -- a parsed control-plane identity with Seal/Open
//   - [NewBox] -- construct a Box from an age identity in a secret.Buffer
//   - [GenerateIdentity] -- new age x25519 identity for first-time setup
//
// Used by the provisioning orchestrator (seal the freshly generated VM
// key, open it for secret injection) and by roostctl for operator
// recovery of a tenant's key.
//
// Depends on lib/secret for secure memory allocation.
package sealed
