// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive data:
// decrypted SSH private keys, assistant OAuth tokens, and messaging-bot
// tokens while they transit the control plane.
//
// Buffer allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped.
//
// Because the memory is allocated outside the Go heap, the garbage
// collector never sees it and cannot copy or relocate it. This is the
// only way to guarantee that a tenant's key material does not persist
// in memory after a provisioning run completes.
//
// Key exports:
//
//   - [Buffer] -- mmap-backed secret storage, zeroed on Close
//   - [New] / [NewFromBytes] -- allocation
//   - [ReadFromPath] -- load a secret from a file or stdin
//   - [Zero] -- scrub a byte slice in place
package secret
