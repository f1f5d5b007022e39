// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists the per-tenant VM and health records that the
// provisioning orchestrator and health monitor operate on. Records are
// keyed by tenant id and written with atomic upsert semantics so a
// sweep tick and an administrative action can race safely.
//
// Two implementations are provided: MemStore, a mutex-guarded map for
// tests and single-process embedding, and BoltStore, a single-file
// bbolt database with CBOR-encoded records for the daemon.
//
// Key exports:
//
//   - VMRecord, HealthRecord: the persisted record types.
//   - Store: the interface the orchestrator and monitor depend on.
//   - ErrNotFound: returned by lookups for absent tenants.
package store
