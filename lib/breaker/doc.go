// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package breaker implements the per-tenant circuit breaker as pure
// state-transition functions. The breaker stops restart attempts
// against a persistently failing VM for a cooldown period, then allows
// one probe.
//
// There is no I/O and no shared mutable state here: every function
// takes the current persisted state plus the caller's notion of "now"
// and returns the next state. Persistence lives in the health record;
// this package is only the policy. That split lets the health monitor
// and any manual-retry tooling share one implementation, and makes the
// policy testable without a clock or a store.
//
// States follow the standard pattern:
//
//   - closed: failures below threshold, restarts allowed
//   - open: threshold reached, restarts suppressed until cooldown elapses
//   - half_open: cooldown elapsed, one probe allowed
//
// The persisted state only flips to half_open when a probe is actually
// attempted; [EffectiveState] computes the cooldown-aware view without
// mutating anything.
package breaker
