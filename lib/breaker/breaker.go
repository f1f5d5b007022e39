// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package breaker

import "time"

// Circuit is the persisted circuit state.
type Circuit string

const (
	// Closed allows restart attempts normally.
	Closed Circuit = "closed"

	// Open suppresses restart attempts until the cooldown elapses.
	Open Circuit = "open"

	// HalfOpen allows a single probe after the cooldown.
	HalfOpen Circuit = "half_open"
)

const (
	// MaxConsecutiveFailures is the failure count at which the
	// breaker trips from closed to open.
	MaxConsecutiveFailures = 3

	// Cooldown is how long an open breaker suppresses restart
	// attempts before permitting a probe.
	Cooldown = 30 * time.Minute
)

// State is the breaker's persisted triple. It lives inside the tenant's
// health record; this package never stores it.
type State struct {
	// Circuit is the persisted circuit state. The zero value is not
	// valid; use Reset() for a fresh tenant.
	Circuit Circuit

	// ConsecutiveFailures counts failures since the last success.
	ConsecutiveFailures int

	// OpenedAt is when the breaker last opened. Nil unless Circuit
	// is open.
	OpenedAt *time.Time
}

// FailureResult is the outcome of recording a failure.
type FailureResult struct {
	State State

	// Tripped is true only on the closed-to-open transition. Callers
	// use it to alert an operator exactly once per trip.
	Tripped bool
}

// SuccessResult is the outcome of recording a success.
type SuccessResult struct {
	State State

	// Recovered is true when the success ends a failing streak: the
	// prior effective state was not closed, or prior failures were
	// above zero.
	Recovered bool
}

// Reset returns the initial closed state. Used for a tenant's first
// health check and for manual administrative reset.
func Reset() State {
	return State{Circuit: Closed}
}

// EffectiveState returns the cooldown-aware view of the circuit: an
// open breaker whose cooldown has elapsed reads as half_open. The
// persisted state is not modified — it only flips to half_open
// explicitly when a probe is attempted. Always consult this before
// deciding behavior.
func EffectiveState(s State, now time.Time) Circuit {
	if s.Circuit == Open && s.OpenedAt != nil && now.Sub(*s.OpenedAt) >= Cooldown {
		return HalfOpen
	}
	return s.Circuit
}

// ShouldAttemptRestart reports whether a restart attempt is permitted:
// true when closed or half_open, and when open only once the cooldown
// has elapsed.
func ShouldAttemptRestart(s State, now time.Time) bool {
	return EffectiveState(s, now) != Open
}

// AfterFailure records a failed check or restart and returns the next
// state.
//
// A failure during a half_open probe reopens the breaker with a fresh
// cooldown (not a trip — it was already open). A failure while open
// with cooldown remaining leaves OpenedAt untouched so the cooldown is
// not extended indefinitely while a host stays down. From closed, the
// breaker trips once the incremented count reaches
// MaxConsecutiveFailures.
func AfterFailure(s State, now time.Time) FailureResult {
	previous := EffectiveState(s, now)
	failures := s.ConsecutiveFailures + 1

	switch previous {
	case HalfOpen:
		openedAt := now
		return FailureResult{State: State{
			Circuit:             Open,
			ConsecutiveFailures: failures,
			OpenedAt:            &openedAt,
		}}
	case Open:
		return FailureResult{State: State{
			Circuit:             Open,
			ConsecutiveFailures: failures,
			OpenedAt:            s.OpenedAt,
		}}
	}

	if failures >= MaxConsecutiveFailures {
		openedAt := now
		return FailureResult{
			State: State{
				Circuit:             Open,
				ConsecutiveFailures: failures,
				OpenedAt:            &openedAt,
			},
			Tripped: true,
		}
	}
	return FailureResult{State: State{
		Circuit:             Closed,
		ConsecutiveFailures: failures,
	}}
}

// AfterSuccess records a successful check or restart and returns the
// closed state. Recovered is true iff the prior effective state was
// not closed or the prior failure count was above zero.
func AfterSuccess(s State, now time.Time) SuccessResult {
	recovered := EffectiveState(s, now) != Closed || s.ConsecutiveFailures > 0
	return SuccessResult{
		State:     Reset(),
		Recovered: recovered,
	}
}
