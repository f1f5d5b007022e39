// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Every timing decision in Roost — circuit breaker cooldowns, health
// sweep intervals, retry backoff waits, boot-callback deadlines,
// notification cooldowns — goes through a Clock instead of calling
// time.Now, time.After, time.NewTicker, or time.Sleep directly.
// Production code injects Real(); tests inject Fake() and advance time
// deterministically, so a 30-minute cooldown test completes in
// microseconds.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Monitor struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	m := &Monitor{clock: c}
//	// ... start goroutines ...
//	c.WaitForTimers(1) // wait for the sweep loop to register its ticker
//	c.Advance(time.Minute) // fire the tick deterministically
//
// # FakeClock Synchronization
//
// When a goroutine calls Sleep, After, or NewTicker on a FakeClock, it
// registers a pending timer. Use WaitForTimers to block until a given
// number of timers are registered before calling Advance. This
// eliminates the race between timer registration and time advancement
// that plagues tests built on real time.Sleep.
package clock
