// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package hcloud

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/roost-sh/roost/lib/clock"
)

// lowHeadroomThreshold is the remaining-request count under which the
// tracker logs a warning. The provider's hourly budget is in the
// thousands; dropping under this threshold means something is burning
// requests far faster than the provisioning and health workloads
// should.
const lowHeadroomThreshold = 100

// rateLimitTracker tracks provider rate-limit state from response
// headers. Each response updates the tracker with the latest remaining
// count and reset timestamp. The tracker warns once per depletion
// episode when headroom drops below the threshold; the warning re-arms
// after headroom recovers.
type rateLimitTracker struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
	known     bool // true after the first response with rate limit headers
	warned    bool

	clock  clock.Clock
	logger *slog.Logger
}

func newRateLimitTracker(clock clock.Clock, logger *slog.Logger) *rateLimitTracker {
	return &rateLimitTracker{clock: clock, logger: logger}
}

// update records rate-limit state from HTTP response headers. Called
// after every API response.
func (tracker *rateLimitTracker) update(header http.Header) {
	remainingStr := header.Get("RateLimit-Remaining")
	if remainingStr == "" {
		return
	}
	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return
	}

	var reset time.Time
	if resetStr := header.Get("RateLimit-Reset"); resetStr != "" {
		if resetUnix, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			reset = time.Unix(resetUnix, 0)
		}
	}

	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	tracker.remaining = remaining
	tracker.reset = reset
	tracker.known = true

	if remaining < lowHeadroomThreshold {
		if !tracker.warned {
			tracker.warned = true
			tracker.logger.Warn("provider rate limit headroom low",
				"remaining", remaining,
				"reset", reset,
			)
		}
	} else {
		tracker.warned = false
	}
}

// retryAfter computes how long to wait before retrying a 429 response:
// until the RateLimit-Reset epoch if the header is present (minimum
// one second), otherwise a fixed sixty seconds.
func (tracker *rateLimitTracker) retryAfter(header http.Header) time.Duration {
	if resetStr := header.Get("RateLimit-Reset"); resetStr != "" {
		if resetUnix, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			wait := time.Unix(resetUnix, 0).Sub(tracker.clock.Now())
			if wait < time.Second {
				wait = time.Second
			}
			return wait
		}
	}
	return 60 * time.Second
}
