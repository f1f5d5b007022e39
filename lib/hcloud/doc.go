// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package hcloud is a typed client for the cloud provider's REST API,
// covering the four resource kinds Roost provisions: servers, SSH keys,
// firewalls, and actions.
//
// Every operation passes through one retrying request primitive:
// exponential backoff with full jitter, five attempts, one second base
// delay, doubling to a thirty second cap. HTTP 429 responses wait for
// the provider's RateLimit-Reset hint (minimum one second, sixty
// seconds when absent) and still count against the attempt budget.
// 5xx responses and transport errors retry; other 4xx responses fail
// immediately with the provider's decoded message.
//
// Errors are returned as [*APIError]; use [IsNotFound] when cleaning
// up — a 404 on delete means "already absent", not a failure.
//
// A rate-limit tracker fed from RateLimit-Remaining headers logs a
// warning once remaining request headroom drops below a threshold.
// This is an observability hook, not flow control.
//
// All waits go through an injected [clock.Clock] so retry behavior is
// testable without real delays.
package hcloud
