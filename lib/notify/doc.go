// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers tenant and operator notifications for the
// health monitor. Delivery is fire-and-forget: implementations log
// failures and never return or panic into the caller, so a broken
// notification channel can never affect health-check or provisioning
// outcomes.
//
// Key exports:
//
//   - Notifier: the interface the monitor depends on.
//   - LogNotifier: writes notifications to the structured log.
//   - WebhookNotifier: POSTs notifications as JSON to a webhook.
package notify
