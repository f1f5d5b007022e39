// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"log/slog"
)

// Notifier sends health-state notifications. Implementations must
// swallow their own failures: log them, never propagate them.
type Notifier interface {
	// SendDown tells a tenant their assistant VM stopped responding.
	SendDown(ctx context.Context, email, name string)

	// SendRecovered tells a tenant their assistant VM is back, with
	// the approximate downtime in whole minutes.
	SendRecovered(ctx context.Context, email, name string, downtimeMinutes int)

	// SendOperatorAlert tells the operator a tenant's circuit breaker
	// tripped, with enough context to investigate out of band.
	SendOperatorAlert(ctx context.Context, operatorEmail, tenantID, tenantEmail, host string, failureCount int, lastError string)
}

// LogNotifier writes every notification to the structured log. It is
// the default sink in development and a useful tee in production.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a log-backed notifier. A nil logger uses the
// process default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (notifier *LogNotifier) SendDown(ctx context.Context, email, name string) {
	notifier.logger.Warn("tenant vm down notification",
		"email", email,
		"name", name,
	)
}

func (notifier *LogNotifier) SendRecovered(ctx context.Context, email, name string, downtimeMinutes int) {
	notifier.logger.Info("tenant vm recovered notification",
		"email", email,
		"name", name,
		"downtime_minutes", downtimeMinutes,
	)
}

func (notifier *LogNotifier) SendOperatorAlert(ctx context.Context, operatorEmail, tenantID, tenantEmail, host string, failureCount int, lastError string) {
	notifier.logger.Error("operator circuit-trip alert",
		"operator_email", operatorEmail,
		"tenant_id", tenantID,
		"tenant_email", tenantEmail,
		"host", host,
		"failure_count", failureCount,
		"last_error", lastError,
	)
}
