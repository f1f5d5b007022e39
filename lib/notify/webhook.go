// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WebhookNotifier POSTs each notification as a JSON document to a
// configured endpoint. Delivery errors are logged and dropped.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookNotifier returns a webhook-backed notifier posting to url.
func NewWebhookNotifier(url string, httpClient *http.Client, logger *slog.Logger) (*WebhookNotifier, error) {
	if url == "" {
		return nil, fmt.Errorf("notify: webhook URL is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{url: url, httpClient: httpClient, logger: logger}, nil
}

// webhookEvent is the wire shape of one notification.
type webhookEvent struct {
	Kind            string `json:"kind"`
	Email           string `json:"email,omitempty"`
	Name            string `json:"name,omitempty"`
	DowntimeMinutes int    `json:"downtime_minutes,omitempty"`
	OperatorEmail   string `json:"operator_email,omitempty"`
	TenantID        string `json:"tenant_id,omitempty"`
	TenantEmail     string `json:"tenant_email,omitempty"`
	Host            string `json:"host,omitempty"`
	FailureCount    int    `json:"failure_count,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

func (notifier *WebhookNotifier) SendDown(ctx context.Context, email, name string) {
	notifier.post(ctx, webhookEvent{Kind: "vm_down", Email: email, Name: name})
}

func (notifier *WebhookNotifier) SendRecovered(ctx context.Context, email, name string, downtimeMinutes int) {
	notifier.post(ctx, webhookEvent{
		Kind:            "vm_recovered",
		Email:           email,
		Name:            name,
		DowntimeMinutes: downtimeMinutes,
	})
}

func (notifier *WebhookNotifier) SendOperatorAlert(ctx context.Context, operatorEmail, tenantID, tenantEmail, host string, failureCount int, lastError string) {
	notifier.post(ctx, webhookEvent{
		Kind:          "circuit_tripped",
		OperatorEmail: operatorEmail,
		TenantID:      tenantID,
		TenantEmail:   tenantEmail,
		Host:          host,
		FailureCount:  failureCount,
		LastError:     lastError,
	})
}

// post delivers one event. Every failure path ends in a log line, not
// an error return.
func (notifier *WebhookNotifier) post(ctx context.Context, event webhookEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		notifier.logger.Error("encoding notification", "kind", event.Kind, "error", err)
		return
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, notifier.url, bytes.NewReader(body))
	if err != nil {
		notifier.logger.Error("building notification request", "kind", event.Kind, "error", err)
		return
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := notifier.httpClient.Do(request)
	if err != nil {
		notifier.logger.Error("delivering notification", "kind", event.Kind, "error", err)
		return
	}
	defer response.Body.Close()
	io.Copy(io.Discard, response.Body)

	if response.StatusCode >= 300 {
		notifier.logger.Error("notification webhook rejected event",
			"kind", event.Kind,
			"status", response.StatusCode,
		)
	}
}
