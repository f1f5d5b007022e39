// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLogNotifierWritesStructuredLines(t *testing.T) {
	var logs bytes.Buffer
	notifier := NewLogNotifier(slog.New(slog.NewTextHandler(&logs, nil)))
	ctx := context.Background()

	notifier.SendDown(ctx, "a@example.com", "Ada")
	notifier.SendRecovered(ctx, "a@example.com", "Ada", 10)
	notifier.SendOperatorAlert(ctx, "ops@example.com", "tenant-a", "a@example.com", "203.0.113.9", 3, "connect timeout")

	output := logs.String()
	for _, want := range []string{
		"tenant vm down notification",
		"downtime_minutes=10",
		"operator circuit-trip alert",
		"failure_count=3",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("log output missing %q", want)
		}
	}
}

func TestWebhookNotifierPostsEvents(t *testing.T) {
	var received []webhookEvent
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		var event webhookEvent
		if err := json.NewDecoder(request.Body).Decode(&event); err != nil {
			t.Errorf("decoding event: %v", err)
		}
		received = append(received, event)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(server.URL, server.Client(), nil)
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}
	ctx := context.Background()

	notifier.SendDown(ctx, "a@example.com", "Ada")
	notifier.SendRecovered(ctx, "a@example.com", "Ada", 10)
	notifier.SendOperatorAlert(ctx, "ops@example.com", "tenant-a", "a@example.com", "203.0.113.9", 3, "connect timeout")

	if len(received) != 3 {
		t.Fatalf("received %d events, want 3", len(received))
	}
	if received[0].Kind != "vm_down" || received[1].Kind != "vm_recovered" || received[2].Kind != "circuit_tripped" {
		t.Errorf("event kinds = %q %q %q", received[0].Kind, received[1].Kind, received[2].Kind)
	}
	if received[1].DowntimeMinutes != 10 {
		t.Errorf("downtime minutes = %d", received[1].DowntimeMinutes)
	}
	if received[2].FailureCount != 3 || received[2].TenantID != "tenant-a" {
		t.Errorf("alert event = %+v", received[2])
	}
}

func TestWebhookNotifierSwallowsDeliveryFailure(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	// Point at a server that is already gone.
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	notifier, err := NewWebhookNotifier(url, nil, logger)
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}

	// Must not panic or block; the failure lands in the log.
	notifier.SendDown(context.Background(), "a@example.com", "Ada")
	if !strings.Contains(logs.String(), "delivering notification") {
		t.Error("delivery failure was not logged")
	}
}

func TestWebhookNotifierLogsRejection(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		http.Error(writer, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(server.URL, server.Client(), logger)
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}
	notifier.SendDown(context.Background(), "a@example.com", "Ada")
	if !strings.Contains(logs.String(), "rejected event") {
		t.Error("rejection was not logged")
	}
}
