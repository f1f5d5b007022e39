// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestAPIClient(handler http.HandlerFunc) (*apiClient, *httptest.Server) {
	server := httptest.NewServer(handler)
	return &apiClient{
		baseURL: server.URL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}, server
}

func TestTenantPost(t *testing.T) {
	var gotPath string
	client, server := newTestAPIClient(func(writer http.ResponseWriter, request *http.Request) {
		gotPath = request.URL.Path
		writer.WriteHeader(http.StatusAccepted)
		json.NewEncoder(writer).Encode(map[string]string{"status": "provisioning"})
	})
	defer server.Close()

	if err := client.tenantPost([]string{"tenant-a"}, "provision"); err != nil {
		t.Fatalf("tenantPost: %v", err)
	}
	if gotPath != "/v1/tenants/tenant-a/provision" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestTenantPostSurfacesServerError(t *testing.T) {
	client, server := newTestAPIClient(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusNotFound)
		json.NewEncoder(writer).Encode(map[string]string{"error": "unknown tenant"})
	})
	defer server.Close()

	err := client.tenantPost([]string{"ghost"}, "deprovision")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "unknown tenant") {
		t.Errorf("error = %v", err)
	}
}

func TestTenantStatusRequiresOneArgument(t *testing.T) {
	client := &apiClient{baseURL: "http://127.0.0.1:1", http: http.DefaultClient}
	for _, args := range [][]string{nil, {""}, {"a", "b"}} {
		if err := client.tenantStatus(args); err == nil {
			t.Errorf("tenantStatus(%v) succeeded, want argument error", args)
		}
	}
}
