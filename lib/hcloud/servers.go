// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package hcloud

import (
	"context"
	"fmt"
	"net/http"
)

// CreateServer creates a new server. The response includes the
// asynchronous creation action; the server boots in the background and
// reports readiness through the boot-configuration callback, not
// through this API.
func (client *Client) CreateServer(ctx context.Context, opts ServerCreateOpts) (*ServerCreateResult, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("hcloud: server name is required")
	}
	if opts.ServerType == "" || opts.Image == "" {
		return nil, fmt.Errorf("hcloud: server type and image are required")
	}

	var result ServerCreateResult
	if err := client.do(ctx, http.MethodPost, "/servers", opts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetServer fetches a server by id.
func (client *Client) GetServer(ctx context.Context, serverID int64) (*Server, error) {
	var result struct {
		Server Server `json:"server"`
	}
	path := fmt.Sprintf("/servers/%d", serverID)
	if err := client.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result.Server, nil
}

// DeleteServer deletes a server by id. Callers cleaning up should
// treat IsNotFound errors as "already deleted".
func (client *Client) DeleteServer(ctx context.Context, serverID int64) error {
	path := fmt.Sprintf("/servers/%d", serverID)
	return client.do(ctx, http.MethodDelete, path, nil, nil)
}

// ListServerActions lists the asynchronous actions recorded for a
// server (create, shutdown, delete, ...), most recent last.
func (client *Client) ListServerActions(ctx context.Context, serverID int64) ([]Action, error) {
	var result struct {
		Actions []Action `json:"actions"`
	}
	path := fmt.Sprintf("/servers/%d/actions", serverID)
	if err := client.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Actions, nil
}

// GetAction fetches a single action by id.
func (client *Client) GetAction(ctx context.Context, actionID int64) (*Action, error) {
	var result struct {
		Action Action `json:"action"`
	}
	path := fmt.Sprintf("/actions/%d", actionID)
	if err := client.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result.Action, nil
}
