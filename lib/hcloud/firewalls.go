// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package hcloud

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// CreateFirewall creates a firewall with the given rule set.
func (client *Client) CreateFirewall(ctx context.Context, opts FirewallCreateOpts) (*Firewall, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("hcloud: firewall name is required")
	}

	var result struct {
		Firewall Firewall `json:"firewall"`
	}
	if err := client.do(ctx, http.MethodPost, "/firewalls", opts, &result); err != nil {
		return nil, err
	}
	return &result.Firewall, nil
}

// GetFirewall fetches a firewall by id.
func (client *Client) GetFirewall(ctx context.Context, firewallID int64) (*Firewall, error) {
	var result struct {
		Firewall Firewall `json:"firewall"`
	}
	path := fmt.Sprintf("/firewalls/%d", firewallID)
	if err := client.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result.Firewall, nil
}

// ListFirewalls lists firewalls, optionally filtered by exact name.
// Used to resolve the shared SSH-only firewall before creating it.
func (client *Client) ListFirewalls(ctx context.Context, name string) ([]Firewall, error) {
	path := "/firewalls"
	if name != "" {
		path += "?name=" + url.QueryEscape(name)
	}

	var result struct {
		Firewalls []Firewall `json:"firewalls"`
	}
	if err := client.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Firewalls, nil
}
