// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package hcloud

import "time"

// Server is a provider virtual machine.
type Server struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	PublicNet PublicNet         `json:"public_net"`
	Created   time.Time         `json:"created"`
	Labels    map[string]string `json:"labels"`
}

// PublicNet holds a server's public network configuration.
type PublicNet struct {
	IPv4 ServerIPv4 `json:"ipv4"`
}

// ServerIPv4 is a server's primary public IPv4 address.
type ServerIPv4 struct {
	IP     string `json:"ip"`
	DNSPtr string `json:"dns_ptr"`
}

// ServerCreateOpts are the parameters for creating a server.
type ServerCreateOpts struct {
	Name       string            `json:"name"`
	ServerType string            `json:"server_type"`
	Image      string            `json:"image"`
	Location   string            `json:"location,omitempty"`
	SSHKeys    []int64           `json:"ssh_keys,omitempty"`
	Firewalls  []FirewallRef     `json:"firewalls,omitempty"`
	UserData   string            `json:"user_data,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// FirewallRef references a firewall to apply at server creation.
type FirewallRef struct {
	Firewall int64 `json:"firewall"`
}

// ServerCreateResult is the provider's response to a server creation:
// the server resource plus the asynchronous creation action.
type ServerCreateResult struct {
	Server Server `json:"server"`
	Action Action `json:"action"`
}

// SSHKey is an uploaded public key, referenced at server creation.
type SSHKey struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Fingerprint string            `json:"fingerprint"`
	PublicKey   string            `json:"public_key"`
	Labels      map[string]string `json:"labels"`
}

// Firewall is a provider firewall with its rule set.
type Firewall struct {
	ID     int64             `json:"id"`
	Name   string            `json:"name"`
	Rules  []FirewallRule    `json:"rules"`
	Labels map[string]string `json:"labels"`
}

// FirewallRule is a single allow rule.
type FirewallRule struct {
	Direction string   `json:"direction"`
	Protocol  string   `json:"protocol"`
	Port      string   `json:"port,omitempty"`
	SourceIPs []string `json:"source_ips,omitempty"`
}

// FirewallCreateOpts are the parameters for creating a firewall.
type FirewallCreateOpts struct {
	Name   string            `json:"name"`
	Rules  []FirewallRule    `json:"rules"`
	Labels map[string]string `json:"labels,omitempty"`
}

// Action is an asynchronous provider operation (server create, delete,
// and similar). Status is "running", "success", or "error".
type Action struct {
	ID       int64        `json:"id"`
	Command  string       `json:"command"`
	Status   string       `json:"status"`
	Progress int          `json:"progress"`
	Error    *ActionError `json:"error"`
}

// ActionError describes why an action failed.
type ActionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
