// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package hcloud

import (
	"context"
	"fmt"
	"net/http"
)

// CreateSSHKey uploads a public key in OpenSSH authorized_keys format.
// Key names are unique per project; Roost derives them from the tenant
// id so a retried provisioning run fails loudly instead of silently
// reusing a stale key.
func (client *Client) CreateSSHKey(ctx context.Context, name, publicKey string, labels map[string]string) (*SSHKey, error) {
	if name == "" || publicKey == "" {
		return nil, fmt.Errorf("hcloud: ssh key name and public key are required")
	}

	request := struct {
		Name      string            `json:"name"`
		PublicKey string            `json:"public_key"`
		Labels    map[string]string `json:"labels,omitempty"`
	}{Name: name, PublicKey: publicKey, Labels: labels}

	var result struct {
		SSHKey SSHKey `json:"ssh_key"`
	}
	if err := client.do(ctx, http.MethodPost, "/ssh_keys", request, &result); err != nil {
		return nil, err
	}
	return &result.SSHKey, nil
}

// DeleteSSHKey deletes an uploaded key by id. Callers cleaning up
// should treat IsNotFound errors as "already deleted".
func (client *Client) DeleteSSHKey(ctx context.Context, keyID int64) error {
	path := fmt.Sprintf("/ssh_keys/%d", keyID)
	return client.do(ctx, http.MethodDelete, path, nil, nil)
}
