// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/roost-sh/roost/lib/hcloud"
	"github.com/roost-sh/roost/lib/sealed"
	"github.com/roost-sh/roost/lib/secret"
	"github.com/roost-sh/roost/lib/sshexec"
	"github.com/roost-sh/roost/lib/store"
)

// fakeCloud is an in-memory CloudAPI recording every mutation.
type fakeCloud struct {
	mutex  sync.Mutex
	nextID int64

	servers   map[int64]hcloud.Server
	sshKeys   map[int64]hcloud.SSHKey
	firewalls []hcloud.Firewall

	deletedServers []int64
	deletedKeys    []int64

	createServerErr error
	deleteServerErr error
	deleteKeyErr    error
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		servers: make(map[int64]hcloud.Server),
		sshKeys: make(map[int64]hcloud.SSHKey),
	}
}

func (cloud *fakeCloud) allocateID() int64 {
	cloud.nextID++
	return cloud.nextID
}

func (cloud *fakeCloud) CreateServer(ctx context.Context, opts hcloud.ServerCreateOpts) (*hcloud.ServerCreateResult, error) {
	cloud.mutex.Lock()
	defer cloud.mutex.Unlock()
	if cloud.createServerErr != nil {
		return nil, cloud.createServerErr
	}
	server := hcloud.Server{
		ID:     cloud.allocateID(),
		Name:   opts.Name,
		Status: "initializing",
		PublicNet: hcloud.PublicNet{
			IPv4: hcloud.ServerIPv4{IP: "203.0.113.50"},
		},
		Labels: opts.Labels,
	}
	cloud.servers[server.ID] = server
	return &hcloud.ServerCreateResult{
		Server: server,
		Action: hcloud.Action{ID: cloud.allocateID(), Command: "create_server", Status: "running"},
	}, nil
}

func (cloud *fakeCloud) DeleteServer(ctx context.Context, serverID int64) error {
	cloud.mutex.Lock()
	defer cloud.mutex.Unlock()
	cloud.deletedServers = append(cloud.deletedServers, serverID)
	if cloud.deleteServerErr != nil {
		return cloud.deleteServerErr
	}
	if _, ok := cloud.servers[serverID]; !ok {
		return &hcloud.APIError{StatusCode: http.StatusNotFound, Code: "not_found", Endpoint: "DELETE /servers"}
	}
	delete(cloud.servers, serverID)
	return nil
}

func (cloud *fakeCloud) CreateSSHKey(ctx context.Context, name, publicKey string, labels map[string]string) (*hcloud.SSHKey, error) {
	cloud.mutex.Lock()
	defer cloud.mutex.Unlock()
	key := hcloud.SSHKey{ID: cloud.allocateID(), Name: name, PublicKey: publicKey, Labels: labels}
	cloud.sshKeys[key.ID] = key
	return &key, nil
}

func (cloud *fakeCloud) DeleteSSHKey(ctx context.Context, keyID int64) error {
	cloud.mutex.Lock()
	defer cloud.mutex.Unlock()
	cloud.deletedKeys = append(cloud.deletedKeys, keyID)
	if cloud.deleteKeyErr != nil {
		return cloud.deleteKeyErr
	}
	if _, ok := cloud.sshKeys[keyID]; !ok {
		return &hcloud.APIError{StatusCode: http.StatusNotFound, Code: "not_found", Endpoint: "DELETE /ssh_keys"}
	}
	delete(cloud.sshKeys, keyID)
	return nil
}

func (cloud *fakeCloud) CreateFirewall(ctx context.Context, opts hcloud.FirewallCreateOpts) (*hcloud.Firewall, error) {
	cloud.mutex.Lock()
	defer cloud.mutex.Unlock()
	firewall := hcloud.Firewall{ID: cloud.allocateID(), Name: opts.Name, Rules: opts.Rules}
	cloud.firewalls = append(cloud.firewalls, firewall)
	return &firewall, nil
}

func (cloud *fakeCloud) ListFirewalls(ctx context.Context, name string) ([]hcloud.Firewall, error) {
	cloud.mutex.Lock()
	defer cloud.mutex.Unlock()
	var matched []hcloud.Firewall
	for _, firewall := range cloud.firewalls {
		if firewall.Name == name {
			matched = append(matched, firewall)
		}
	}
	return matched, nil
}

// fakeExecutor answers SSH commands from a handler function and
// records every command it saw.
type fakeExecutor struct {
	mutex    sync.Mutex
	commands []string
	handle   func(command string) (*sshexec.Result, error)
}

func (executor *fakeExecutor) Execute(ctx context.Context, target sshexec.Target, command string) (*sshexec.Result, error) {
	executor.mutex.Lock()
	executor.commands = append(executor.commands, command)
	executor.mutex.Unlock()
	if executor.handle != nil {
		return executor.handle(command)
	}
	return &sshexec.Result{Stdout: "active\n"}, nil
}

func (executor *fakeExecutor) seen() []string {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	return append([]string(nil), executor.commands...)
}

// fakeInjector records injection parameters and optionally fails.
type fakeInjector struct {
	mutex  sync.Mutex
	calls  int
	params InjectParams

	// plaintext copies captured at call time, before the buffers are
	// wiped by the orchestrator's defers.
	credentials string
	botToken    string

	err error
}

func (injector *fakeInjector) Inject(ctx context.Context, params InjectParams) error {
	injector.mutex.Lock()
	defer injector.mutex.Unlock()
	injector.calls++
	injector.params = params
	injector.credentials = params.AssistantCredentials.String()
	injector.botToken = params.BotToken.String()
	return injector.err
}

// testBox builds a sealed.Box with a throwaway identity.
func testBox(t *testing.T) *sealed.Box {
	t.Helper()
	identity, _, err := sealed.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	t.Cleanup(func() { identity.Close() })
	box, err := sealed.NewBox(identity)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	return box
}

// seal encrypts a plaintext through the box, failing the test on
// error.
func seal(t *testing.T, box *sealed.Box, plaintext string) string {
	t.Helper()
	ciphertext, err := box.Seal([]byte(plaintext))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return ciphertext
}

// pendingRecord seeds a store record ready to provision.
func pendingRecord(t *testing.T, box *sealed.Box, tenantID string) *store.VMRecord {
	t.Helper()
	return &store.VMRecord{
		TenantID:                      tenantID,
		TenantEmail:                   tenantID + "@example.com",
		TenantName:                    "Tenant " + tenantID,
		OwnerUserID:                   "user-" + tenantID,
		SubscriptionStatus:            store.SubscriptionActive,
		ProvisioningStatus:            store.ProvisioningPending,
		AssistantCredentialsEncrypted: seal(t, box, `{"access":"tok"}`),
		BotTokenEncrypted:             seal(t, box, "bot-token-plain"),
	}
}

// serverOpts builds minimal server creation options for seeding the
// fake cloud.
func serverOpts(tenantID string) hcloud.ServerCreateOpts {
	return hcloud.ServerCreateOpts{
		Name:       "roost-" + tenantID,
		ServerType: "cpx21",
		Image:      "ubuntu-24.04",
		UserData:   "#cloud-config\n",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// mustBuffer wraps secret.NewFromBytes for test inputs.
func mustBuffer(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}
