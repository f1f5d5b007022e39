// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roost-sh/roost/lib/bootconfig"
	"github.com/roost-sh/roost/lib/clock"
	"github.com/roost-sh/roost/lib/hcloud"
	"github.com/roost-sh/roost/lib/sealed"
	"github.com/roost-sh/roost/lib/sshkey"
	"github.com/roost-sh/roost/lib/store"
)

// CloudAPI is the slice of the provider client the provisioning flow
// uses.
type CloudAPI interface {
	CreateServer(ctx context.Context, opts hcloud.ServerCreateOpts) (*hcloud.ServerCreateResult, error)
	DeleteServer(ctx context.Context, serverID int64) error
	CreateSSHKey(ctx context.Context, name, publicKey string, labels map[string]string) (*hcloud.SSHKey, error)
	DeleteSSHKey(ctx context.Context, keyID int64) error
	CreateFirewall(ctx context.Context, opts hcloud.FirewallCreateOpts) (*hcloud.Firewall, error)
	ListFirewalls(ctx context.Context, name string) ([]hcloud.Firewall, error)
}

const (
	defaultBootDeadline     = 10 * time.Minute
	defaultBootPollInterval = 5 * time.Second
	defaultSoftSLA          = 15 * time.Minute
	defaultFirewallName     = "roost-ssh"
	defaultServerType       = "cpx21"
	defaultImage            = "ubuntu-24.04"
)

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	Cloud         CloudAPI
	Store         store.Store
	Box           *sealed.Box
	BootConfig    *bootconfig.Builder
	Injector      SecretInjector
	Deprovisioner *Deprovisioner
	Clock         clock.Clock
	Logger        *slog.Logger

	// ServerType, Image, and Location select the provider resources
	// for new VMs.
	ServerType string
	Image      string
	Location   string

	// FirewallName is the shared SSH-only firewall resolved or
	// created at provisioning time.
	FirewallName string

	// BootDeadline bounds the wait for the first-boot callback;
	// expiry fails the run. BootPollInterval is the coarse fallback
	// poll of the persisted record during that wait.
	BootDeadline     time.Duration
	BootPollInterval time.Duration

	// SoftSLA is the target duration for a full run; overrunning it
	// logs a warning but never cancels the run.
	SoftSLA time.Duration
}

// Orchestrator drives provisioning runs. Runs are asynchronous and
// per-tenant exclusive: a second Provision call for a tenant whose run
// is still in flight is rejected.
type Orchestrator struct {
	cloud         CloudAPI
	store         store.Store
	box           *sealed.Box
	bootConfig    *bootconfig.Builder
	injector      SecretInjector
	deprovisioner *Deprovisioner
	clock         clock.Clock
	logger        *slog.Logger

	serverType   string
	image        string
	location     string
	firewallName string

	bootDeadline     time.Duration
	bootPollInterval time.Duration
	softSLA          time.Duration

	mutex    sync.Mutex
	inFlight map[string]bool
	waiters  map[string]chan struct{}
}

// NewOrchestrator validates the config and returns an Orchestrator.
func NewOrchestrator(config OrchestratorConfig) (*Orchestrator, error) {
	if config.Cloud == nil || config.Store == nil || config.Box == nil ||
		config.BootConfig == nil || config.Injector == nil || config.Deprovisioner == nil {
		return nil, fmt.Errorf("provision: orchestrator requires cloud, store, box, boot config, injector, and deprovisioner")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ServerType == "" {
		config.ServerType = defaultServerType
	}
	if config.Image == "" {
		config.Image = defaultImage
	}
	if config.FirewallName == "" {
		config.FirewallName = defaultFirewallName
	}
	if config.BootDeadline == 0 {
		config.BootDeadline = defaultBootDeadline
	}
	if config.BootPollInterval == 0 {
		config.BootPollInterval = defaultBootPollInterval
	}
	if config.SoftSLA == 0 {
		config.SoftSLA = defaultSoftSLA
	}
	return &Orchestrator{
		cloud:            config.Cloud,
		store:            config.Store,
		box:              config.Box,
		bootConfig:       config.BootConfig,
		injector:         config.Injector,
		deprovisioner:    config.Deprovisioner,
		clock:            config.Clock,
		logger:           config.Logger,
		serverType:       config.ServerType,
		image:            config.Image,
		location:         config.Location,
		firewallName:     config.FirewallName,
		bootDeadline:     config.BootDeadline,
		bootPollInterval: config.BootPollInterval,
		softSLA:          config.SoftSLA,
		inFlight:         make(map[string]bool),
		waiters:          make(map[string]chan struct{}),
	}, nil
}

// serverName is the provider-side name for a tenant's VM and its SSH
// key.
func serverName(tenantID string) string { return "roost-" + tenantID }

// Provision runs the full provisioning flow for one tenant. Any
// failure routes through resource cleanup and a terminal failed
// status. The error return mirrors what was persisted, for callers
// that run synchronously.
func (orchestrator *Orchestrator) Provision(ctx context.Context, tenantID string) error {
	orchestrator.mutex.Lock()
	if orchestrator.inFlight[tenantID] {
		orchestrator.mutex.Unlock()
		return fmt.Errorf("provision: run already in flight for %s", tenantID)
	}
	orchestrator.inFlight[tenantID] = true
	orchestrator.mutex.Unlock()
	defer func() {
		orchestrator.mutex.Lock()
		delete(orchestrator.inFlight, tenantID)
		delete(orchestrator.waiters, tenantID)
		orchestrator.mutex.Unlock()
	}()

	runID := uuid.NewString()
	orchestrator.logger.Info("provisioning started", "tenant_id", tenantID, "run_id", runID)

	started := orchestrator.clock.Now()
	err := orchestrator.run(ctx, tenantID)
	elapsed := orchestrator.clock.Now().Sub(started)
	if elapsed > orchestrator.softSLA {
		orchestrator.logger.Warn("provisioning overran soft SLA",
			"tenant_id", tenantID,
			"run_id", runID,
			"elapsed", elapsed,
			"sla", orchestrator.softSLA,
		)
	}

	if err != nil {
		orchestrator.fail(ctx, tenantID, err)
		orchestrator.logger.Error("provisioning failed",
			"tenant_id", tenantID,
			"run_id", runID,
			"elapsed", elapsed,
			"error", err,
		)
		return err
	}
	orchestrator.logger.Info("provisioning complete",
		"tenant_id", tenantID,
		"run_id", runID,
		"elapsed", elapsed,
	)
	return nil
}

// run executes provisioning steps 1-5; the caller owns failure
// handling.
func (orchestrator *Orchestrator) run(ctx context.Context, tenantID string) error {
	record, err := orchestrator.store.FindVM(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("loading record: %w", err)
	}

	// Preconditions: active subscription and decryptable upstream
	// credentials. The decrypted copies stay in locked buffers until
	// injection and are wiped on every exit path.
	if record.SubscriptionStatus != store.SubscriptionActive {
		return fmt.Errorf("subscription is %s, provisioning requires active", record.SubscriptionStatus)
	}
	if record.AssistantCredentialsEncrypted == "" || record.BotTokenEncrypted == "" {
		return fmt.Errorf("tenant credentials are missing")
	}
	assistantCredentials, err := orchestrator.box.Open(record.AssistantCredentialsEncrypted)
	if err != nil {
		return fmt.Errorf("decrypting assistant credentials: %w", err)
	}
	defer assistantCredentials.Close()
	botToken, err := orchestrator.box.Open(record.BotTokenEncrypted)
	if err != nil {
		return fmt.Errorf("decrypting bot token: %w", err)
	}
	defer botToken.Close()

	if _, err := orchestrator.setStatus(ctx, tenantID, store.ProvisioningCreating); err != nil {
		return err
	}

	// Fresh key pair per attempt; the private half is persisted
	// encrypted together with the provider key id before anything
	// else can fail, so cleanup can always find the key.
	pair, err := sshkey.Generate()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}
	defer pair.PrivateKeyPEM.Close()

	uploadedKey, err := orchestrator.cloud.CreateSSHKey(ctx, serverName(tenantID), pair.AuthorizedKey,
		map[string]string{"roost-tenant": tenantID})
	if err != nil {
		return fmt.Errorf("uploading ssh key: %w", err)
	}
	privateKeyEncrypted, err := orchestrator.box.Seal(pair.PrivateKeyPEM.Bytes())
	if err != nil {
		return fmt.Errorf("encrypting private key: %w", err)
	}
	_, err = orchestrator.store.UpdateVM(ctx, tenantID, func(record *store.VMRecord) error {
		record.ProviderSSHKeyID = uploadedKey.ID
		record.PrivateKeyEncrypted = privateKeyEncrypted
		return nil
	})
	if err != nil {
		return fmt.Errorf("persisting ssh key handle: %w", err)
	}

	firewallID, err := orchestrator.resolveFirewall(ctx)
	if err != nil {
		return fmt.Errorf("resolving firewall: %w", err)
	}

	hostname := serverName(tenantID)
	userData, err := orchestrator.bootConfig.Build(bootconfig.Instance{
		TenantID:      tenantID,
		Hostname:      hostname,
		AuthorizedKey: pair.AuthorizedKey,
	})
	if err != nil {
		return fmt.Errorf("building boot configuration: %w", err)
	}

	// Register the boot waiter before the server exists so the
	// callback can never race past us.
	waiter := orchestrator.registerWaiter(tenantID)

	created, err := orchestrator.cloud.CreateServer(ctx, hcloud.ServerCreateOpts{
		Name:       hostname,
		ServerType: orchestrator.serverType,
		Image:      orchestrator.image,
		Location:   orchestrator.location,
		SSHKeys:    []int64{uploadedKey.ID},
		Firewalls:  []hcloud.FirewallRef{{Firewall: firewallID}},
		UserData:   userData,
		Labels:     map[string]string{"roost-tenant": tenantID},
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Persist the server handle and network identity before any
	// further fallible step.
	_, err = orchestrator.store.UpdateVM(ctx, tenantID, func(record *store.VMRecord) error {
		record.ProviderServerID = created.Server.ID
		record.VMAddress = created.Server.PublicNet.IPv4.IP
		record.VMHostname = hostname
		record.ProvisioningStatus = store.ProvisioningBootPending
		return nil
	})
	if err != nil {
		return fmt.Errorf("persisting server handle: %w", err)
	}

	orchestrator.logger.Info("server created, waiting for first boot",
		"tenant_id", tenantID,
		"server_id", created.Server.ID,
		"address", created.Server.PublicNet.IPv4.IP,
	)

	if err := orchestrator.waitForBoot(ctx, tenantID, waiter); err != nil {
		return err
	}

	privateKey, err := orchestrator.box.Open(privateKeyEncrypted)
	if err != nil {
		return fmt.Errorf("decrypting private key: %w", err)
	}
	defer privateKey.Close()

	err = orchestrator.injector.Inject(ctx, InjectParams{
		Host:                 created.Server.PublicNet.IPv4.IP,
		PrivateKey:           privateKey,
		AssistantCredentials: assistantCredentials,
		BotToken:             botToken,
	})
	if err != nil {
		return err
	}

	now := orchestrator.clock.Now()
	_, err = orchestrator.store.UpdateVM(ctx, tenantID, func(record *store.VMRecord) error {
		record.ProvisioningStatus = store.ProvisioningReady
		record.VMProvisioned = true
		record.ProvisioningError = ""
		record.ProvisionedAt = &now
		record.DeprovisionedAt = nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("persisting ready state: %w", err)
	}

	orchestrator.logger.Info("tenant provisioned", "tenant_id", tenantID, "address", created.Server.PublicNet.IPv4.IP)
	return nil
}

// SignalBoot is called by the control plane when the VM's first-boot
// callback arrives. It advances creating/boot_pending to
// injecting_secrets and wakes the waiting run. Calls after the status
// has already advanced are a no-op success.
func (orchestrator *Orchestrator) SignalBoot(ctx context.Context, tenantID, hostname string) error {
	advanced := false
	_, err := orchestrator.store.UpdateVM(ctx, tenantID, func(record *store.VMRecord) error {
		switch record.ProvisioningStatus {
		case store.ProvisioningCreating, store.ProvisioningBootPending:
			record.ProvisioningStatus = store.ProvisioningInjectingSecrets
			if record.VMHostname == "" {
				record.VMHostname = hostname
			}
			advanced = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording boot callback for %s: %w", tenantID, err)
	}

	if advanced {
		orchestrator.logger.Info("boot callback received", "tenant_id", tenantID, "hostname", hostname)
	}

	orchestrator.mutex.Lock()
	if waiter, ok := orchestrator.waiters[tenantID]; ok {
		select {
		case waiter <- struct{}{}:
		default:
		}
	}
	orchestrator.mutex.Unlock()
	return nil
}

// registerWaiter creates the boot signal channel for a tenant.
func (orchestrator *Orchestrator) registerWaiter(tenantID string) chan struct{} {
	waiter := make(chan struct{}, 1)
	orchestrator.mutex.Lock()
	orchestrator.waiters[tenantID] = waiter
	orchestrator.mutex.Unlock()
	return waiter
}

// waitForBoot blocks until the boot callback arrives, the persisted
// record advances or fails externally, or the deadline expires. The
// coarse record poll backs up the channel so an externally persisted
// transition is still honored.
func (orchestrator *Orchestrator) waitForBoot(ctx context.Context, tenantID string, waiter <-chan struct{}) error {
	deadline := orchestrator.clock.After(orchestrator.bootDeadline)
	for {
		select {
		case <-waiter:
			return nil
		case <-deadline:
			return fmt.Errorf("first-boot callback did not arrive within %s", orchestrator.bootDeadline)
		case <-ctx.Done():
			return ctx.Err()
		case <-orchestrator.clock.After(orchestrator.bootPollInterval):
			record, err := orchestrator.store.FindVM(ctx, tenantID)
			if err != nil {
				return fmt.Errorf("polling record during boot wait: %w", err)
			}
			switch record.ProvisioningStatus {
			case store.ProvisioningInjectingSecrets:
				return nil
			case store.ProvisioningFailed:
				// Fail fast instead of polling a doomed VM.
				return fmt.Errorf("record was marked failed during boot wait: %s", record.ProvisioningError)
			}
		}
	}
}

// resolveFirewall finds the shared SSH-only firewall, creating it on
// first use.
func (orchestrator *Orchestrator) resolveFirewall(ctx context.Context) (int64, error) {
	existing, err := orchestrator.cloud.ListFirewalls(ctx, orchestrator.firewallName)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return existing[0].ID, nil
	}

	created, err := orchestrator.cloud.CreateFirewall(ctx, hcloud.FirewallCreateOpts{
		Name: orchestrator.firewallName,
		Rules: []hcloud.FirewallRule{{
			Direction: "in",
			Protocol:  "tcp",
			Port:      "22",
			SourceIPs: []string{"0.0.0.0/0", "::/0"},
		}},
		Labels: map[string]string{"roost": "shared"},
	})
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}

// setStatus persists a bare status transition.
func (orchestrator *Orchestrator) setStatus(ctx context.Context, tenantID string, status store.ProvisioningStatus) (*store.VMRecord, error) {
	record, err := orchestrator.store.UpdateVM(ctx, tenantID, func(record *store.VMRecord) error {
		record.ProvisioningStatus = status
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persisting status %s: %w", status, err)
	}
	return record, nil
}

// fail routes a broken run through cleanup and persists the terminal
// failed state. Cleanup consults only persisted handles, which is why
// every resource is persisted the moment it exists.
func (orchestrator *Orchestrator) fail(ctx context.Context, tenantID string, cause error) {
	orchestrator.logger.Error("provisioning failed",
		"tenant_id", tenantID,
		"error", cause,
	)

	if err := orchestrator.deprovisioner.Deprovision(ctx, tenantID); err != nil {
		orchestrator.logger.Error("cleanup after failed provisioning",
			"tenant_id", tenantID,
			"error", err,
		)
	}

	_, err := orchestrator.store.UpdateVM(ctx, tenantID, func(record *store.VMRecord) error {
		record.ProvisioningStatus = store.ProvisioningFailed
		record.ProvisioningError = cause.Error()
		record.VMProvisioned = false
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		orchestrator.logger.Error("persisting failed state",
			"tenant_id", tenantID,
			"error", err,
		)
	}
}
