// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roost-sh/roost/lib/clock"
	"github.com/roost-sh/roost/lib/hcloud"
	"github.com/roost-sh/roost/lib/store"
)

// Deprovisioner releases a tenant's provider resources and reconciles
// the persisted record. It is idempotent: calling it twice, or with
// partially created state, converges on the same record and never
// fails because a resource is already gone.
type Deprovisioner struct {
	cloud  CloudAPI
	store  store.Store
	clock  clock.Clock
	logger *slog.Logger
}

// DeprovisionerConfig configures a Deprovisioner.
type DeprovisionerConfig struct {
	Cloud  CloudAPI
	Store  store.Store
	Clock  clock.Clock
	Logger *slog.Logger
}

// NewDeprovisioner validates the config and returns a Deprovisioner.
func NewDeprovisioner(config DeprovisionerConfig) (*Deprovisioner, error) {
	if config.Cloud == nil || config.Store == nil {
		return nil, fmt.Errorf("provision: deprovisioner cloud and store are required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Deprovisioner{
		cloud:  config.Cloud,
		store:  config.Store,
		clock:  config.Clock,
		logger: config.Logger,
	}, nil
}

// Deprovision tears down the tenant's VM. Provider-side failures are
// logged and skipped; the record is always reconciled to unprovisioned
// so it can never point at resources that may or may not exist.
func (deprovisioner *Deprovisioner) Deprovision(ctx context.Context, tenantID string) error {
	record, err := deprovisioner.store.FindVM(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		deprovisioner.logger.Warn("deprovision for unknown tenant", "tenant_id", tenantID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading record for %s: %w", tenantID, err)
	}

	if record.ProviderServerID == 0 && record.ProviderSSHKeyID == 0 && !record.VMProvisioned {
		deprovisioner.logger.Warn("deprovision with no provisioned resources", "tenant_id", tenantID)
		return nil
	}

	deprovisioner.releaseServer(ctx, record)
	deprovisioner.releaseSSHKey(ctx, record)

	now := deprovisioner.clock.Now()
	_, err = deprovisioner.store.UpdateVM(ctx, tenantID, func(record *store.VMRecord) error {
		record.ProviderServerID = 0
		record.ProviderSSHKeyID = 0
		record.VMAddress = ""
		record.VMHostname = ""
		record.VMProvisioned = false
		record.PrivateKeyEncrypted = ""
		if record.ProvisioningStatus == store.ProvisioningReady {
			record.ProvisioningStatus = store.ProvisioningPending
		}
		record.DeprovisionedAt = &now
		return nil
	})
	if err != nil {
		return fmt.Errorf("reconciling record for %s: %w", tenantID, err)
	}

	deprovisioner.logger.Info("tenant deprovisioned", "tenant_id", tenantID)
	return nil
}

func (deprovisioner *Deprovisioner) releaseServer(ctx context.Context, record *store.VMRecord) {
	if record.ProviderServerID == 0 {
		return
	}
	err := deprovisioner.cloud.DeleteServer(ctx, record.ProviderServerID)
	switch {
	case err == nil:
		deprovisioner.logger.Info("server deleted",
			"tenant_id", record.TenantID,
			"server_id", record.ProviderServerID,
		)
	case hcloud.IsNotFound(err):
		deprovisioner.logger.Info("server already absent",
			"tenant_id", record.TenantID,
			"server_id", record.ProviderServerID,
		)
	default:
		deprovisioner.logger.Error("deleting server",
			"tenant_id", record.TenantID,
			"server_id", record.ProviderServerID,
			"error", err,
		)
	}
}

func (deprovisioner *Deprovisioner) releaseSSHKey(ctx context.Context, record *store.VMRecord) {
	if record.ProviderSSHKeyID == 0 {
		return
	}
	err := deprovisioner.cloud.DeleteSSHKey(ctx, record.ProviderSSHKeyID)
	switch {
	case err == nil:
		deprovisioner.logger.Info("ssh key deleted",
			"tenant_id", record.TenantID,
			"ssh_key_id", record.ProviderSSHKeyID,
		)
	case hcloud.IsNotFound(err):
		deprovisioner.logger.Info("ssh key already absent",
			"tenant_id", record.TenantID,
			"ssh_key_id", record.ProviderSSHKeyID,
		)
	default:
		deprovisioner.logger.Error("deleting ssh key",
			"tenant_id", record.TenantID,
			"ssh_key_id", record.ProviderSSHKeyID,
			"error", err,
		)
	}
}
