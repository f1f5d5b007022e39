// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"time"

	"github.com/roost-sh/roost/lib/breaker"
)

// SubscriptionStatus is the billing state of a tenant. Provisioning
// requires Active.
type SubscriptionStatus string

const (
	SubscriptionNone        SubscriptionStatus = "none"
	SubscriptionActive      SubscriptionStatus = "active"
	SubscriptionGracePeriod SubscriptionStatus = "grace_period"
	SubscriptionCanceled    SubscriptionStatus = "canceled"
)

// ProvisioningStatus is the orchestrator's state machine position for
// a tenant VM.
type ProvisioningStatus string

const (
	ProvisioningPending          ProvisioningStatus = "pending"
	ProvisioningCreating         ProvisioningStatus = "creating"
	ProvisioningBootPending      ProvisioningStatus = "boot_pending"
	ProvisioningInjectingSecrets ProvisioningStatus = "injecting_secrets"
	ProvisioningReady            ProvisioningStatus = "ready"
	ProvisioningFailed           ProvisioningStatus = "failed"
)

// HealthStatus is the display projection of a tenant's circuit state
// and last check outcome.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthUnhealthy   HealthStatus = "unhealthy"
	HealthDown        HealthStatus = "down"
	HealthCircuitOpen HealthStatus = "circuit_open"
)

// VMRecord is the per-tenant VM state, one record per tenant, owned by
// the provisioning orchestrator. Encrypted fields hold sealed.Box
// ciphertext; nothing in this record is ever plaintext secret
// material.
type VMRecord struct {
	TenantID string `cbor:"tenant_id" json:"tenant_id"`

	// TenantEmail and TenantName feed tenant-facing notifications.
	TenantEmail string `cbor:"tenant_email" json:"tenant_email"`
	TenantName  string `cbor:"tenant_name" json:"tenant_name"`

	// OwnerUserID is the tenant's messaging-platform user id, stored
	// explicitly rather than derived from any other field.
	OwnerUserID string `cbor:"owner_user_id" json:"owner_user_id"`

	SubscriptionStatus SubscriptionStatus `cbor:"subscription_status" json:"subscription_status"`
	ProvisioningStatus ProvisioningStatus `cbor:"provisioning_status" json:"provisioning_status"`

	// Provider resource handles; zero means absent. Persisted the
	// moment the resource exists so cleanup can always find it.
	ProviderServerID int64 `cbor:"provider_server_id" json:"provider_server_id"`
	ProviderSSHKeyID int64 `cbor:"provider_ssh_key_id" json:"provider_ssh_key_id"`

	VMAddress     string `cbor:"vm_address" json:"vm_address"`
	VMHostname    string `cbor:"vm_hostname" json:"vm_hostname"`
	VMProvisioned bool   `cbor:"vm_provisioned" json:"vm_provisioned"`

	PrivateKeyEncrypted           string `cbor:"private_key_encrypted" json:"-"`
	AssistantCredentialsEncrypted string `cbor:"assistant_credentials_encrypted" json:"-"`
	BotTokenEncrypted             string `cbor:"bot_token_encrypted" json:"-"`

	// ProvisioningError is the last failure message, cleared when a
	// run reaches ready.
	ProvisioningError string `cbor:"provisioning_error" json:"provisioning_error,omitempty"`

	ProvisionedAt   *time.Time `cbor:"provisioned_at" json:"provisioned_at,omitempty"`
	DeprovisionedAt *time.Time `cbor:"deprovisioned_at" json:"deprovisioned_at,omitempty"`
}

// HealthRecord is the per-tenant health state, owned by the health
// monitor. Created on the first check, updated every sweep, never
// deleted by the monitor itself.
type HealthRecord struct {
	TenantID string `cbor:"tenant_id" json:"tenant_id"`

	Status HealthStatus `cbor:"status" json:"status"`

	ConsecutiveFailures int             `cbor:"consecutive_failures" json:"consecutive_failures"`
	CircuitState        breaker.Circuit `cbor:"circuit_state" json:"circuit_state"`
	CircuitOpenedAt     *time.Time      `cbor:"circuit_opened_at" json:"circuit_opened_at,omitempty"`

	LastCheckAt          *time.Time `cbor:"last_check_at" json:"last_check_at,omitempty"`
	LastHealthyAt        *time.Time `cbor:"last_healthy_at" json:"last_healthy_at,omitempty"`
	LastFailureAt        *time.Time `cbor:"last_failure_at" json:"last_failure_at,omitempty"`
	LastRestartAttemptAt *time.Time `cbor:"last_restart_attempt_at" json:"last_restart_attempt_at,omitempty"`

	// Notification suppression bookkeeping.
	LastNotifiedDownAt *time.Time `cbor:"last_notified_down_at" json:"last_notified_down_at,omitempty"`
	LastNotifiedUpAt   *time.Time `cbor:"last_notified_up_at" json:"last_notified_up_at,omitempty"`

	LastError string `cbor:"last_error" json:"last_error,omitempty"`

	TotalChecks     int64 `cbor:"total_checks" json:"total_checks"`
	TotalFailures   int64 `cbor:"total_failures" json:"total_failures"`
	TotalRecoveries int64 `cbor:"total_recoveries" json:"total_recoveries"`
}

// BreakerState returns the record's breaker fields as a breaker.State
// for the pure transition functions.
func (record *HealthRecord) BreakerState() breaker.State {
	state := breaker.State{
		Circuit:             record.CircuitState,
		ConsecutiveFailures: record.ConsecutiveFailures,
		OpenedAt:            record.CircuitOpenedAt,
	}
	if state.Circuit == "" {
		state.Circuit = breaker.Closed
	}
	return state
}

// ApplyBreakerState writes a breaker.State back onto the record.
func (record *HealthRecord) ApplyBreakerState(state breaker.State) {
	record.CircuitState = state.Circuit
	record.ConsecutiveFailures = state.ConsecutiveFailures
	record.CircuitOpenedAt = state.OpenedAt
}
