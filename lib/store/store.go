// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Find operations when no record exists for
// the tenant.
var ErrNotFound = errors.New("record not found")

// Store is the persistence contract shared by the orchestrator, the
// health monitor, and the control plane. All operations are keyed by
// tenant id; writes have insert-or-update semantics and are atomic per
// key, so concurrent writers never observe a torn record.
type Store interface {
	// UpsertVM writes the record, replacing any existing record for
	// the same tenant.
	UpsertVM(ctx context.Context, record *VMRecord) error

	// FindVM returns the record for the tenant, or ErrNotFound.
	FindVM(ctx context.Context, tenantID string) (*VMRecord, error)

	// UpdateVM applies mutate to the current record under the store's
	// per-key write lock and persists the result. The callback
	// receives a private copy; returning an error abandons the write.
	UpdateVM(ctx context.Context, tenantID string, mutate func(*VMRecord) error) (*VMRecord, error)

	// ListActiveVMs returns every record with an active subscription
	// and a provisioned, ready VM — the health sweep's working set.
	ListActiveVMs(ctx context.Context) ([]*VMRecord, error)

	// UpsertHealth writes the health record, replacing any existing
	// record for the same tenant.
	UpsertHealth(ctx context.Context, record *HealthRecord) error

	// FindHealth returns the health record for the tenant, or
	// ErrNotFound.
	FindHealth(ctx context.Context, tenantID string) (*HealthRecord, error)
}

// sweepEligible reports whether a record belongs in the health sweep's
// working set.
func sweepEligible(record *VMRecord) bool {
	return record.SubscriptionStatus == SubscriptionActive &&
		record.VMProvisioned &&
		record.ProvisioningStatus == ProvisioningReady
}
