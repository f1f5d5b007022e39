// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store for tests and single-process
// embedding. All records are copied on the way in and out so callers
// never share memory with the store.
type MemStore struct {
	mutex   sync.Mutex
	vms     map[string]VMRecord
	healths map[string]HealthRecord
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		vms:     make(map[string]VMRecord),
		healths: make(map[string]HealthRecord),
	}
}

func (memStore *MemStore) UpsertVM(ctx context.Context, record *VMRecord) error {
	memStore.mutex.Lock()
	defer memStore.mutex.Unlock()
	memStore.vms[record.TenantID] = *record
	return nil
}

func (memStore *MemStore) FindVM(ctx context.Context, tenantID string) (*VMRecord, error) {
	memStore.mutex.Lock()
	defer memStore.mutex.Unlock()
	record, ok := memStore.vms[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (memStore *MemStore) UpdateVM(ctx context.Context, tenantID string, mutate func(*VMRecord) error) (*VMRecord, error) {
	memStore.mutex.Lock()
	defer memStore.mutex.Unlock()
	record, ok := memStore.vms[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := mutate(&record); err != nil {
		return nil, err
	}
	memStore.vms[tenantID] = record
	result := record
	return &result, nil
}

func (memStore *MemStore) ListActiveVMs(ctx context.Context) ([]*VMRecord, error) {
	memStore.mutex.Lock()
	defer memStore.mutex.Unlock()
	var active []*VMRecord
	for _, record := range memStore.vms {
		if sweepEligible(&record) {
			copied := record
			active = append(active, &copied)
		}
	}
	// Map iteration order is random; stable output keeps sweeps and
	// tests deterministic.
	sort.Slice(active, func(i, j int) bool { return active[i].TenantID < active[j].TenantID })
	return active, nil
}

func (memStore *MemStore) UpsertHealth(ctx context.Context, record *HealthRecord) error {
	memStore.mutex.Lock()
	defer memStore.mutex.Unlock()
	memStore.healths[record.TenantID] = *record
	return nil
}

func (memStore *MemStore) FindHealth(ctx context.Context, tenantID string) (*HealthRecord, error) {
	memStore.mutex.Lock()
	defer memStore.mutex.Unlock()
	record, ok := memStore.healths[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}
