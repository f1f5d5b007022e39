// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketVMs    = []byte("vms")
	bucketHealth = []byte("health")
)

// BoltStore is a single-file Store backed by bbolt. Records are CBOR
// encoded; per-key atomicity comes from bolt's serialized write
// transactions.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the database file and ensures
// the record buckets exist.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketVMs, bucketHealth} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing store %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file.
func (boltStore *BoltStore) Close() error {
	return boltStore.db.Close()
}

func putRecord(tx *bolt.Tx, bucket []byte, key string, record any) error {
	encoded, err := cbor.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", key, err)
	}
	return tx.Bucket(bucket).Put([]byte(key), encoded)
}

func getRecord(tx *bolt.Tx, bucket []byte, key string, record any) error {
	encoded := tx.Bucket(bucket).Get([]byte(key))
	if encoded == nil {
		return ErrNotFound
	}
	if err := cbor.Unmarshal(encoded, record); err != nil {
		return fmt.Errorf("decoding record %s: %w", key, err)
	}
	return nil
}

func (boltStore *BoltStore) UpsertVM(ctx context.Context, record *VMRecord) error {
	return boltStore.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx, bucketVMs, record.TenantID, record)
	})
}

func (boltStore *BoltStore) FindVM(ctx context.Context, tenantID string) (*VMRecord, error) {
	var record VMRecord
	err := boltStore.db.View(func(tx *bolt.Tx) error {
		return getRecord(tx, bucketVMs, tenantID, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (boltStore *BoltStore) UpdateVM(ctx context.Context, tenantID string, mutate func(*VMRecord) error) (*VMRecord, error) {
	var record VMRecord
	err := boltStore.db.Update(func(tx *bolt.Tx) error {
		if err := getRecord(tx, bucketVMs, tenantID, &record); err != nil {
			return err
		}
		if err := mutate(&record); err != nil {
			return err
		}
		return putRecord(tx, bucketVMs, tenantID, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (boltStore *BoltStore) ListActiveVMs(ctx context.Context) ([]*VMRecord, error) {
	var active []*VMRecord
	err := boltStore.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVMs).ForEach(func(key, encoded []byte) error {
			var record VMRecord
			if err := cbor.Unmarshal(encoded, &record); err != nil {
				return fmt.Errorf("decoding record %s: %w", key, err)
			}
			if sweepEligible(&record) {
				active = append(active, &record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return active, nil
}

func (boltStore *BoltStore) UpsertHealth(ctx context.Context, record *HealthRecord) error {
	return boltStore.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx, bucketHealth, record.TenantID, record)
	})
}

func (boltStore *BoltStore) FindHealth(ctx context.Context, tenantID string) (*HealthRecord, error) {
	var record HealthRecord
	err := boltStore.db.View(func(tx *bolt.Tx) error {
		return getRecord(tx, bucketHealth, tenantID, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}
