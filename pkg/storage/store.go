// Package storage defines the durable record store underneath the entry store
// and the request queue. Backends persist two record kinds: cache entries
// (metadata plus payload, written in one transaction) and queued operations.
//
// Backends contain no business logic. Staleness, eviction order, dedup and
// backoff all live above this layer.
package storage

import (
	"context"
	"time"
)

// Backend names accepted in configuration.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// EntryRecord is the persisted form of a cache entry. Payload holds the bytes
// exactly as stored (ciphertext when Encrypted is set).
type EntryRecord struct {
	Key             string        `json:"key"`
	Category        string        `json:"category"`
	Payload         []byte        `json:"-"`
	Priority        int           `json:"priority"`
	FreshnessWindow time.Duration `json:"freshness_window"`
	CreatedAt       time.Time     `json:"created_at"`
	LastSyncedAt    time.Time     `json:"last_synced_at"`
	Encrypted       bool          `json:"encrypted"`
	SizeBytes       int64         `json:"size_bytes"`
}

// Clone returns a deep copy of the record.
func (r *EntryRecord) Clone() *EntryRecord {
	c := *r
	if r.Payload != nil {
		c.Payload = append([]byte(nil), r.Payload...)
	}
	return &c
}

// OperationRecord is the persisted form of a queued operation.
type OperationRecord struct {
	ID            uint64    `json:"id"`
	Kind          string    `json:"kind"`
	TargetKey     string    `json:"target_key,omitempty"`
	Category      string    `json:"category"`
	AttemptCount  int       `json:"attempt_count"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	Status        string    `json:"status"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Since         time.Time `json:"since,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Clone returns a copy of the record.
func (r *OperationRecord) Clone() *OperationRecord {
	c := *r
	return &c
}

// Store is implemented by every backend.
//
// Thread Safety: implementations must be safe for concurrent use. Per-key
// serialization is the caller's job; a backend only guarantees that a single
// call is atomic.
type Store interface {
	// PutEntry upserts an entry's metadata and payload in one transaction.
	PutEntry(ctx context.Context, rec *EntryRecord) error

	// GetEntry returns the entry with its payload. Absent keys return an
	// error with code ErrNotFound.
	GetEntry(ctx context.Context, key string) (*EntryRecord, error)

	// DeleteEntry removes an entry. Deleting an absent key is not an error.
	DeleteEntry(ctx context.Context, key string) error

	// ScanEntries calls fn with the metadata of every entry (Payload is nil).
	// Iteration stops at the first error fn returns.
	ScanEntries(ctx context.Context, fn func(*EntryRecord) error) error

	// NextOperationID returns a durable, strictly increasing operation id.
	NextOperationID(ctx context.Context) (uint64, error)

	// PutOperation upserts a queued operation.
	PutOperation(ctx context.Context, op *OperationRecord) error

	// DeleteOperation removes an operation. Absent ids are not an error.
	DeleteOperation(ctx context.Context, id uint64) error

	// ListOperations returns all operations ordered by ascending id.
	ListOperations(ctx context.Context) ([]*OperationRecord, error)

	// Healthcheck verifies the backend can serve requests.
	Healthcheck(ctx context.Context) error

	// Close flushes and releases the backend.
	Close() error
}
