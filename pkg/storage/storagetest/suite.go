// Package storagetest is a conformance suite every storage backend must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agerrors "github.com/marmos91/agrisync/pkg/errors"
	"github.com/marmos91/agrisync/pkg/storage"
)

// StoreFactory creates a fresh Store for each test. It may use t.TempDir()
// and t.Cleanup() for backends that need a filesystem path.
type StoreFactory func(t *testing.T) storage.Store

// OpenFunc opens a store rooted at dir. Calling it twice with the same dir
// must reopen the same data.
type OpenFunc func(t *testing.T, dir string) storage.Store

// RunConformanceSuite runs the backend-independent behavior checks.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("Entries", func(t *testing.T) { runEntryTests(t, factory) })
	t.Run("Operations", func(t *testing.T) { runOperationTests(t, factory) })
	t.Run("Healthcheck", func(t *testing.T) {
		s := factory(t)
		assert.NoError(t, s.Healthcheck(context.Background()))
	})
}

// RunDurabilitySuite checks that entries, operations and the id sequence
// survive a close and reopen.
func RunDurabilitySuite(t *testing.T, open OpenFunc) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	s := open(t, dir)
	rec := sampleEntry("scheme:pm-kisan", "scheme", []byte("eligibility rules"))
	require.NoError(t, s.PutEntry(ctx, rec))

	var lastID uint64
	for i := 0; i < 3; i++ {
		id, err := s.NextOperationID(ctx)
		require.NoError(t, err)
		lastID = id
	}
	require.NoError(t, s.PutOperation(ctx, sampleOp(lastID, "price:onion/nashik")))
	require.NoError(t, s.Close())

	s = open(t, dir)
	defer func() { _ = s.Close() }()

	got, err := s.GetEntry(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, rec.Payload, got.Payload)

	ops, err := s.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, lastID, ops[0].ID)

	next, err := s.NextOperationID(ctx)
	require.NoError(t, err)
	assert.Greater(t, next, lastID, "operation ids must keep increasing across restarts")
}

func sampleEntry(key, category string, payload []byte) *storage.EntryRecord {
	now := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	return &storage.EntryRecord{
		Key:             key,
		Category:        category,
		Payload:         payload,
		Priority:        40,
		FreshnessWindow: 24 * time.Hour,
		CreatedAt:       now.Add(-time.Hour),
		LastSyncedAt:    now,
		SizeBytes:       int64(len(payload)),
	}
}

func sampleOp(id uint64, key string) *storage.OperationRecord {
	now := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	return &storage.OperationRecord{
		ID:            id,
		Kind:          "fetch",
		TargetKey:     key,
		Category:      "price",
		Status:        "pending",
		EnqueuedAt:    now,
		NextAttemptAt: now,
	}
}

func runEntryTests(t *testing.T, factory StoreFactory) {
	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		rec := sampleEntry("price:onion/nashik", "price", []byte(`{"modal":2150}`))
		rec.Encrypted = true
		require.NoError(t, s.PutEntry(ctx, rec))

		got, err := s.GetEntry(ctx, rec.Key)
		require.NoError(t, err)
		assert.Equal(t, rec.Key, got.Key)
		assert.Equal(t, rec.Category, got.Category)
		assert.Equal(t, rec.Payload, got.Payload)
		assert.Equal(t, rec.Priority, got.Priority)
		assert.Equal(t, rec.FreshnessWindow, got.FreshnessWindow)
		assert.True(t, rec.LastSyncedAt.Equal(got.LastSyncedAt))
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
		assert.True(t, got.Encrypted)
		assert.Equal(t, rec.SizeBytes, got.SizeBytes)
	})

	t.Run("GetAbsentIsNotFound", func(t *testing.T) {
		s := factory(t)
		_, err := s.GetEntry(context.Background(), "weather:nowhere")
		require.Error(t, err)
		assert.True(t, agerrors.IsNotFoundError(err))
	})

	t.Run("PutIsUpsert", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		require.NoError(t, s.PutEntry(ctx, sampleEntry("advice:wheat", "advice", []byte("v1"))))
		rec := sampleEntry("advice:wheat", "advice", []byte("version two"))
		rec.Priority = 5
		require.NoError(t, s.PutEntry(ctx, rec))

		got, err := s.GetEntry(ctx, "advice:wheat")
		require.NoError(t, err)
		assert.Equal(t, []byte("version two"), got.Payload)
		assert.Equal(t, 5, got.Priority)

		count := 0
		require.NoError(t, s.ScanEntries(ctx, func(*storage.EntryRecord) error { count++; return nil }))
		assert.Equal(t, 1, count)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		require.NoError(t, s.PutEntry(ctx, sampleEntry("weather:pune", "weather", []byte("28C"))))
		require.NoError(t, s.DeleteEntry(ctx, "weather:pune"))
		require.NoError(t, s.DeleteEntry(ctx, "weather:pune"))
		_, err := s.GetEntry(ctx, "weather:pune")
		assert.True(t, agerrors.IsNotFoundError(err))
	})

	t.Run("ScanReturnsMetadataOnly", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			key := fmt.Sprintf("price:crop-%d", i)
			require.NoError(t, s.PutEntry(ctx, sampleEntry(key, "price", []byte("payload"))))
		}

		seen := map[string]bool{}
		require.NoError(t, s.ScanEntries(ctx, func(r *storage.EntryRecord) error {
			assert.Nil(t, r.Payload)
			assert.Equal(t, int64(len("payload")), r.SizeBytes)
			seen[r.Key] = true
			return nil
		}))
		assert.Len(t, seen, 5)
	})

	t.Run("ScanStopsOnCallbackError", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		require.NoError(t, s.PutEntry(ctx, sampleEntry("scheme:a", "scheme", []byte("a"))))
		require.NoError(t, s.PutEntry(ctx, sampleEntry("scheme:b", "scheme", []byte("b"))))

		stop := fmt.Errorf("stop")
		calls := 0
		err := s.ScanEntries(ctx, func(*storage.EntryRecord) error { calls++; return stop })
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		s := factory(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, s.PutEntry(ctx, sampleEntry("scheme:x", "scheme", []byte("x"))))
	})
}

func runOperationTests(t *testing.T, factory StoreFactory) {
	t.Run("SequenceIsStrictlyIncreasing", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		var prev uint64
		for i := 0; i < 10; i++ {
			id, err := s.NextOperationID(ctx)
			require.NoError(t, err)
			assert.Greater(t, id, prev)
			prev = id
		}
	})

	t.Run("SequenceUniqueUnderConcurrency", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		var (
			mu  sync.Mutex
			ids = map[uint64]bool{}
			wg  sync.WaitGroup
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 5; j++ {
					id, err := s.NextOperationID(ctx)
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					assert.False(t, ids[id], "duplicate id %d", id)
					ids[id] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Len(t, ids, 40)
	})

	t.Run("PutListDelete", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		for _, id := range []uint64{3, 1, 2} {
			require.NoError(t, s.PutOperation(ctx, sampleOp(id, fmt.Sprintf("price:c%d", id))))
		}

		ops, err := s.ListOperations(ctx)
		require.NoError(t, err)
		require.Len(t, ops, 3)
		assert.Equal(t, []uint64{1, 2, 3}, []uint64{ops[0].ID, ops[1].ID, ops[2].ID})

		updated := sampleOp(2, "price:c2")
		updated.Status = "in-flight"
		updated.AttemptCount = 2
		updated.LastError = "timeout"
		require.NoError(t, s.PutOperation(ctx, updated))

		require.NoError(t, s.DeleteOperation(ctx, 1))
		require.NoError(t, s.DeleteOperation(ctx, 1))

		ops, err = s.ListOperations(ctx)
		require.NoError(t, err)
		require.Len(t, ops, 2)
		assert.Equal(t, uint64(2), ops[0].ID)
		assert.Equal(t, "in-flight", ops[0].Status)
		assert.Equal(t, 2, ops[0].AttemptCount)
		assert.Equal(t, "timeout", ops[0].LastError)
	})
}
