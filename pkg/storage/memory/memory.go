// Package memory is an in-process storage backend. Nothing survives Close;
// it backs tests and the ephemeral mode used on devices without writable
// storage.
package memory

import (
	"context"
	"sort"
	"sync"

	agerrors "github.com/marmos91/agrisync/pkg/errors"
	"github.com/marmos91/agrisync/pkg/storage"
)

// Store keeps records in maps guarded by a single RWMutex.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*storage.EntryRecord
	ops     map[uint64]*storage.OperationRecord
	nextID  uint64
	closed  bool
}

var _ storage.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		entries: make(map[string]*storage.EntryRecord),
		ops:     make(map[uint64]*storage.OperationRecord),
	}
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return agerrors.NewClosedError("memory store")
	}
	return nil
}

func (s *Store) PutEntry(ctx context.Context, rec *storage.EntryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.entries[rec.Key] = rec.Clone()
	return nil
}

func (s *Store) GetEntry(ctx context.Context, key string) (*storage.EntryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	rec, ok := s.entries[key]
	if !ok {
		return nil, agerrors.NewNotFoundError(key, "entry")
	}
	return rec.Clone(), nil
}

func (s *Store) DeleteEntry(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	delete(s.entries, key)
	return nil
}

func (s *Store) ScanEntries(ctx context.Context, fn func(*storage.EntryRecord) error) error {
	s.mu.RLock()
	if err := s.check(ctx); err != nil {
		s.mu.RUnlock()
		return err
	}
	snapshot := make([]*storage.EntryRecord, 0, len(s.entries))
	for _, rec := range s.entries {
		meta := *rec
		meta.Payload = nil
		snapshot = append(snapshot, &meta)
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Key < snapshot[j].Key })
	for _, rec := range snapshot {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) NextOperationID(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	s.nextID++
	return s.nextID, nil
}

func (s *Store) PutOperation(ctx context.Context, op *storage.OperationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.ops[op.ID] = op.Clone()
	return nil
}

func (s *Store) DeleteOperation(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	delete(s.ops, id)
	return nil
}

func (s *Store) ListOperations(ctx context.Context) ([]*storage.OperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]*storage.OperationRecord, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, op.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Healthcheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
