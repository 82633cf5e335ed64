// Package badger is the default on-device storage backend, built on BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/agrisync/internal/logger"
	agerrors "github.com/marmos91/agrisync/pkg/errors"
	"github.com/marmos91/agrisync/pkg/storage"
)

// Config configures the Badger backend.
type Config struct {
	// Path is the directory holding the Badger value log and LSM tree.
	Path string

	// SyncWrites forces an fsync per transaction. Off by default: Badger's
	// value log is already crash-consistent, only the last writes may be lost.
	SyncWrites bool

	// SequenceBandwidth is how many operation ids are leased per disk write.
	SequenceBandwidth uint64
}

// Store is a storage.Store backed by BadgerDB.
type Store struct {
	db  *badgerdb.DB
	seq *badgerdb.Sequence

	mu     sync.Mutex // guards seq and closed
	closed bool
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) a Badger database at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, agerrors.NewInvalidArgumentError("badger path is required")
	}
	if cfg.SequenceBandwidth == 0 {
		cfg.SequenceBandwidth = 64
	}
	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create badger directory: %w", err)
	}

	opts := badgerdb.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{}).
		WithNumVersionsToKeep(1)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	seq, err := db.GetSequence([]byte(keyOpSequence), cfg.SequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open operation sequence: %w", err)
	}

	logger.Debug("Opened badger store", logger.KeyPath, cfg.Path)
	return &Store{db: db, seq: seq}, nil
}

func (s *Store) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return agerrors.NewClosedError("badger store")
	}
	return nil
}

func (s *Store) PutEntry(ctx context.Context, rec *storage.EntryRecord) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	meta, err := encodeEntry(rec)
	if err != nil {
		return agerrors.NewStorageIOError(rec.Key, err)
	}

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(keyEntry(rec.Key), meta); err != nil {
			return err
		}
		return txn.Set(keyPayload(rec.Key), rec.Payload)
	})
	if err != nil {
		return agerrors.NewStorageIOError(rec.Key, err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, key string) (*storage.EntryRecord, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	var rec *storage.EntryRecord
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyEntry(key))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			rec, err = decodeEntry(val)
			return err
		}); err != nil {
			return err
		}

		item, err = txn.Get(keyPayload(key))
		if err != nil {
			return err
		}
		rec.Payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, agerrors.NewNotFoundError(key, "entry")
	}
	if err != nil {
		return nil, agerrors.NewStorageIOError(key, err)
	}
	return rec, nil
}

func (s *Store) DeleteEntry(ctx context.Context, key string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete(keyEntry(key)); err != nil {
			return err
		}
		return txn.Delete(keyPayload(key))
	})
	if err != nil {
		return agerrors.NewStorageIOError(key, err)
	}
	return nil
}

func (s *Store) ScanEntries(ctx context.Context, fn func(*storage.EntryRecord) error) error {
	if err := s.guard(ctx); err != nil {
		return err
	}

	var cbErr error
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixEntry)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec *storage.EntryRecord
			if err := it.Item().Value(func(val []byte) error {
				var err error
				rec, err = decodeEntry(val)
				return err
			}); err != nil {
				return err
			}
			if cbErr = fn(rec); cbErr != nil {
				return cbErr
			}
		}
		return nil
	})
	if cbErr != nil {
		return cbErr
	}
	if err != nil {
		return agerrors.NewStorageIOError("", err)
	}
	return nil
}

func (s *Store) NextOperationID(ctx context.Context) (uint64, error) {
	if err := s.guard(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.seq.Next()
	if err != nil {
		return 0, agerrors.NewStorageIOError("", err)
	}
	// Sequence starts at zero; zero is reserved for "no operation".
	return n + 1, nil
}

func (s *Store) PutOperation(ctx context.Context, op *storage.OperationRecord) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	data, err := encodeOperation(op)
	if err != nil {
		return agerrors.NewStorageIOError(op.TargetKey, err)
	}
	if err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(keyOperation(op.ID), data)
	}); err != nil {
		return agerrors.NewStorageIOError(op.TargetKey, err)
	}
	return nil
}

func (s *Store) DeleteOperation(ctx context.Context, id uint64) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(keyOperation(id))
	}); err != nil {
		return agerrors.NewStorageIOError("", err)
	}
	return nil
}

func (s *Store) ListOperations(ctx context.Context) ([]*storage.OperationRecord, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	var ops []*storage.OperationRecord
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixOperation)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				op, err := decodeOperation(val)
				if err != nil {
					return err
				}
				ops = append(ops, op)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, agerrors.NewStorageIOError("", err)
	}
	return ops, nil
}

// Healthcheck verifies the database accepts read transactions.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if err := s.db.View(func(*badgerdb.Txn) error { return nil }); err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

// Close releases leased sequence ids and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.seq.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release sequence: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}

// badgerLogger routes Badger's internal logging through the process logger.
// Badger is chatty at info level, so its info lines are logged at debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error("badger: "+fmt.Sprintf(format, args...), logger.KeyBackend, storage.BackendBadger)
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn("badger: "+fmt.Sprintf(format, args...), logger.KeyBackend, storage.BackendBadger)
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.Debug("badger: "+fmt.Sprintf(format, args...), logger.KeyBackend, storage.BackendBadger)
}

func (badgerLogger) Debugf(format string, args ...any) {
	logger.Debug("badger: "+fmt.Sprintf(format, args...), logger.KeyBackend, storage.BackendBadger)
}
