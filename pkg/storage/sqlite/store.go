// Package sqlite is a storage backend on GORM and the pure-Go SQLite driver.
// It trades some write throughput against badger for a database file that
// support staff can open with standard tooling.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/agrisync/internal/logger"
	agerrors "github.com/marmos91/agrisync/pkg/errors"
	"github.com/marmos91/agrisync/pkg/storage"
)

const opSequence = "operations"

// Config configures the SQLite backend.
type Config struct {
	// Path is the database file.
	Path string
}

// Store is a storage.Store backed by SQLite through GORM.
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// New opens the database and migrates the schema.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, agerrors.NewInvalidArgumentError("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL lets the API read while a drain writes; busy_timeout absorbs the
	// short write locks taken by merges.
	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// A single connection serializes writers in-process; SQLite would
	// otherwise fail read-to-write upgrades with SQLITE_BUSY.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	logger.Debug("Opened sqlite store", logger.KeyPath, cfg.Path)
	return &Store{db: db}, nil
}

func ioErr(key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return agerrors.NewStorageIOError(key, err)
}

func (s *Store) PutEntry(ctx context.Context, rec *storage.EntryRecord) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(toEntryModel(rec)).Error
	return ioErr(rec.Key, err)
}

func (s *Store) GetEntry(ctx context.Context, key string) (*storage.EntryRecord, error) {
	var m entryModel
	err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, agerrors.NewNotFoundError(key, "entry")
	}
	if err != nil {
		return nil, ioErr(key, err)
	}
	return m.record(), nil
}

func (s *Store) DeleteEntry(ctx context.Context, key string) error {
	return ioErr(key, s.db.WithContext(ctx).Where(map[string]any{"key": key}).Delete(&entryModel{}).Error)
}

func (s *Store) ScanEntries(ctx context.Context, fn func(*storage.EntryRecord) error) error {
	var models []entryModel
	err := s.db.WithContext(ctx).Omit("payload").Order("key").Find(&models).Error
	if err != nil {
		return ioErr("", err)
	}
	for i := range models {
		rec := models[i].record()
		rec.Payload = nil
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// NextOperationID bumps the counter row inside a transaction; SQLite
// serializes writers so concurrent callers never observe the same value.
func (s *Store) NextOperationID(ctx context.Context) (uint64, error) {
	var next uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq := sequenceModel{Name: opSequence}
		if err := tx.FirstOrCreate(&seq, sequenceModel{Name: opSequence}).Error; err != nil {
			return err
		}
		next = seq.Value + 1
		return tx.Model(&sequenceModel{}).Where(map[string]any{"name": opSequence}).Update("value", next).Error
	})
	if err != nil {
		return 0, ioErr("", err)
	}
	return next, nil
}

func (s *Store) PutOperation(ctx context.Context, op *storage.OperationRecord) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(toOperationModel(op)).Error
	return ioErr(op.TargetKey, err)
}

func (s *Store) DeleteOperation(ctx context.Context, id uint64) error {
	return ioErr("", s.db.WithContext(ctx).Delete(&operationModel{}, id).Error)
}

func (s *Store) ListOperations(ctx context.Context) ([]*storage.OperationRecord, error) {
	var models []operationModel
	if err := s.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, ioErr("", err)
	}
	out := make([]*storage.OperationRecord, len(models))
	for i := range models {
		out[i] = models[i].record()
	}
	return out, nil
}

func (s *Store) Healthcheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
