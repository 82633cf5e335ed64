package sqlite

import (
	"time"

	"github.com/marmos91/agrisync/pkg/storage"
)

// entryModel is the entries table. Payload is a BLOB column next to the
// metadata so one row write is one atomic upsert.
type entryModel struct {
	Key             string `gorm:"primaryKey;size:512"`
	Category        string `gorm:"index;size:32;not null"`
	Payload         []byte
	Priority        int
	FreshnessWindow int64 // nanoseconds
	CreatedAt       time.Time `gorm:"autoCreateTime:false"`
	LastSyncedAt    time.Time `gorm:"index"`
	Encrypted       bool
	SizeBytes       int64
}

func (entryModel) TableName() string { return "entries" }

type operationModel struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement:false"`
	Kind          string `gorm:"size:16;not null"`
	TargetKey     string `gorm:"index;size:512"`
	Category      string `gorm:"size:32"`
	AttemptCount  int
	NextAttemptAt time.Time
	Status        string `gorm:"size:24;not null"`
	EnqueuedAt    time.Time
	Since         time.Time
	LastError     string
}

func (operationModel) TableName() string { return "operations" }

// sequenceModel holds named monotonic counters.
type sequenceModel struct {
	Name  string `gorm:"primaryKey;size:32"`
	Value uint64
}

func (sequenceModel) TableName() string { return "sequences" }

func allModels() []any {
	return []any{&entryModel{}, &operationModel{}, &sequenceModel{}}
}

func toEntryModel(r *storage.EntryRecord) *entryModel {
	return &entryModel{
		Key:             r.Key,
		Category:        r.Category,
		Payload:         r.Payload,
		Priority:        r.Priority,
		FreshnessWindow: int64(r.FreshnessWindow),
		CreatedAt:       r.CreatedAt,
		LastSyncedAt:    r.LastSyncedAt,
		Encrypted:       r.Encrypted,
		SizeBytes:       r.SizeBytes,
	}
}

func (m *entryModel) record() *storage.EntryRecord {
	return &storage.EntryRecord{
		Key:             m.Key,
		Category:        m.Category,
		Payload:         m.Payload,
		Priority:        m.Priority,
		FreshnessWindow: time.Duration(m.FreshnessWindow),
		CreatedAt:       m.CreatedAt,
		LastSyncedAt:    m.LastSyncedAt,
		Encrypted:       m.Encrypted,
		SizeBytes:       m.SizeBytes,
	}
}

func toOperationModel(r *storage.OperationRecord) *operationModel {
	return &operationModel{
		ID:            r.ID,
		Kind:          r.Kind,
		TargetKey:     r.TargetKey,
		Category:      r.Category,
		AttemptCount:  r.AttemptCount,
		NextAttemptAt: r.NextAttemptAt,
		Status:        r.Status,
		EnqueuedAt:    r.EnqueuedAt,
		Since:         r.Since,
		LastError:     r.LastError,
	}
}

func (m *operationModel) record() *storage.OperationRecord {
	return &storage.OperationRecord{
		ID:            m.ID,
		Kind:          m.Kind,
		TargetKey:     m.TargetKey,
		Category:      m.Category,
		AttemptCount:  m.AttemptCount,
		NextAttemptAt: m.NextAttemptAt,
		Status:        m.Status,
		EnqueuedAt:    m.EnqueuedAt,
		Since:         m.Since,
		LastError:     m.LastError,
	}
}
