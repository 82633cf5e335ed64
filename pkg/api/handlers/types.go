package handlers

import (
	"context"
	"time"

	"github.com/marmos91/agrisync/pkg/cache"
	"github.com/marmos91/agrisync/pkg/engine"
	"github.com/marmos91/agrisync/pkg/queue"
)

// Engine is the part of *engine.Engine the handlers use.
type Engine interface {
	Read(ctx context.Context, key string) (*engine.ReadResult, error)
	Write(ctx context.Context, entry *cache.Entry) (*engine.WriteResult, error)
	Fetch(ctx context.Context, key string) (*engine.ReadResult, error)
	RequestRefresh(ctx context.Context, target engine.Target) (uint64, error)
	DeleteUserData(ctx context.Context, scope engine.Scope) (*engine.DeleteReport, error)
	StorageStatus(ctx context.Context) (*engine.Status, error)
	Entries(category cache.Category) []cache.Meta
	Operations() []*queue.Operation
}

var _ Engine = (*engine.Engine)(nil)

// EntryResponse is the wire form of a cached entry. Payload is base64
// encoded by encoding/json; it is omitted from listings.
type EntryResponse struct {
	Key             string    `json:"key"`
	Category        string    `json:"category"`
	Payload         []byte    `json:"payload,omitempty"`
	Priority        int       `json:"priority"`
	FreshnessWindow string    `json:"freshness_window"`
	CreatedAt       time.Time `json:"created_at"`
	LastSyncedAt    time.Time `json:"last_synced_at"`
	Encrypted       bool      `json:"encrypted"`
	SizeBytes       int64     `json:"size_bytes"`
	Stale           bool      `json:"stale"`
}

func entryToResponse(e *cache.Entry, stale bool) EntryResponse {
	return EntryResponse{
		Key:             e.Key,
		Category:        string(e.Category),
		Payload:         e.Payload,
		Priority:        e.Priority,
		FreshnessWindow: e.FreshnessWindow.String(),
		CreatedAt:       e.CreatedAt,
		LastSyncedAt:    e.LastSyncedAt,
		Encrypted:       e.Encrypted,
		SizeBytes:       e.SizeBytes,
		Stale:           stale,
	}
}

func metaToResponse(m cache.Meta, now time.Time) EntryResponse {
	return EntryResponse{
		Key:             m.Key,
		Category:        string(m.Category),
		Priority:        m.Priority,
		FreshnessWindow: m.FreshnessWindow.String(),
		CreatedAt:       m.CreatedAt,
		LastSyncedAt:    m.LastSyncedAt,
		Encrypted:       m.Encrypted,
		SizeBytes:       m.SizeBytes,
		Stale:           m.IsStale(now),
	}
}

// ReadResponse answers a read or a direct fetch.
type ReadResponse struct {
	Key       string         `json:"key"`
	Found     bool           `json:"found"`
	Entry     *EntryResponse `json:"entry,omitempty"`
	RefreshID uint64         `json:"refresh_id,omitempty"`
}

func readToResponse(res *engine.ReadResult) ReadResponse {
	out := ReadResponse{Key: res.Key, Found: res.Found, RefreshID: res.RefreshID}
	if res.Found && res.Entry != nil {
		e := entryToResponse(res.Entry, res.Stale)
		out.Entry = &e
	}
	return out
}

// WriteRequest is the body of PUT /v1/entries/{key}. Zero fields take the
// category defaults.
type WriteRequest struct {
	Payload         []byte `json:"payload"`
	Priority        int    `json:"priority,omitempty"`
	FreshnessWindow string `json:"freshness_window,omitempty"`
	Encrypt         bool   `json:"encrypt,omitempty"`
}

// WriteResponse answers a write.
type WriteResponse struct {
	Entry          EntryResponse `json:"entry"`
	Evicted        []string      `json:"evicted,omitempty"`
	BudgetExceeded bool          `json:"budget_exceeded"`
	UsedBytes      int64         `json:"used_bytes"`
	BudgetBytes    int64         `json:"budget_bytes"`
}

// RefreshRequest is the body of POST /v1/refresh. Each target is a key
// ("price:maize") or a bare category ("weather").
type RefreshRequest struct {
	Targets []string `json:"targets"`
}

// RefreshResponse maps each target to its queued operation id.
type RefreshResponse struct {
	Operations map[string]uint64 `json:"operations"`
}

// OperationResponse is the wire form of a queued operation.
type OperationResponse struct {
	ID            uint64    `json:"id"`
	Kind          string    `json:"kind"`
	TargetKey     string    `json:"target_key,omitempty"`
	Category      string    `json:"category"`
	Status        string    `json:"status"`
	AttemptCount  int       `json:"attempt_count"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	LastError     string    `json:"last_error,omitempty"`
}

func operationToResponse(op *queue.Operation) OperationResponse {
	return OperationResponse{
		ID:            op.ID,
		Kind:          string(op.Kind),
		TargetKey:     op.TargetKey,
		Category:      string(op.Category),
		Status:        string(op.Status),
		AttemptCount:  op.AttemptCount,
		NextAttemptAt: op.NextAttemptAt,
		EnqueuedAt:    op.EnqueuedAt,
		LastError:     op.LastError,
	}
}

// DeleteRequest is the body of DELETE /v1/user-data.
type DeleteRequest struct {
	Keys       []string `json:"keys,omitempty"`
	Categories []string `json:"categories,omitempty"`
	All        bool     `json:"all,omitempty"`
}
