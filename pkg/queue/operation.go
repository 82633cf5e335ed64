// Package queue implements the durable request queue of pending remote
// operations.
//
// Operations are created on a cache miss, on a stale read, or by an explicit
// "sync now", and are destroyed on terminal success or permanent failure.
// Each operation follows an explicit state machine:
//
//	pending -> in-flight -> complete (removed)
//	                     -> failed-transient -> pending (after backoff)
//	                     -> failed-permanent (removed, surfaced to the caller)
//	in-flight -> pending (cancelled drain, backoff unchanged)
//
// Every transition is written through storage.Store before it becomes visible
// in memory, so the queue survives a restart. Operations left in-flight by a
// crash revert to pending on Open.
package queue

import (
	"time"

	"github.com/marmos91/agrisync/pkg/cache"
	"github.com/marmos91/agrisync/pkg/storage"
)

// Kind is the type of remote operation.
type Kind string

const (
	// KindFetch fetches one key.
	KindFetch Kind = "fetch"

	// KindSyncAll fetches the incremental changeset of a category.
	KindSyncAll Kind = "sync-all"
)

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPending         Status = "pending"
	StatusInFlight        Status = "in-flight"
	StatusFailedPermanent Status = "failed-permanent"
)

// Operation is a queued remote call.
type Operation struct {
	ID            uint64
	Kind          Kind
	TargetKey     string
	Category      cache.Category
	AttemptCount  int
	NextAttemptAt time.Time
	Status        Status
	EnqueuedAt    time.Time

	// Since is the changeset watermark of a sync-all operation.
	Since time.Time

	// LastError is the message of the most recent failure.
	LastError string
}

// Clone returns a copy of the operation.
func (o *Operation) Clone() *Operation {
	c := *o
	return &c
}

// Ready reports whether the operation may be dequeued at now.
func (o *Operation) Ready(now time.Time) bool {
	return o.Status == StatusPending && !o.NextAttemptAt.After(now)
}

// IsPriority reports whether the operation targets a category that wins
// under constrained bandwidth.
func (o *Operation) IsPriority() bool {
	return IsPriorityCategory(o.Category)
}

// IsPriorityCategory reports whether c is served first under constrained
// bandwidth: the user profile and government schemes.
func IsPriorityCategory(c cache.Category) bool {
	return c == cache.CategoryProfile || c == cache.CategoryScheme
}

func (o *Operation) toRecord() *storage.OperationRecord {
	return &storage.OperationRecord{
		ID:            o.ID,
		Kind:          string(o.Kind),
		TargetKey:     o.TargetKey,
		Category:      string(o.Category),
		AttemptCount:  o.AttemptCount,
		NextAttemptAt: o.NextAttemptAt,
		Status:        string(o.Status),
		EnqueuedAt:    o.EnqueuedAt,
		Since:         o.Since,
		LastError:     o.LastError,
	}
}

func fromRecord(r *storage.OperationRecord) *Operation {
	return &Operation{
		ID:            r.ID,
		Kind:          Kind(r.Kind),
		TargetKey:     r.TargetKey,
		Category:      cache.Category(r.Category),
		AttemptCount:  r.AttemptCount,
		NextAttemptAt: r.NextAttemptAt,
		Status:        Status(r.Status),
		EnqueuedAt:    r.EnqueuedAt,
		Since:         r.Since,
		LastError:     r.LastError,
	}
}

// Request describes an operation to enqueue.
type Request struct {
	Kind Kind

	// Key is the target of a fetch.
	Key string

	// Category is the target of a sync-all. Ignored for fetch, where it is
	// derived from the key.
	Category cache.Category

	// Since is the sync-all watermark.
	Since time.Time

	// AttemptCount and NotBefore carry backoff state over when a failed
	// changeset item is re-queued as a fetch.
	AttemptCount int
	NotBefore    time.Time
}

// Fetch returns a fetch request for key.
func Fetch(key string) Request {
	return Request{Kind: KindFetch, Key: key}
}

// SyncAll returns a sync-all request for category.
func SyncAll(category cache.Category, since time.Time) Request {
	return Request{Kind: KindSyncAll, Category: category, Since: since}
}
