// Package engine is the surface other on-device components use: it owns the
// entry store, the eviction manager, the request queue and the sync
// coordinator, and exposes read, refresh, direct fetch, user data deletion
// and storage status on top of them.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/agrisync/internal/logger"
	"github.com/marmos91/agrisync/pkg/cache"
	"github.com/marmos91/agrisync/pkg/connectivity"
	agerrors "github.com/marmos91/agrisync/pkg/errors"
	"github.com/marmos91/agrisync/pkg/keystore"
	"github.com/marmos91/agrisync/pkg/metrics"
	"github.com/marmos91/agrisync/pkg/provider"
	"github.com/marmos91/agrisync/pkg/queue"
	"github.com/marmos91/agrisync/pkg/storage"
	"github.com/marmos91/agrisync/pkg/syncer"
)

const (
	// DefaultDeleteDeadline bounds DeleteUserData.
	DefaultDeleteDeadline = 5 * time.Second

	// DefaultShutdownTimeout bounds the wait for the background worker in
	// Close.
	DefaultShutdownTimeout = 10 * time.Second
)

// Options wires an Engine. Backend and Provider are required; every other
// field has a default.
type Options struct {
	Backend  storage.Store
	KeyStore keystore.KeyStore
	Provider provider.Provider
	Monitor  connectivity.Monitor
	Notifier syncer.Notifier
	Metrics  *metrics.Metrics

	// Budget is the storage budget in bytes. Zero means unlimited.
	Budget   int64
	Policies cache.Policies
	Queue    queue.Config
	Sync     syncer.Config

	// RefreshOnRead enqueues a fetch for every miss and every stale hit.
	RefreshOnRead bool

	DeleteDeadline  time.Duration
	ShutdownTimeout time.Duration

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Engine is the offline cache and synchronization engine.
type Engine struct {
	store   *cache.Store
	evictor *cache.Evictor
	queue   *queue.Queue
	coord   *syncer.Coordinator
	monitor connectivity.Monitor

	refreshOnRead   bool
	deleteDeadline  time.Duration
	shutdownTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Open builds the engine over opts.Backend. The backend is owned by the
// engine from then on and closed by Close.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, agerrors.NewInvalidArgumentError("engine requires a storage backend")
	}
	if opts.Provider == nil {
		return nil, agerrors.NewInvalidArgumentError("engine requires a remote provider")
	}
	if opts.Monitor == nil {
		opts.Monitor = connectivity.NewStatic(connectivity.Normal)
	}
	if opts.DeleteDeadline <= 0 {
		opts.DeleteDeadline = DefaultDeleteDeadline
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Queue.MaxAttempts <= 0 {
		opts.Queue = queue.DefaultConfig()
	}

	store, err := cache.Open(ctx, cache.Options{
		Backend:  opts.Backend,
		KeyStore: opts.KeyStore,
		Budget:   opts.Budget,
		Policies: opts.Policies,
		Metrics:  opts.Metrics,
		Now:      opts.Now,
	})
	if err != nil {
		return nil, err
	}

	q, err := queue.Open(ctx, queue.Options{
		Backend: opts.Backend,
		Config:  opts.Queue,
		Metrics: opts.Metrics,
		Now:     opts.Now,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	evictor := cache.NewEvictor(store, q, opts.Metrics)
	coord, err := syncer.New(syncer.Options{
		Store:    store,
		Evictor:  evictor,
		Queue:    q,
		Provider: opts.Provider,
		Monitor:  opts.Monitor,
		Notifier: opts.Notifier,
		Metrics:  opts.Metrics,
		Config:   opts.Sync,
		Now:      opts.Now,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Engine{
		store:           store,
		evictor:         evictor,
		queue:           q,
		coord:           coord,
		monitor:         opts.Monitor,
		refreshOnRead:   opts.RefreshOnRead,
		deleteDeadline:  opts.DeleteDeadline,
		shutdownTimeout: opts.ShutdownTimeout,
	}, nil
}

// Store returns the entry store.
func (e *Engine) Store() *cache.Store { return e.store }

// Queue returns the request queue.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// Coordinator returns the sync coordinator.
func (e *Engine) Coordinator() *syncer.Coordinator { return e.coord }

// Start launches the background sync worker.
func (e *Engine) Start(ctx context.Context) {
	e.coord.Start(ctx)
}

// Close stops the background worker, then closes the store and its backend.
// In-flight operations interrupted by the shutdown are pending again on the
// next Open.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if err := e.coord.Stop(e.shutdownTimeout); err != nil {
			logger.Warn("Sync coordinator did not stop in time", logger.KeyError, err)
		}
		e.closeErr = e.store.Close()
	})
	return e.closeErr
}

// ReadResult is the answer to Read. Found is false for absent keys and for
// encrypted entries that cannot be decrypted.
type ReadResult struct {
	Key   string
	Found bool
	Entry *cache.Entry
	Stale bool

	// RefreshID is the queued operation that will refresh the key, when one
	// was requested by the read.
	RefreshID uint64
}

// Read returns the entry stored under key with its staleness. It never
// blocks on the network. With RefreshOnRead, a miss or a stale hit
// enqueues a fetch for the key.
func (e *Engine) Read(ctx context.Context, key string) (*ReadResult, error) {
	if _, _, err := cache.ParseKey(key); err != nil {
		return nil, err
	}

	res := &ReadResult{Key: key}
	lookup, err := e.store.Get(ctx, key)
	switch {
	case err == nil:
		res.Found = true
		res.Entry = lookup.Entry
		res.Stale = lookup.Stale
	case agerrors.IsAbsent(err):
	default:
		return nil, err
	}

	if e.refreshOnRead && (!res.Found || res.Stale) {
		id, err := e.RequestRefresh(ctx, KeyTarget(key))
		if err != nil {
			logger.WarnCtx(ctx, "Could not queue refresh on read", logger.KeyKey, key, logger.KeyError, err)
		} else {
			res.RefreshID = id
		}
	}
	return res, nil
}

// WriteResult is the answer to Write.
type WriteResult struct {
	Entry *cache.Entry

	// Evicted lists the keys removed to make room.
	Evicted []string

	// BudgetExceeded is set when eviction could not bring usage back under
	// the budget. The write itself succeeded.
	BudgetExceeded bool
	UsedBytes      int64
	BudgetBytes    int64
}

// Write stores a locally produced entry, such as the user profile, and then
// enforces the storage budget.
func (e *Engine) Write(ctx context.Context, entry *cache.Entry) (*WriteResult, error) {
	stored, err := e.store.Put(ctx, entry)
	if err != nil {
		return nil, err
	}

	res := &WriteResult{Entry: stored}
	report, err := e.evictor.EnforceBudget(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "Budget enforcement failed after write", logger.KeyKey, entry.Key, logger.KeyError, err)
		return res, nil
	}
	res.Evicted = report.Evicted
	res.BudgetExceeded = report.BudgetExceeded
	res.UsedBytes = report.UsedBytes
	res.BudgetBytes = report.BudgetBytes
	return res, nil
}

// RequestRefresh queues a fetch of a key or a sync of a whole category and
// returns the operation id without waiting. A refresh already pending for
// the same target is reused.
func (e *Engine) RequestRefresh(ctx context.Context, target Target) (uint64, error) {
	req, err := target.request()
	if err != nil {
		return 0, err
	}
	id, err := e.queue.Enqueue(ctx, req)
	if err != nil {
		return 0, err
	}
	e.coord.Kick()
	return id, nil
}

// Fetch requests key and waits for the queued fetch to reach a terminal
// outcome. If ctx ends first, ErrTimeout is returned and the operation stays
// queued, so a later drain still refreshes the key.
func (e *Engine) Fetch(ctx context.Context, key string) (*ReadResult, error) {
	if _, _, err := cache.ParseKey(key); err != nil {
		return nil, err
	}
	id, err := e.queue.Enqueue(ctx, queue.Fetch(key))
	if err != nil {
		return nil, err
	}

	done, stop := e.coord.Await(id)
	defer stop()

	// The operation may have finished before the waiter was registered.
	out, finished := e.coord.LastOutcome(id)
	if !finished {
		if _, queued := e.queue.Get(id); queued {
			e.coord.Kick()
		}
		select {
		case out = <-done:
		case <-ctx.Done():
			logger.DebugCtx(ctx, "Direct fetch timed out; operation stays queued",
				logger.KeyOpID, id, logger.KeyKey, key)
			return nil, agerrors.Wrap(agerrors.ErrTimeout, key, ctx.Err(), "direct fetch did not complete before the deadline")
		}
	}
	if err := outcomeError(key, out); err != nil {
		return nil, err
	}

	lookup, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &ReadResult{Key: key, Found: true, Entry: lookup.Entry, Stale: lookup.Stale, RefreshID: id}, nil
}

func outcomeError(key string, out syncer.Outcome) error {
	switch out.Result {
	case syncer.ResultMerged:
		return nil
	case syncer.ResultDropped:
		return agerrors.New(agerrors.ErrNotFound, key, "fetch was cancelled by a user data deletion")
	default:
		if out.Err != nil {
			return out.Err
		}
		return agerrors.New(agerrors.ErrPermanentProvider, key, "fetch failed")
	}
}

// Status is the storage accounting reported by StorageStatus.
type Status struct {
	UsedBytes         int64              `json:"used_bytes"`
	BudgetBytes       int64              `json:"budget_bytes"`
	PendingOperations int                `json:"pending_operations"`
	Entries           int                `json:"entries"`
	Connectivity      connectivity.Class `json:"connectivity"`
}

// StorageStatus reports used and budget bytes and the pending operation
// count.
func (e *Engine) StorageStatus(ctx context.Context) (*Status, error) {
	if err := e.store.Healthcheck(ctx); err != nil {
		return nil, err
	}
	u := e.store.Usage()
	return &Status{
		UsedBytes:         u.UsedBytes,
		BudgetBytes:       u.BudgetBytes,
		PendingOperations: e.queue.Pending(),
		Entries:           u.Entries,
		Connectivity:      e.monitor.Current(),
	}, nil
}

// Entries returns the indexed metadata of category, or of every category
// when category is empty, ordered by key. Payloads are not read.
func (e *Engine) Entries(category cache.Category) []cache.Meta {
	return e.store.Keys(func(m cache.Meta) bool {
		return category == "" || m.Category == category
	})
}

// Operations returns a snapshot of the queued operations ordered by id.
func (e *Engine) Operations() []*queue.Operation {
	return e.queue.List()
}
