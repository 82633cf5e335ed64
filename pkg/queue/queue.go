package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/agrisync/internal/logger"
	"github.com/marmos91/agrisync/pkg/cache"
	agerrors "github.com/marmos91/agrisync/pkg/errors"
	"github.com/marmos91/agrisync/pkg/metrics"
	"github.com/marmos91/agrisync/pkg/storage"
)

// Config holds the retry policy.
type Config struct {
	Backoff Backoff

	// MaxAttempts is the attempt bound. An operation whose attempt count
	// reaches it fails permanently.
	MaxAttempts int
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		Backoff:     Backoff{Base: 5 * time.Second, Max: 30 * time.Minute},
		MaxAttempts: 8,
	}
}

// Options configures Open.
type Options struct {
	Backend storage.Store
	Config  Config
	Metrics *metrics.Metrics

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Queue is the request queue. All state is owned by the queue and mutated
// only through its methods, which are safe for concurrent use.
type Queue struct {
	backend storage.Store
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time

	mu         sync.Mutex
	ops        map[uint64]*Operation
	byKey      map[string]uint64
	byCategory map[cache.Category]uint64
}

// Open loads queued operations from the backend. Operations left in-flight
// by a previous run revert to pending with their backoff state unchanged.
func Open(ctx context.Context, opts Options) (*Queue, error) {
	if opts.Backend == nil {
		return nil, agerrors.NewInvalidArgumentError("request queue requires a backend")
	}
	if opts.Config.MaxAttempts <= 0 {
		opts.Config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	q := &Queue{
		backend:    opts.Backend,
		cfg:        opts.Config,
		metrics:    opts.Metrics,
		now:        opts.Now,
		ops:        make(map[uint64]*Operation),
		byKey:      make(map[string]uint64),
		byCategory: make(map[cache.Category]uint64),
	}

	records, err := opts.Backend.ListOperations(ctx)
	if err != nil {
		return nil, err
	}

	reverted := 0
	for _, rec := range records {
		op := fromRecord(rec)
		switch op.Status {
		case StatusFailedPermanent:
			if err := opts.Backend.DeleteOperation(ctx, op.ID); err != nil {
				return nil, err
			}
			continue
		case StatusInFlight:
			op.Status = StatusPending
			if err := opts.Backend.PutOperation(ctx, op.toRecord()); err != nil {
				return nil, err
			}
			reverted++
		}
		q.index(op)
	}

	q.metrics.SetPending(len(q.ops))
	logger.Info("Request queue opened",
		logger.KeyPending, len(q.ops),
		"reverted", reverted)
	return q, nil
}

// Config returns the retry policy.
func (q *Queue) Config() Config {
	return q.cfg
}

func (q *Queue) index(op *Operation) {
	q.ops[op.ID] = op
	switch op.Kind {
	case KindFetch:
		q.byKey[op.TargetKey] = op.ID
	case KindSyncAll:
		q.byCategory[op.Category] = op.ID
	}
}

func (q *Queue) unindex(op *Operation) {
	delete(q.ops, op.ID)
	switch op.Kind {
	case KindFetch:
		if q.byKey[op.TargetKey] == op.ID {
			delete(q.byKey, op.TargetKey)
		}
	case KindSyncAll:
		if q.byCategory[op.Category] == op.ID {
			delete(q.byCategory, op.Category)
		}
	}
}

// Enqueue adds an operation and returns its id. A fetch for a key, or a
// sync-all for a category, that is already pending or in-flight is not
// queued again: the existing id is returned.
func (q *Queue) Enqueue(ctx context.Context, req Request) (uint64, error) {
	op, err := q.validate(req)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if id, ok := q.existing(op); ok {
		logger.DebugCtx(ctx, "Operation already queued",
			logger.KeyOpID, id,
			logger.KeyOpKind, string(op.Kind),
			logger.KeyKey, op.TargetKey,
			logger.KeyCategory, string(op.Category))
		return id, nil
	}

	id, err := q.backend.NextOperationID(ctx)
	if err != nil {
		return 0, err
	}
	now := q.now()
	op.ID = id
	op.Status = StatusPending
	op.EnqueuedAt = now
	op.NextAttemptAt = now
	if req.NotBefore.After(now) {
		op.NextAttemptAt = req.NotBefore
	}

	if err := q.backend.PutOperation(ctx, op.toRecord()); err != nil {
		return 0, err
	}
	q.index(op)

	q.metrics.ObserveEnqueue(string(op.Kind))
	q.metrics.SetPending(len(q.ops))
	logger.DebugCtx(ctx, "Operation enqueued",
		logger.KeyOpID, id,
		logger.KeyOpKind, string(op.Kind),
		logger.KeyKey, op.TargetKey,
		logger.KeyCategory, string(op.Category),
		logger.KeyAttempt, op.AttemptCount)
	return id, nil
}

func (q *Queue) validate(req Request) (*Operation, error) {
	op := &Operation{Kind: req.Kind, AttemptCount: req.AttemptCount, Since: req.Since}
	switch req.Kind {
	case KindFetch:
		c, _, err := cache.ParseKey(req.Key)
		if err != nil {
			return nil, err
		}
		op.TargetKey = req.Key
		op.Category = c
	case KindSyncAll:
		if !req.Category.Valid() {
			return nil, agerrors.NewInvalidArgumentError("sync-all requires a valid category")
		}
		op.Category = req.Category
	default:
		return nil, agerrors.NewInvalidArgumentError("unknown operation kind " + string(req.Kind))
	}
	if op.AttemptCount < 0 {
		op.AttemptCount = 0
	}
	return op, nil
}

func (q *Queue) existing(op *Operation) (uint64, bool) {
	var (
		id uint64
		ok bool
	)
	switch op.Kind {
	case KindFetch:
		id, ok = q.byKey[op.TargetKey]
	case KindSyncAll:
		id, ok = q.byCategory[op.Category]
	}
	return id, ok
}

// Selector narrows ready-selection.
type Selector struct {
	// Allow filters candidates. Nil allows every operation.
	Allow func(*Operation) bool

	// PreferPriority selects profile and scheme operations before any other
	// category, ascending id within each group.
	PreferPriority bool
}

// DequeueReady returns the ready operation with the lowest id, without
// changing its state.
func (q *Queue) DequeueReady(now time.Time) (*Operation, bool) {
	return q.DequeueReadyWith(now, Selector{})
}

// DequeueReadyWith is DequeueReady restricted by sel.
func (q *Queue) DequeueReadyWith(now time.Time, sel Selector) (*Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *Operation
	for _, op := range q.ops {
		if !op.Ready(now) {
			continue
		}
		if sel.Allow != nil && !sel.Allow(op) {
			continue
		}
		if best == nil || better(op, best, sel.PreferPriority) {
			best = op
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Clone(), true
}

func better(a, b *Operation, preferPriority bool) bool {
	if preferPriority && a.IsPriority() != b.IsPriority() {
		return a.IsPriority()
	}
	return a.ID < b.ID
}

// MarkInFlight moves a pending operation to in-flight.
func (q *Queue) MarkInFlight(ctx context.Context, id uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[id]
	if !ok {
		return agerrors.NewNotFoundError("", "operation")
	}
	if op.Status != StatusPending {
		return agerrors.NewInvalidArgumentError("operation is " + string(op.Status) + ", not pending")
	}
	return q.save(ctx, op, func(next *Operation) {
		next.Status = StatusInFlight
	})
}

// MarkComplete removes a finished operation.
func (q *Queue) MarkComplete(ctx context.Context, id uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[id]
	if !ok {
		return agerrors.NewNotFoundError("", "operation")
	}
	if err := q.backend.DeleteOperation(ctx, id); err != nil {
		return err
	}
	q.unindex(op)
	q.metrics.SetPending(len(q.ops))
	return nil
}

// MarkFailed records a failed attempt. A transient failure increments the
// attempt count and schedules the next attempt with backoff. A permanent
// failure, or a transient one that reaches the attempt bound, removes the
// operation; the returned copy then has status failed-permanent and the
// caller must surface it.
func (q *Queue) MarkFailed(ctx context.Context, id uint64, permanent bool, cause error) (*Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[id]
	if !ok {
		return nil, agerrors.NewNotFoundError("", "operation")
	}

	next := op.Clone()
	next.NextAttemptAt = q.cfg.Backoff.Next(q.now(), op.AttemptCount)
	next.AttemptCount++
	next.Status = StatusPending
	if cause != nil {
		next.LastError = cause.Error()
	}

	if permanent || next.AttemptCount >= q.cfg.MaxAttempts {
		next.Status = StatusFailedPermanent
		if err := q.backend.DeleteOperation(ctx, id); err != nil {
			return nil, err
		}
		q.unindex(op)
		q.metrics.SetPending(len(q.ops))
		logger.WarnCtx(ctx, "Operation failed permanently",
			logger.KeyOpID, id,
			logger.KeyOpKind, string(op.Kind),
			logger.KeyKey, op.TargetKey,
			logger.KeyCategory, string(op.Category),
			logger.KeyAttempt, next.AttemptCount,
			logger.KeyError, next.LastError)
		return next, nil
	}

	if err := q.backend.PutOperation(ctx, next.toRecord()); err != nil {
		return nil, err
	}
	*op = *next
	logger.DebugCtx(ctx, "Operation scheduled for retry",
		logger.KeyOpID, id,
		logger.KeyAttempt, next.AttemptCount,
		logger.KeyNextAttempt, next.NextAttemptAt)
	return next.Clone(), nil
}

// Revert moves an in-flight operation back to pending without touching its
// backoff state. Used when a drain is cancelled.
func (q *Queue) Revert(ctx context.Context, id uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[id]
	if !ok {
		return agerrors.NewNotFoundError("", "operation")
	}
	if op.Status != StatusInFlight {
		return nil
	}
	return q.save(ctx, op, func(next *Operation) {
		next.Status = StatusPending
	})
}

// save persists a mutated copy of op and then applies it in memory.
// Caller must hold q.mu.
func (q *Queue) save(ctx context.Context, op *Operation, mutate func(*Operation)) error {
	next := op.Clone()
	mutate(next)
	if err := q.backend.PutOperation(ctx, next.toRecord()); err != nil {
		return err
	}
	*op = *next
	return nil
}

// Get returns a copy of the operation with the given id.
func (q *Queue) Get(id uint64) (*Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.ops[id]
	if !ok {
		return nil, false
	}
	return op.Clone(), true
}

// Pending returns the number of queued operations, in-flight included.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// List returns copies of every queued operation ordered by id.
func (q *Queue) List() []*Operation {
	q.mu.Lock()
	out := make([]*Operation, 0, len(q.ops))
	for _, op := range q.ops {
		out = append(out, op.Clone())
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsPinned reports whether key has an in-flight operation: a fetch of the
// key itself, or a sync-all of its category.
func (q *Queue) IsPinned(key string) bool {
	c, _, err := cache.ParseKey(key)
	if err != nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if id, ok := q.byKey[key]; ok && q.ops[id].Status == StatusInFlight {
		return true
	}
	if id, ok := q.byCategory[c]; ok && q.ops[id].Status == StatusInFlight {
		return true
	}
	return false
}

// RemoveMatching deletes every operation for which match returns true,
// whatever its status, and returns how many were removed.
func (q *Queue) RemoveMatching(ctx context.Context, match func(*Operation) bool) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for _, op := range q.sortedLocked() {
		if !match(op.Clone()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := q.backend.DeleteOperation(ctx, op.ID); err != nil {
			return removed, err
		}
		q.unindex(op)
		removed++
	}
	q.metrics.SetPending(len(q.ops))
	return removed, nil
}

func (q *Queue) sortedLocked() []*Operation {
	out := make([]*Operation, 0, len(q.ops))
	for _, op := range q.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
