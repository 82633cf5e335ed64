// Package syncer implements the sync coordinator: it drains the request
// queue against remote providers when connectivity allows, merges results
// into the entry store and reports every key's outcome individually.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/agrisync/internal/logger"
	"github.com/marmos91/agrisync/internal/telemetry"
	"github.com/marmos91/agrisync/pkg/cache"
	"github.com/marmos91/agrisync/pkg/connectivity"
	agerrors "github.com/marmos91/agrisync/pkg/errors"
	"github.com/marmos91/agrisync/pkg/metrics"
	"github.com/marmos91/agrisync/pkg/provider"
	"github.com/marmos91/agrisync/pkg/queue"
)

// Config holds coordinator tuning.
type Config struct {
	// BatchLimit bounds the operations processed by one drain.
	BatchLimit int

	// Interval is the period of background drains.
	Interval time.Duration

	// EvictionInterval is the period of background budget enforcement.
	EvictionInterval time.Duration

	// Credentials are attached to every provider request.
	Credentials provider.Credentials
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		BatchLimit:       32,
		Interval:         5 * time.Minute,
		EvictionInterval: 10 * time.Minute,
	}
}

// Options wires a Coordinator.
type Options struct {
	Store    *cache.Store
	Evictor  *cache.Evictor
	Queue    *queue.Queue
	Provider provider.Provider

	// Monitor is read by the background worker. Drain takes the class as
	// an argument and does not consult it.
	Monitor connectivity.Monitor

	// Notifier defaults to LogNotifier.
	Notifier Notifier
	Metrics  *metrics.Metrics
	Config   Config

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Coordinator drains the request queue.
type Coordinator struct {
	store    *cache.Store
	evictor  *cache.Evictor
	queue    *queue.Queue
	provider provider.Provider
	monitor  connectivity.Monitor
	notifier Notifier
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
	waiters  *waiters

	// drainMu makes drains single-flight.
	drainMu sync.Mutex

	// mergeGate is held shared by every merge and every re-queue of a
	// changeset item. See Exclude.
	mergeGate sync.RWMutex

	// tombstones holds, per queued sync-all, the keys deleted after it was
	// queued. Its items for those keys are discarded.
	tombMu     sync.Mutex
	tombstones map[uint64]map[string]bool

	kick   chan struct{}
	stopMu sync.Mutex
	stop   context.CancelFunc
	done   chan struct{}
}

// New validates opts and returns a coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil || opts.Queue == nil || opts.Provider == nil {
		return nil, agerrors.NewInvalidArgumentError("sync coordinator requires a store, a queue and a provider")
	}
	if opts.Evictor == nil {
		opts.Evictor = cache.NewEvictor(opts.Store, opts.Queue, opts.Metrics)
	}
	if opts.Monitor == nil {
		opts.Monitor = connectivity.NewStatic(connectivity.Normal)
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{}
	}
	def := DefaultConfig()
	if opts.Config.BatchLimit <= 0 {
		opts.Config.BatchLimit = def.BatchLimit
	}
	if opts.Config.Interval <= 0 {
		opts.Config.Interval = def.Interval
	}
	if opts.Config.EvictionInterval <= 0 {
		opts.Config.EvictionInterval = def.EvictionInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Coordinator{
		store:    opts.Store,
		evictor:  opts.Evictor,
		queue:    opts.Queue,
		provider: opts.Provider,
		monitor:  opts.Monitor,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		cfg:      opts.Config,
		now:      opts.Now,
		waiters:  newWaiters(),
		kick:     make(chan struct{}, 1),

		tombstones: make(map[uint64]map[string]bool),
	}, nil
}

// LastOutcome returns the terminal outcome of operation id if it finished
// recently.
func (c *Coordinator) LastOutcome(id uint64) (Outcome, bool) {
	return c.waiters.last(id)
}

// Await returns a channel that receives the terminal outcome of operation
// id, and a function to stop waiting. Retries are not terminal: a waiter
// keeps waiting across them.
func (c *Coordinator) Await(id uint64) (<-chan Outcome, func()) {
	return c.waiters.add(id)
}

// Exclude runs remove while no merge or changeset re-queue is in progress,
// and stops every queued sync-all from applying keys afterwards, including
// one whose changeset is already on its way. remove is expected to drop the
// queued operations of the deleted scope.
func (c *Coordinator) Exclude(keys []string, remove func() error) error {
	c.mergeGate.Lock()
	defer c.mergeGate.Unlock()

	c.tombMu.Lock()
	live := make(map[uint64]bool)
	for _, op := range c.queue.List() {
		if op.Kind != queue.KindSyncAll {
			continue
		}
		live[op.ID] = true
		for _, key := range keys {
			category, _, err := cache.ParseKey(key)
			if err != nil || category != op.Category {
				continue
			}
			if c.tombstones[op.ID] == nil {
				c.tombstones[op.ID] = make(map[string]bool)
			}
			c.tombstones[op.ID][key] = true
		}
	}
	for id := range c.tombstones {
		if !live[id] {
			delete(c.tombstones, id)
		}
	}
	c.tombMu.Unlock()

	return remove()
}

// retired reports whether results for key may no longer be applied on
// behalf of operation opID. The caller holds mergeGate.
func (c *Coordinator) retired(opID uint64, key string) bool {
	if _, ok := c.queue.Get(opID); !ok {
		return true
	}
	c.tombMu.Lock()
	defer c.tombMu.Unlock()
	return c.tombstones[opID][key]
}

// meteredAllowed is what a metered link may spend bandwidth on.
func meteredAllowed(op *queue.Operation) bool {
	switch op.Category {
	case cache.CategoryProfile, cache.CategoryScheme, cache.CategoryWeather:
		return true
	}
	return false
}

func selectorFor(class connectivity.Class) queue.Selector {
	if class == connectivity.Metered {
		return queue.Selector{Allow: meteredAllowed, PreferPriority: true}
	}
	return queue.Selector{}
}

// Drain processes ready operations for the given connectivity class:
// nothing when offline; profile, scheme and weather only when metered;
// everything when normal. At most BatchLimit operations are processed.
// Cancelling ctx stops the drain at the next operation boundary; an
// operation whose fetch is interrupted reverts to pending.
func (c *Coordinator) Drain(ctx context.Context, class connectivity.Class) (*DrainReport, error) {
	report := &DrainReport{Class: class}
	if class == connectivity.Offline {
		return report, nil
	}

	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	start := time.Now()
	report.DrainID = uuid.NewString()
	ctx = logger.WithContext(ctx, logger.NewLogContext(report.DrainID))
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanDrain, trace.WithAttributes(
		telemetry.DrainID(report.DrainID),
		telemetry.Connectivity(string(class)),
	))
	defer span.End()

	base := selectorFor(class)
	seen := make(map[uint64]bool)
	sel := queue.Selector{
		PreferPriority: base.PreferPriority,
		Allow: func(op *queue.Operation) bool {
			return !seen[op.ID] && (base.Allow == nil || base.Allow(op))
		},
	}

	for report.Processed < c.cfg.BatchLimit {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		op, ok := c.queue.DequeueReadyWith(c.now(), sel)
		if !ok {
			break
		}
		seen[op.ID] = true
		report.Processed++

		outcomes := c.process(ctx, op)
		report.Outcomes = append(report.Outcomes, outcomes...)
		if len(outcomes) > 0 && outcomes[len(outcomes)-1].Result == ResultReverted {
			report.Cancelled = true
			break
		}
	}

	if base.Allow != nil {
		now := c.now()
		for _, op := range c.queue.List() {
			if op.Ready(now) && !base.Allow(op) {
				report.Deferred++
			}
		}
	}

	report.Duration = time.Since(start)
	c.metrics.ObserveDrain(string(class), report.Duration)
	telemetry.SetAttributes(ctx, telemetry.Items(report.Processed))

	if report.Processed > 0 || report.Cancelled {
		logger.InfoCtx(ctx, "Drain finished",
			logger.KeyConnectivity, string(class),
			"processed", report.Processed,
			"merged", report.Count(ResultMerged),
			"retry", report.Count(ResultRetry),
			"failed", report.Count(ResultFailed),
			"deferred", report.Deferred,
			"cancelled", report.Cancelled,
			logger.KeyDurationMs, float64(report.Duration.Microseconds())/1000)
	}
	return report, nil
}

func (c *Coordinator) process(ctx context.Context, op *queue.Operation) []Outcome {
	lc := logger.FromContext(ctx).WithOperation(op.ID, op.TargetKey, string(op.Category))
	ctx = logger.WithContext(ctx, lc)

	if err := c.markInFlight(ctx, op); err != nil {
		logger.WarnCtx(ctx, "Could not start operation", logger.KeyError, err)
		return []Outcome{c.finish(ctx, op, op.TargetKey, ResultDropped, err)}
	}

	if op.Kind == queue.KindSyncAll {
		return c.syncAll(ctx, op)
	}
	return []Outcome{c.fetch(ctx, op)}
}

// markInFlight pins the operation. Fetches are pinned under their key lock
// so the evictor, which checks pins under the same lock, never deletes an
// entry whose fetch has started.
func (c *Coordinator) markInFlight(ctx context.Context, op *queue.Operation) error {
	if op.Kind != queue.KindFetch {
		return c.queue.MarkInFlight(ctx, op.ID)
	}
	return c.store.Update(ctx, op.TargetKey, func(*cache.Tx) error {
		return c.queue.MarkInFlight(ctx, op.ID)
	})
}

func (c *Coordinator) fetch(ctx context.Context, op *queue.Operation) Outcome {
	category, disc, err := cache.ParseKey(op.TargetKey)
	if err != nil {
		return c.fail(ctx, op, op.TargetKey, provider.Permanent(op.TargetKey, err))
	}

	fctx, span := telemetry.StartSyncSpan(ctx, telemetry.SpanFetch, op.ID, op.TargetKey,
		telemetry.Attempt(op.AttemptCount))
	start := time.Now()
	payload, err := c.provider.Fetch(fctx, category, disc, c.cfg.Credentials)
	c.metrics.ObserveFetch(string(category), time.Since(start))
	if err != nil {
		telemetry.RecordError(fctx, err)
	}
	span.End()

	if err != nil {
		if interrupted(ctx, err) {
			return c.revert(ctx, op)
		}
		return c.fail(ctx, op, op.TargetKey, provider.Classify(op.TargetKey, err))
	}

	mctx := context.WithoutCancel(ctx)
	dropped, err := c.merge(mctx, op.ID, op.TargetKey, payload)
	switch {
	case err != nil:
		return c.fail(mctx, op, op.TargetKey, err)
	case dropped:
		return c.finish(mctx, op, op.TargetKey, ResultDropped, nil)
	}
	if err := c.queue.MarkComplete(mctx, op.ID); err != nil && !agerrors.IsNotFoundError(err) {
		logger.WarnCtx(mctx, "Failed to complete operation", logger.KeyError, err)
	}
	return c.finish(mctx, op, op.TargetKey, ResultMerged, nil)
}

func (c *Coordinator) syncAll(ctx context.Context, op *queue.Operation) []Outcome {
	since := op.Since
	if since.IsZero() {
		since = c.store.LatestSync(op.Category)
	}

	fctx, span := telemetry.StartSyncSpan(ctx, telemetry.SpanChangeset, op.ID, "",
		telemetry.Category(string(op.Category)))
	start := time.Now()
	items, err := c.provider.FetchChangeset(fctx, op.Category, since, c.cfg.Credentials)
	c.metrics.ObserveFetch(string(op.Category), time.Since(start))
	if err != nil {
		telemetry.RecordError(fctx, err)
	}
	telemetry.SetAttributes(fctx, telemetry.Items(len(items)))
	span.End()

	if err != nil {
		if interrupted(ctx, err) {
			return []Outcome{c.revert(ctx, op)}
		}
		return []Outcome{c.fail(ctx, op, "", provider.Classify("", err))}
	}

	// The changeset is on the device: apply every item, even if the drain
	// is cancelled meanwhile.
	mctx := context.WithoutCancel(ctx)
	outcomes := make([]Outcome, 0, len(items)+1)
	for _, item := range items {
		outcomes = append(outcomes, c.applyItem(mctx, op, item))
	}

	if err := c.queue.MarkComplete(mctx, op.ID); err != nil && !agerrors.IsNotFoundError(err) {
		logger.WarnCtx(mctx, "Failed to complete operation", logger.KeyError, err)
	}
	c.tombMu.Lock()
	delete(c.tombstones, op.ID)
	c.tombMu.Unlock()

	summary := Outcome{
		OpID:     op.ID,
		Kind:     op.Kind,
		Category: op.Category,
		Result:   ResultMerged,
		Items:    len(items),
	}
	c.waiters.resolve(summary)
	logger.DebugCtx(mctx, "Changeset applied", logger.KeyItems, len(items))
	return outcomes
}

// applyItem merges one changeset item. Failed items are handled on their
// own: items the provider failed transiently are re-queued as fetches, any
// other failure is permanent and notified. A local merge failure is never
// retried.
func (c *Coordinator) applyItem(ctx context.Context, op *queue.Operation, item provider.ChangeItem) Outcome {
	out := Outcome{OpID: op.ID, Kind: op.Kind, Key: item.Key, Category: op.Category}

	category, _, err := cache.ParseKey(item.Key)
	if err != nil {
		return c.itemFailed(ctx, op, out, provider.Permanent(item.Key, err))
	}
	if category != op.Category {
		return c.itemFailed(ctx, op, out, provider.Permanent(item.Key,
			agerrors.NewInvalidArgumentError("changeset item outside category "+string(op.Category))))
	}

	if item.Err != nil {
		cause := provider.Classify(item.Key, item.Err)
		if agerrors.IsTransient(cause) {
			return c.retryItem(ctx, op, out, cause)
		}
		return c.itemFailed(ctx, op, out, cause)
	}

	dropped, err := c.merge(ctx, op.ID, item.Key, item.Payload)
	switch {
	case err != nil:
		return c.itemFailed(ctx, op, out, err)
	case dropped:
		out.Result = ResultDropped
		return out
	}
	out.Result = ResultMerged
	c.metrics.ObserveOutcome(string(op.Category), string(ResultMerged))
	return out
}

// retryItem queues a fetch for a transiently failed item and reports the
// state of the queued operation, which may be a fetch queued earlier.
func (c *Coordinator) retryItem(ctx context.Context, op *queue.Operation, out Outcome, cause error) Outcome {
	out.Err = cause

	c.mergeGate.RLock()
	var (
		queued *queue.Operation
		err    error
	)
	if !c.retired(op.ID, out.Key) {
		var id uint64
		id, err = c.queue.Enqueue(ctx, queue.Request{
			Kind:         queue.KindFetch,
			Key:          out.Key,
			AttemptCount: 1,
			NotBefore:    c.queue.Config().Backoff.Next(c.now(), 0),
		})
		if err == nil {
			queued, _ = c.queue.Get(id)
		}
	}
	c.mergeGate.RUnlock()

	switch {
	case err != nil:
		return c.itemFailed(ctx, op, out, err)
	case queued == nil:
		logger.DebugCtx(ctx, "Discarding changeset item of deleted data", "item", out.Key)
		out.Result = ResultDropped
		return out
	}

	out.Result = ResultRetry
	out.Attempt = queued.AttemptCount
	out.NextAttemptAt = queued.NextAttemptAt
	c.metrics.ObserveOutcome(string(op.Category), string(ResultRetry))
	logger.DebugCtx(ctx, "Changeset item re-queued",
		"item", out.Key,
		logger.KeyOpID, queued.ID,
		logger.KeyError, cause)
	return out
}

func (c *Coordinator) itemFailed(ctx context.Context, op *queue.Operation, out Outcome, err error) Outcome {
	out.Result = ResultFailed
	out.Err = err
	c.metrics.ObserveOutcome(string(op.Category), string(ResultFailed))
	c.metrics.ObservePermanentFailure(string(op.Category))
	c.notifier.PermanentFailure(ctx, Failure{
		OpID:        op.ID,
		Kind:        queue.KindFetch,
		Key:         out.Key,
		Category:    op.Category,
		Attempts:    1,
		Err:         err,
		HasFallback: c.store.Contains(out.Key),
	})
	return out
}

// merge writes a remote payload under the key lock, but only while
// operation opID still exists and key was not deleted since: a concurrent
// user data deletion wins over a late result. The budget is enforced after the lock is released.
func (c *Coordinator) merge(ctx context.Context, opID uint64, key string, payload []byte) (dropped bool, err error) {
	ctx, span := telemetry.StartSyncSpan(ctx, telemetry.SpanMerge, opID, key,
		telemetry.Size(int64(len(payload))))
	defer span.End()

	c.mergeGate.RLock()
	err = c.store.Update(ctx, key, func(tx *cache.Tx) error {
		if c.retired(opID, key) {
			dropped = true
			return nil
		}
		_, err := tx.Merge(payload, c.now())
		return err
	})
	c.mergeGate.RUnlock()
	if err != nil {
		telemetry.RecordError(ctx, err)
		return false, err
	}
	if dropped {
		logger.DebugCtx(ctx, "Discarding result of removed operation", "target", key)
		return true, nil
	}

	if _, err := c.evictor.EnforceBudget(ctx); err != nil {
		logger.WarnCtx(ctx, "Budget enforcement failed after merge", logger.KeyError, err)
	}
	return false, nil
}

// revert puts an interrupted operation back to pending.
func (c *Coordinator) revert(ctx context.Context, op *queue.Operation) Outcome {
	rctx := context.WithoutCancel(ctx)
	if err := c.queue.Revert(rctx, op.ID); err != nil && !agerrors.IsNotFoundError(err) {
		logger.WarnCtx(rctx, "Failed to revert operation", logger.KeyError, err)
	}
	logger.DebugCtx(rctx, "Operation reverted after cancellation")
	out := Outcome{OpID: op.ID, Kind: op.Kind, Key: op.TargetKey, Category: op.Category, Result: ResultReverted}
	c.metrics.ObserveOutcome(string(op.Category), string(ResultReverted))
	return out
}

// fail records a failed attempt. Only transient errors are retried; any
// other class, storage failures included, is permanent.
func (c *Coordinator) fail(ctx context.Context, op *queue.Operation, key string, cause error) Outcome {
	ctx = context.WithoutCancel(ctx)
	permanent := !agerrors.IsTransient(cause)

	updated, err := c.queue.MarkFailed(ctx, op.ID, permanent, cause)
	if err != nil {
		if agerrors.IsNotFoundError(err) {
			return c.finish(ctx, op, key, ResultDropped, cause)
		}
		logger.ErrorCtx(ctx, "Failed to record operation failure", logger.KeyError, err)
		return c.finish(ctx, op, key, ResultFailed, err)
	}

	if updated.Status != queue.StatusFailedPermanent {
		c.metrics.ObserveOutcome(string(op.Category), string(ResultRetry))
		logger.InfoCtx(ctx, "Operation will be retried",
			logger.KeyAttempt, updated.AttemptCount,
			logger.KeyNextAttempt, updated.NextAttemptAt,
			logger.KeyError, cause)
		return Outcome{
			OpID:          op.ID,
			Kind:          op.Kind,
			Key:           key,
			Category:      op.Category,
			Result:        ResultRetry,
			Err:           cause,
			Attempt:       updated.AttemptCount,
			NextAttemptAt: updated.NextAttemptAt,
		}
	}

	c.metrics.ObservePermanentFailure(string(op.Category))
	c.notifier.PermanentFailure(ctx, Failure{
		OpID:        op.ID,
		Kind:        op.Kind,
		Key:         key,
		Category:    op.Category,
		Attempts:    updated.AttemptCount,
		Err:         cause,
		HasFallback: key != "" && c.store.Contains(key),
	})
	out := c.finish(ctx, op, key, ResultFailed, cause)
	out.Attempt = updated.AttemptCount
	return out
}

// finish builds a terminal outcome, records it and wakes waiters.
func (c *Coordinator) finish(ctx context.Context, op *queue.Operation, key string, res Result, err error) Outcome {
	out := Outcome{OpID: op.ID, Kind: op.Kind, Key: key, Category: op.Category, Result: res, Err: err}
	c.metrics.ObserveOutcome(string(op.Category), string(res))
	if res.Terminal() {
		c.waiters.resolve(out)
	}
	if res == ResultMerged {
		logger.DebugCtx(ctx, "Operation merged")
	}
	return out
}

// interrupted reports whether err stems from ctx being cancelled rather
// than from the provider.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ctx.Err()))
}
