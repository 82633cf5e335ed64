package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/agrisync/internal/logger"
	"github.com/marmos91/agrisync/pkg/cache"
	"github.com/marmos91/agrisync/pkg/connectivity"
	"github.com/marmos91/agrisync/pkg/queue"
)

// Result is the outcome of processing one key or operation.
type Result string

const (
	// ResultMerged means the remote payload was written to the store.
	ResultMerged Result = "merged"

	// ResultRetry means a transient failure; the key stays queued.
	ResultRetry Result = "retry"

	// ResultFailed means a permanent failure, surfaced to the Notifier.
	ResultFailed Result = "failed-permanent"

	// ResultReverted means the drain was cancelled while the operation was
	// in flight; it is pending again with its backoff state unchanged.
	ResultReverted Result = "reverted"

	// ResultDropped means the operation was removed while in flight (user
	// data deletion) and its result was discarded.
	ResultDropped Result = "dropped"
)

// Terminal reports whether the operation behind the outcome has left the
// queue.
func (r Result) Terminal() bool {
	return r == ResultMerged || r == ResultFailed || r == ResultDropped
}

// Outcome reports what happened to one key. A sync-all produces one outcome
// per changeset item, all carrying the operation's id.
type Outcome struct {
	OpID     uint64
	Kind     queue.Kind
	Key      string
	Category cache.Category
	Result   Result
	Err      error

	// Attempt and NextAttemptAt are set for retries.
	Attempt       int
	NextAttemptAt time.Time

	// Items is the changeset size of a sync-all summary outcome.
	Items int
}

// DrainReport summarizes one Drain call.
type DrainReport struct {
	DrainID   string
	Class     connectivity.Class
	Processed int

	// Deferred counts ready operations the connectivity class held back.
	Deferred  int
	Cancelled bool
	Outcomes  []Outcome
	Duration  time.Duration
}

// Count returns the number of outcomes with result r.
func (r *DrainReport) Count(res Result) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Result == res {
			n++
		}
	}
	return n
}

// Failure describes a permanently failed operation or changeset item.
type Failure struct {
	OpID     uint64
	Kind     queue.Kind
	Key      string
	Category cache.Category
	Attempts int
	Err      error

	// HasFallback is set when a stale copy of the key is still cached.
	HasFallback bool
}

// Notifier is told about every permanent failure so the caller that
// requested the data can learn that fresher data could not be obtained.
type Notifier interface {
	PermanentFailure(ctx context.Context, f Failure)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, f Failure)

func (fn NotifierFunc) PermanentFailure(ctx context.Context, f Failure) { fn(ctx, f) }

// LogNotifier logs permanent failures as warnings.
type LogNotifier struct{}

func (LogNotifier) PermanentFailure(ctx context.Context, f Failure) {
	logger.WarnCtx(ctx, "Fresher data could not be obtained",
		logger.KeyOpKind, string(f.Kind),
		"target", f.Key,
		logger.KeyCategory, string(f.Category),
		logger.KeyAttempt, f.Attempts,
		"stale_fallback", f.HasFallback,
		logger.KeyError, f.Err)
}

// recentOutcomes bounds the terminal outcomes kept for callers that start
// waiting after an operation already finished.
const recentOutcomes = 256

// waiters delivers terminal outcomes to callers blocked in a direct fetch.
type waiters struct {
	mu     sync.Mutex
	byOp   map[uint64][]chan Outcome
	recent map[uint64]Outcome
	order  []uint64
}

func newWaiters() *waiters {
	return &waiters{
		byOp:   make(map[uint64][]chan Outcome),
		recent: make(map[uint64]Outcome),
	}
}

func (w *waiters) add(id uint64) (<-chan Outcome, func()) {
	ch := make(chan Outcome, 1)
	w.mu.Lock()
	w.byOp[id] = append(w.byOp[id], ch)
	w.mu.Unlock()

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		list := w.byOp[id]
		for i, c := range list {
			if c == ch {
				w.byOp[id] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(w.byOp[id]) == 0 {
			delete(w.byOp, id)
		}
	}
}

func (w *waiters) resolve(o Outcome) {
	w.mu.Lock()
	if _, ok := w.recent[o.OpID]; !ok {
		w.order = append(w.order, o.OpID)
	}
	w.recent[o.OpID] = o
	if len(w.order) > recentOutcomes {
		delete(w.recent, w.order[0])
		w.order = w.order[1:]
	}
	list := w.byOp[o.OpID]
	delete(w.byOp, o.OpID)
	w.mu.Unlock()

	for _, ch := range list {
		ch <- o
	}
}

func (w *waiters) last(id uint64) (Outcome, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.recent[id]
	return o, ok
}
