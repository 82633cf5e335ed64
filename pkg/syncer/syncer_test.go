package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agrisync/pkg/cache"
	"github.com/marmos91/agrisync/pkg/connectivity"
	agerrors "github.com/marmos91/agrisync/pkg/errors"
	"github.com/marmos91/agrisync/pkg/provider"
	"github.com/marmos91/agrisync/pkg/provider/providertest"
	"github.com/marmos91/agrisync/pkg/queue"
	"github.com/marmos91/agrisync/pkg/storage/memory"
)

var t0 = time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu       sync.Mutex
	failures []Failure
}

func (n *recordingNotifier) PermanentFailure(_ context.Context, f Failure) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, f)
}

func (n *recordingNotifier) all() []Failure {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Failure(nil), n.failures...)
}

type fixture struct {
	store    *cache.Store
	evictor  *cache.Evictor
	queue    *queue.Queue
	provider *providertest.Fake
	notifier *recordingNotifier
	monitor  *connectivity.Static
	coord    *Coordinator
	now      time.Time
}

func newFixture(t *testing.T, budget int64, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	backend := memory.New()
	f := &fixture{
		provider: providertest.New(),
		notifier: &recordingNotifier{},
		monitor:  connectivity.NewStatic(connectivity.Normal),
		now:      t0,
	}
	clock := func() time.Time { return f.now }

	var err error
	f.store, err = cache.Open(ctx, cache.Options{Backend: backend, Budget: budget, Now: clock})
	require.NoError(t, err)
	f.queue, err = queue.Open(ctx, queue.Options{
		Backend: backend,
		Config: queue.Config{
			Backoff:     queue.Backoff{Base: time.Second, Max: time.Minute},
			MaxAttempts: 3,
		},
		Now: clock,
	})
	require.NoError(t, err)
	f.evictor = cache.NewEvictor(f.store, f.queue, nil)

	f.coord, err = New(Options{
		Store:    f.store,
		Evictor:  f.evictor,
		Queue:    f.queue,
		Provider: f.provider,
		Monitor:  f.monitor,
		Notifier: f.notifier,
		Config:   cfg,
		Now:      clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.store.Close() })
	return f
}

func (f *fixture) enqueue(t *testing.T, req queue.Request) uint64 {
	t.Helper()
	id, err := f.queue.Enqueue(context.Background(), req)
	require.NoError(t, err)
	return id
}

func (f *fixture) payload(t *testing.T, key string) string {
	t.Helper()
	l, err := f.store.Get(context.Background(), key)
	require.NoError(t, err)
	return string(l.Entry.Payload)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Equal(t, agerrors.ErrInvalidArgument, agerrors.CodeOf(err))
}

func TestDrainOfflineIsNoop(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.provider.Set("price:onion", []byte("2150"))
	f.enqueue(t, queue.Fetch("price:onion"))

	report, err := f.coord.Drain(context.Background(), connectivity.Offline)
	require.NoError(t, err)
	assert.Zero(t, report.Processed)
	assert.Empty(t, f.provider.Fetches())
	assert.Equal(t, 1, f.queue.Pending())
}

func TestDrainFetchMerges(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.provider.Set("weather:pune", []byte("28C"))
	id := f.enqueue(t, queue.Fetch("weather:pune"))
	done, cancel := f.coord.Await(id)
	defer cancel()

	report, err := f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, ResultMerged, report.Outcomes[0].Result)
	assert.NotEmpty(t, report.DrainID)

	assert.Equal(t, "28C", f.payload(t, "weather:pune"))
	assert.Zero(t, f.queue.Pending())

	select {
	case out := <-done:
		assert.Equal(t, ResultMerged, out.Result)
		assert.Equal(t, id, out.OpID)
	default:
		t.Fatal("waiter was not resolved")
	}
}

func TestMeteredDrainServesPriorityOnly(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.provider.Set("price:onion", []byte("2150"))
	f.provider.Set("scheme:pm-kisan", []byte("rules"))
	priceID := f.enqueue(t, queue.Fetch("price:onion"))
	f.enqueue(t, queue.Fetch("scheme:pm-kisan"))

	report, err := f.coord.Drain(context.Background(), connectivity.Metered)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Deferred)
	assert.Equal(t, []string{"scheme:pm-kisan"}, f.provider.Fetches())

	op, ok := f.queue.Get(priceID)
	require.True(t, ok)
	assert.Equal(t, queue.StatusPending, op.Status)
	assert.Zero(t, op.AttemptCount)

	report, err = f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, "2150", f.payload(t, "price:onion"))
}

func TestDrainHonorsBatchLimit(t *testing.T) {
	f := newFixture(t, 0, Config{BatchLimit: 2})
	for _, k := range []string{"advice:a", "advice:b", "advice:c"} {
		f.provider.Set(k, []byte(k))
		f.enqueue(t, queue.Fetch(k))
	}

	report, err := f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, []string{"advice:a", "advice:b"}, f.provider.Fetches())
	assert.Equal(t, 1, f.queue.Pending())
}

func TestTransientFetchFailureIsRetried(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.provider.Set("price:onion", []byte("2150"))
	f.provider.FailNext("price:onion", errors.New("connection reset"))
	id := f.enqueue(t, queue.Fetch("price:onion"))

	report, err := f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	assert.Equal(t, ResultRetry, out.Result)
	assert.Equal(t, 1, out.Attempt)
	assert.Equal(t, t0.Add(time.Second), out.NextAttemptAt)

	op, ok := f.queue.Get(id)
	require.True(t, ok)
	assert.Equal(t, queue.StatusPending, op.Status)
	assert.False(t, f.store.Contains("price:onion"))

	// Not ready yet: a second drain does nothing.
	report, err = f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)
	assert.Zero(t, report.Processed)

	f.now = f.now.Add(time.Second)
	report, err = f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(ResultMerged))
	assert.Equal(t, "2150", f.payload(t, "price:onion"))
}

func TestPermanentFailureReachesNotifier(t *testing.T) {
	f := newFixture(t, 0, Config{})
	_, err := f.store.Put(context.Background(), &cache.Entry{Key: "scheme:old", Payload: []byte("v1")})
	require.NoError(t, err)
	f.provider.FailNext("scheme:old", provider.Permanent("scheme:old", errors.New("withdrawn")))
	id := f.enqueue(t, queue.Fetch("scheme:old"))

	report, err := f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(ResultFailed))

	failures := f.notifier.all()
	require.Len(t, failures, 1)
	assert.Equal(t, id, failures[0].OpID)
	assert.Equal(t, "scheme:old", failures[0].Key)
	assert.True(t, failures[0].HasFallback)
	assert.True(t, agerrors.IsPermanent(failures[0].Err))

	_, ok := f.queue.Get(id)
	assert.False(t, ok)
	assert.Equal(t, "v1", f.payload(t, "scheme:old"), "stale copy stays readable")
}

func TestTransientFailuresExhaustAttempts(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.provider.FailNext("advice:sowing",
		provider.Transient("advice:sowing", errors.New("503")),
		provider.Transient("advice:sowing", errors.New("503")),
		provider.Transient("advice:sowing", errors.New("503")))
	f.enqueue(t, queue.Fetch("advice:sowing"))

	var last time.Time
	for i := 0; i < 2; i++ {
		report, err := f.coord.Drain(context.Background(), connectivity.Normal)
		require.NoError(t, err)
		require.Len(t, report.Outcomes, 1)
		out := report.Outcomes[0]
		require.Equal(t, ResultRetry, out.Result)
		assert.True(t, out.NextAttemptAt.After(last))
		last = out.NextAttemptAt
		f.now = out.NextAttemptAt
	}

	report, err := f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(ResultFailed))
	require.Len(t, f.notifier.all(), 1)
	assert.Equal(t, 3, f.notifier.all()[0].Attempts)
	assert.False(t, f.notifier.all()[0].HasFallback)
	assert.Zero(t, f.queue.Pending())
}

func TestSyncAllAppliesItemsIndependently(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.provider.SetChangeset(cache.CategoryPrice,
		provider.ChangeItem{Key: "price:onion", Payload: []byte("2150")},
		provider.ChangeItem{Key: "price:tomato", Err: provider.Transient("price:tomato", errors.New("timeout"))},
		provider.ChangeItem{Key: "price:wheat", Payload: []byte("2275")},
	)
	parent := f.enqueue(t, queue.SyncAll(cache.CategoryPrice, time.Time{}))

	report, err := f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, ResultMerged, report.Outcomes[0].Result)
	assert.Equal(t, ResultRetry, report.Outcomes[1].Result)
	assert.Equal(t, 1, report.Outcomes[1].Attempt)
	assert.Equal(t, ResultMerged, report.Outcomes[2].Result)

	assert.Equal(t, "2150", f.payload(t, "price:onion"))
	assert.Equal(t, "2275", f.payload(t, "price:wheat"))
	assert.False(t, f.store.Contains("price:tomato"))

	_, ok := f.queue.Get(parent)
	assert.False(t, ok, "sync-all completes once its items are applied")

	ops := f.queue.List()
	require.Len(t, ops, 1)
	assert.Equal(t, queue.KindFetch, ops[0].Kind)
	assert.Equal(t, "price:tomato", ops[0].TargetKey)
	assert.Equal(t, 1, ops[0].AttemptCount)
	assert.Equal(t, t0.Add(time.Second), ops[0].NextAttemptAt)
}

func TestSyncAllUsesLatestSyncAsWatermark(t *testing.T) {
	f := newFixture(t, 0, Config{})
	_, err := f.store.Merge(context.Background(), "weather:pune", []byte("28C"), t0.Add(-time.Hour))
	require.NoError(t, err)
	f.enqueue(t, queue.SyncAll(cache.CategoryWeather, time.Time{}))

	_, err = f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(-time.Hour), f.provider.Since(cache.CategoryWeather))
}

func TestSyncAllDuplicateKeysLastWins(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.provider.SetChangeset(cache.CategoryScheme,
		provider.ChangeItem{Key: "scheme:kcc", Payload: []byte("v1")},
		provider.ChangeItem{Key: "scheme:kcc", Payload: []byte("v2")},
	)
	f.enqueue(t, queue.SyncAll(cache.CategoryScheme, time.Time{}))

	_, err := f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)
	assert.Equal(t, "v2", f.payload(t, "scheme:kcc"))
}

func TestSyncAllRejectsForeignItems(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.provider.SetChangeset(cache.CategoryScheme,
		provider.ChangeItem{Key: "price:onion", Payload: []byte("2150")},
	)
	f.enqueue(t, queue.SyncAll(cache.CategoryScheme, time.Time{}))

	report, err := f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(ResultFailed))
	assert.False(t, f.store.Contains("price:onion"))
	require.Len(t, f.notifier.all(), 1)
}

func TestCancelledDrainRevertsInFlightOperation(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.provider.Set("price:onion", []byte("2150"))
	release := f.provider.Hold("price:onion")
	defer release()
	id := f.enqueue(t, queue.Fetch("price:onion"))

	ctx, cancel := context.WithCancel(context.Background())
	reports := make(chan *DrainReport, 1)
	go func() {
		report, err := f.coord.Drain(ctx, connectivity.Normal)
		assert.NoError(t, err)
		reports <- report
	}()

	require.Eventually(t, func() bool { return len(f.provider.Fetches()) == 1 }, time.Second, time.Millisecond)
	op, ok := f.queue.Get(id)
	require.True(t, ok)
	assert.Equal(t, queue.StatusInFlight, op.Status)
	assert.True(t, f.queue.IsPinned("price:onion"))

	cancel()
	report := <-reports
	assert.True(t, report.Cancelled)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, ResultReverted, report.Outcomes[0].Result)

	op, ok = f.queue.Get(id)
	require.True(t, ok)
	assert.Equal(t, queue.StatusPending, op.Status)
	assert.Zero(t, op.AttemptCount)
	assert.False(t, f.store.Contains("price:onion"))
	assert.Empty(t, f.notifier.all())
}

func TestResultOfRemovedOperationIsDiscarded(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.provider.Set("profile:me", []byte("farmer"))
	release := f.provider.Hold("profile:me")
	id := f.enqueue(t, queue.Fetch("profile:me"))

	reports := make(chan *DrainReport, 1)
	go func() {
		report, err := f.coord.Drain(context.Background(), connectivity.Normal)
		assert.NoError(t, err)
		reports <- report
	}()

	require.Eventually(t, func() bool { return len(f.provider.Fetches()) == 1 }, time.Second, time.Millisecond)
	n, err := f.queue.RemoveMatching(context.Background(), func(*queue.Operation) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	release()

	report := <-reports
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, ResultDropped, report.Outcomes[0].Result)
	assert.Equal(t, id, report.Outcomes[0].OpID)
	assert.False(t, f.store.Contains("profile:me"))
}

func TestMergeEnforcesBudget(t *testing.T) {
	f := newFixture(t, 10, Config{})
	ctx := context.Background()
	_, err := f.store.Merge(ctx, "advice:old", []byte("12345678"), t0.Add(-time.Hour))
	require.NoError(t, err)
	f.provider.Set("advice:new", []byte("abcdefgh"))
	f.enqueue(t, queue.Fetch("advice:new"))

	_, err = f.coord.Drain(ctx, connectivity.Normal)
	require.NoError(t, err)
	assert.False(t, f.store.Contains("advice:old"))
	assert.Equal(t, "abcdefgh", f.payload(t, "advice:new"))
	assert.LessOrEqual(t, f.store.Usage().UsedBytes, int64(10))
}

func TestWorkerDrainsOnKickAndConnectivity(t *testing.T) {
	f := newFixture(t, 0, Config{Interval: time.Hour, EvictionInterval: time.Hour})
	f.monitor.Set(connectivity.Offline)
	f.coord.Start(context.Background())
	defer func() { require.NoError(t, f.coord.Stop(time.Second)) }()

	f.provider.Set("weather:pune", []byte("28C"))
	f.enqueue(t, queue.Fetch("weather:pune"))
	f.coord.Kick()

	// Offline: the kick is ignored.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.provider.Fetches())

	f.monitor.Set(connectivity.Normal)
	require.Eventually(t, func() bool { return f.store.Contains("weather:pune") }, time.Second, 5*time.Millisecond)

	f.provider.Set("advice:sowing", []byte("sow"))
	f.enqueue(t, queue.Fetch("advice:sowing"))
	f.coord.Kick()
	require.Eventually(t, func() bool { return f.store.Contains("advice:sowing") }, time.Second, 5*time.Millisecond)
}

func TestWorkerOfflineCancelsDrain(t *testing.T) {
	f := newFixture(t, 0, Config{Interval: time.Hour, EvictionInterval: time.Hour})
	f.provider.Set("price:onion", []byte("2150"))
	release := f.provider.Hold("price:onion")
	defer release()
	id := f.enqueue(t, queue.Fetch("price:onion"))

	f.coord.Start(context.Background())
	defer func() { require.NoError(t, f.coord.Stop(time.Second)) }()

	require.Eventually(t, func() bool { return len(f.provider.Fetches()) == 1 }, time.Second, time.Millisecond)
	f.monitor.Set(connectivity.Offline)

	require.Eventually(t, func() bool {
		op, ok := f.queue.Get(id)
		return ok && op.Status == queue.StatusPending
	}, time.Second, 5*time.Millisecond)
	assert.False(t, f.store.Contains("price:onion"))
}

func TestChangesetLocalMergeFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, 0, Config{})
	f.provider.SetChangeset(cache.CategoryProfile,
		provider.ChangeItem{Key: "profile:me", Payload: []byte("farmer")},
	)
	f.enqueue(t, queue.SyncAll(cache.CategoryProfile, time.Time{}))

	report, err := f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	assert.Equal(t, ResultFailed, out.Result)
	assert.Equal(t, agerrors.ErrDecryptionUnavailable, agerrors.CodeOf(out.Err))
	assert.Zero(t, out.Attempt)

	assert.Zero(t, f.queue.Pending(), "a local failure queues no fetch")
	assert.False(t, f.store.Contains("profile:me"))
	failures := f.notifier.all()
	require.Len(t, failures, 1)
	assert.Equal(t, "profile:me", failures[0].Key)
	assert.Equal(t, agerrors.ErrDecryptionUnavailable, agerrors.CodeOf(failures[0].Err))
}

func TestRequeuedItemReportsQueuedOperation(t *testing.T) {
	f := newFixture(t, 0, Config{})
	existing := f.enqueue(t, queue.Request{
		Kind:         queue.KindFetch,
		Key:          "price:tomato",
		AttemptCount: 2,
		NotBefore:    t0.Add(time.Hour),
	})
	f.provider.SetChangeset(cache.CategoryPrice,
		provider.ChangeItem{Key: "price:tomato", Err: provider.Transient("price:tomato", errors.New("timeout"))},
	)
	f.enqueue(t, queue.SyncAll(cache.CategoryPrice, time.Time{}))

	report, err := f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	assert.Equal(t, ResultRetry, out.Result)
	assert.Equal(t, 2, out.Attempt)
	assert.Equal(t, t0.Add(time.Hour), out.NextAttemptAt)

	ops := f.queue.List()
	require.Len(t, ops, 1)
	assert.Equal(t, existing, ops[0].ID)
}

func TestExcludedKeysAreNotRestoredByRunningChangeset(t *testing.T) {
	f := newFixture(t, 0, Config{})
	ctx := context.Background()
	_, err := f.store.Merge(ctx, "scheme:pmkisan", []byte("old"), t0.Add(-time.Hour))
	require.NoError(t, err)
	f.provider.SetChangeset(cache.CategoryScheme,
		provider.ChangeItem{Key: "scheme:pmkisan", Payload: []byte("new")},
		provider.ChangeItem{Key: "scheme:kcc", Err: provider.Transient("scheme:kcc", errors.New("timeout"))},
		provider.ChangeItem{Key: "scheme:pmfby", Payload: []byte("crop insurance")},
	)
	release := f.provider.HoldChangeset(cache.CategoryScheme)
	defer release()
	f.enqueue(t, queue.SyncAll(cache.CategoryScheme, time.Time{}))

	reports := make(chan *DrainReport, 1)
	go func() {
		report, err := f.coord.Drain(ctx, connectivity.Normal)
		assert.NoError(t, err)
		reports <- report
	}()
	require.Eventually(t, func() bool { return f.provider.Changesets() == 1 }, time.Second, time.Millisecond)

	deleted := []string{"scheme:pmkisan", "scheme:kcc"}
	err = f.coord.Exclude(deleted, func() error {
		_, err := f.queue.RemoveMatching(ctx, func(op *queue.Operation) bool {
			return op.Kind == queue.KindFetch && (op.TargetKey == deleted[0] || op.TargetKey == deleted[1])
		})
		return err
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, "scheme:pmkisan"))
	release()

	report := <-reports
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, ResultDropped, report.Outcomes[0].Result)
	assert.Equal(t, ResultDropped, report.Outcomes[1].Result)
	assert.Equal(t, ResultMerged, report.Outcomes[2].Result)

	assert.False(t, f.store.Contains("scheme:pmkisan"))
	assert.Equal(t, "crop insurance", f.payload(t, "scheme:pmfby"))
	assert.Zero(t, f.queue.Pending(), "no fetch is queued for a deleted key")
}

func TestLastOutcomeOfFinishedOperation(t *testing.T) {
	f := newFixture(t, 0, Config{})
	id := f.enqueue(t, queue.Fetch("price:onion"))

	_, err := f.coord.Drain(context.Background(), connectivity.Normal)
	require.NoError(t, err)

	out, ok := f.coord.LastOutcome(id)
	require.True(t, ok)
	assert.Equal(t, ResultFailed, out.Result)
	assert.Equal(t, agerrors.ErrPermanentProvider, agerrors.CodeOf(out.Err))

	_, ok = f.coord.LastOutcome(id + 100)
	assert.False(t, ok)
}
