package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agrisync/pkg/cache"
	agerrors "github.com/marmos91/agrisync/pkg/errors"
	"github.com/marmos91/agrisync/pkg/storage"
	"github.com/marmos91/agrisync/pkg/storage/memory"
)

var t0 = time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC)

func openQueue(t *testing.T, backend storage.Store, now *time.Time) *Queue {
	t.Helper()
	q, err := Open(context.Background(), Options{
		Backend: backend,
		Config: Config{
			Backoff:     Backoff{Base: time.Second, Max: time.Hour},
			MaxAttempts: 4,
		},
		Now: func() time.Time { return *now },
	})
	require.NoError(t, err)
	return q
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 8*time.Second, b.Delay(3))
	assert.Equal(t, 10*time.Second, b.Delay(4))
	assert.Equal(t, 10*time.Second, b.Delay(200))
	assert.Equal(t, t0.Add(4*time.Second), b.Next(t0, 2))

	unbounded := Backoff{Base: time.Second}
	assert.Positive(t, unbounded.Delay(500), "large attempt counts must not overflow")

	// 1ns doubles onto exactly 2^62 before the next step would overflow.
	tiny := Backoff{Base: time.Nanosecond}
	assert.Equal(t, time.Duration(1<<62), tiny.Delay(62))
	assert.Equal(t, time.Duration(1<<62), tiny.Delay(63))
	assert.Positive(t, tiny.Delay(64))
}

func TestEnqueueIsIdempotentPerKey(t *testing.T) {
	now := t0
	q := openQueue(t, memory.New(), &now)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, Fetch("price:onion/nashik"))
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, Fetch("price:onion/nashik"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, q.Pending())

	require.NoError(t, q.MarkInFlight(ctx, id1))
	id3, err := q.Enqueue(ctx, Fetch("price:onion/nashik"))
	require.NoError(t, err)
	assert.Equal(t, id1, id3, "an in-flight fetch also absorbs new requests")

	s1, err := q.Enqueue(ctx, SyncAll(cache.CategoryPrice, time.Time{}))
	require.NoError(t, err)
	s2, err := q.Enqueue(ctx, SyncAll(cache.CategoryPrice, time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.NotEqual(t, id1, s1)
	assert.Equal(t, 2, q.Pending())
}

func TestEnqueueRejectsInvalidRequests(t *testing.T) {
	now := t0
	q := openQueue(t, memory.New(), &now)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Fetch("no-category"))
	assert.Equal(t, agerrors.ErrInvalidArgument, agerrors.CodeOf(err))
	_, err = q.Enqueue(ctx, SyncAll("soil", time.Time{}))
	assert.Equal(t, agerrors.ErrInvalidArgument, agerrors.CodeOf(err))
	_, err = q.Enqueue(ctx, Request{Kind: "push", Key: "price:x"})
	assert.Equal(t, agerrors.ErrInvalidArgument, agerrors.CodeOf(err))
}

func TestDequeueReadyOrder(t *testing.T) {
	now := t0
	q := openQueue(t, memory.New(), &now)
	ctx := context.Background()

	priceID, err := q.Enqueue(ctx, Fetch("price:onion"))
	require.NoError(t, err)
	schemeID, err := q.Enqueue(ctx, Fetch("scheme:pm-kisan"))
	require.NoError(t, err)

	op, ok := q.DequeueReady(now)
	require.True(t, ok)
	assert.Equal(t, priceID, op.ID, "ascending id by default")

	op, ok = q.DequeueReadyWith(now, Selector{PreferPriority: true})
	require.True(t, ok)
	assert.Equal(t, schemeID, op.ID, "scheme wins under constrained bandwidth")

	_, ok = q.DequeueReadyWith(now, Selector{Allow: func(o *Operation) bool { return o.Category == cache.CategoryWeather }})
	assert.False(t, ok)
}

func TestDequeueSkipsNotYetReady(t *testing.T) {
	now := t0
	q := openQueue(t, memory.New(), &now)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Request{Kind: KindFetch, Key: "weather:pune", NotBefore: t0.Add(time.Minute)})
	require.NoError(t, err)

	_, ok := q.DequeueReady(now)
	assert.False(t, ok)
	_, ok = q.DequeueReady(t0.Add(time.Minute))
	assert.True(t, ok, "ready when next_attempt_at <= now")
}

func TestTransientFailuresBackOffUntilPermanent(t *testing.T) {
	now := t0
	q := openQueue(t, memory.New(), &now)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Fetch("price:onion"))
	require.NoError(t, err)

	var prev time.Time
	cause := agerrors.Wrap(agerrors.ErrTransientNetwork, "price:onion", errors.New("503"), "fetch failed")
	for attempt := 1; attempt < 4; attempt++ {
		require.NoError(t, q.MarkInFlight(ctx, id))
		op, err := q.MarkFailed(ctx, id, false, cause)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, op.Status)
		assert.Equal(t, attempt, op.AttemptCount)
		assert.True(t, op.NextAttemptAt.After(prev), "next_attempt_at must strictly increase")
		assert.Contains(t, op.LastError, "503")
		prev = op.NextAttemptAt
		now = op.NextAttemptAt
	}

	require.NoError(t, q.MarkInFlight(ctx, id))
	op, err := q.MarkFailed(ctx, id, false, cause)
	require.NoError(t, err)
	assert.Equal(t, StatusFailedPermanent, op.Status)
	assert.Equal(t, 4, op.AttemptCount)

	_, ok := q.Get(id)
	assert.False(t, ok, "permanently failed operations leave the queue")
	assert.Zero(t, q.Pending())
}

func TestPermanentFailureIsImmediate(t *testing.T) {
	now := t0
	q := openQueue(t, memory.New(), &now)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Fetch("scheme:unknown"))
	require.NoError(t, err)
	require.NoError(t, q.MarkInFlight(ctx, id))

	op, err := q.MarkFailed(ctx, id, true, errors.New("404"))
	require.NoError(t, err)
	assert.Equal(t, StatusFailedPermanent, op.Status)
	assert.Equal(t, 1, op.AttemptCount)
	assert.Zero(t, q.Pending())
}

func TestRevertKeepsBackoffState(t *testing.T) {
	now := t0
	q := openQueue(t, memory.New(), &now)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Fetch("price:onion"))
	require.NoError(t, err)
	require.NoError(t, q.MarkInFlight(ctx, id))
	assert.True(t, q.IsPinned("price:onion"))

	require.NoError(t, q.Revert(ctx, id))
	op, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, op.Status)
	assert.Zero(t, op.AttemptCount)
	assert.True(t, op.NextAttemptAt.Equal(t0))
	assert.False(t, q.IsPinned("price:onion"))
}

func TestMarkInFlightRequiresPending(t *testing.T) {
	now := t0
	q := openQueue(t, memory.New(), &now)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Fetch("price:onion"))
	require.NoError(t, err)
	require.NoError(t, q.MarkInFlight(ctx, id))
	assert.Error(t, q.MarkInFlight(ctx, id))
	assert.True(t, agerrors.IsNotFoundError(q.MarkInFlight(ctx, 999)))
}

func TestSyncAllPinsItsCategory(t *testing.T) {
	now := t0
	q := openQueue(t, memory.New(), &now)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, SyncAll(cache.CategoryPrice, time.Time{}))
	require.NoError(t, err)
	assert.False(t, q.IsPinned("price:onion"))

	require.NoError(t, q.MarkInFlight(ctx, id))
	assert.True(t, q.IsPinned("price:onion"))
	assert.False(t, q.IsPinned("scheme:pm-kisan"))

	require.NoError(t, q.MarkComplete(ctx, id))
	assert.False(t, q.IsPinned("price:onion"))
}

func TestOpenRevertsInFlightOperations(t *testing.T) {
	now := t0
	backend := memory.New()
	q := openQueue(t, backend, &now)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Fetch("weather:pune"))
	require.NoError(t, err)
	require.NoError(t, q.MarkInFlight(ctx, id))
	_, err = q.Enqueue(ctx, Fetch("price:onion"))
	require.NoError(t, err)

	reopened := openQueue(t, backend, &now)
	op, ok := reopened.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, op.Status)
	assert.Equal(t, 2, reopened.Pending())

	again, err := reopened.Enqueue(ctx, Fetch("weather:pune"))
	require.NoError(t, err)
	assert.Equal(t, id, again, "dedup index is rebuilt on open")

	next, err := reopened.Enqueue(ctx, Fetch("advice:wheat"))
	require.NoError(t, err)
	assert.Greater(t, next, id)
}

func TestRemoveMatching(t *testing.T) {
	now := t0
	q := openQueue(t, memory.New(), &now)
	ctx := context.Background()

	for _, key := range []string{"profile:me", "profile:farm", "price:onion"} {
		_, err := q.Enqueue(ctx, Fetch(key))
		require.NoError(t, err)
	}
	_, err := q.Enqueue(ctx, SyncAll(cache.CategoryProfile, time.Time{}))
	require.NoError(t, err)

	n, err := q.RemoveMatching(ctx, func(op *Operation) bool { return op.Category == cache.CategoryProfile })
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ops := q.List()
	require.Len(t, ops, 1)
	assert.Equal(t, "price:onion", ops[0].TargetKey)
}
