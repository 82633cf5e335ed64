package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "agrisync", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
	assert.NotNil(t, Tracer())
}

func TestNoopSpansCarryNoIDs(t *testing.T) {
	ctx, span := StartSyncSpan(context.Background(), SpanFetch, 42, "price:onion/nashik", Attempt(1))
	defer span.End()

	// Helpers must be safe on no-op spans.
	AddEvent(ctx, "retry", Category("price"))
	SetAttributes(ctx, Size(10), Stale(true))
	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)

	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))
}

func TestStartCacheSpan(t *testing.T) {
	ctx, span := StartCacheSpan(context.Background(), SpanEvict, Evicted(2), FreedBytes(1024))
	require.NotNil(t, ctx)
	span.End()
}

func TestAttributeHelpers(t *testing.T) {
	assert.Equal(t, AttrKey, string(Key("k").Key))
	assert.Equal(t, "scheme", Category("scheme").Value.AsString())
	assert.Equal(t, int64(7), OpID(7).Value.AsInt64())
	assert.Equal(t, "fetch", OpKind("fetch").Value.AsString())
	assert.Equal(t, "d-1", DrainID("d-1").Value.AsString())
	assert.Equal(t, "metered", Connectivity("metered").Value.AsString())
	assert.Equal(t, "merged", Outcome("merged").Value.AsString())
	assert.Equal(t, int64(3), Items(3).Value.AsInt64())
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOn")
	assert.Contains(t, sampler(0).Description(), "AlwaysOff")
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}

func TestInitProfilingDisabled(t *testing.T) {
	stop, err := InitProfiling(ProfilingConfig{})
	require.NoError(t, err)
	assert.NoError(t, stop())
}

func TestParseProfileTypes(t *testing.T) {
	types, err := ParseProfileTypes([]string{"cpu", "inuse_space", "cpu", "block_duration"})
	require.NoError(t, err)
	assert.Len(t, types, 3)

	_, err = ParseProfileTypes([]string{"heap"})
	assert.ErrorContains(t, err, "heap")
}

func TestProfileTypeNames(t *testing.T) {
	names := ProfileTypeNames()
	assert.Len(t, names, 10)
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, "goroutines")
}

func TestInitProfilingRejectsUnknownType(t *testing.T) {
	_, err := InitProfiling(ProfilingConfig{Enabled: true, ProfileTypes: []string{"heap"}})
	assert.Error(t, err)
}
