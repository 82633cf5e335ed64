package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys attached to cache and sync spans.
const (
	AttrKey          = "cache.key"
	AttrCategory     = "cache.category"
	AttrSize         = "cache.size"
	AttrStale        = "cache.stale"
	AttrEvicted      = "cache.evicted"
	AttrFreedBytes   = "cache.freed_bytes"
	AttrOpID         = "queue.op_id"
	AttrOpKind       = "queue.op_kind"
	AttrAttempt      = "queue.attempt"
	AttrDrainID      = "sync.drain_id"
	AttrConnectivity = "sync.connectivity"
	AttrOutcome      = "sync.outcome"
	AttrItems        = "sync.items"
	AttrProvider     = "provider.name"
)

// Span names
const (
	SpanDrain     = "sync.drain"
	SpanFetch     = "sync.fetch"
	SpanChangeset = "sync.changeset"
	SpanMerge     = "sync.merge"
	SpanEvict     = "cache.evict"
	SpanRead      = "cache.read"
	SpanWrite     = "cache.write"
	SpanDelete    = "cache.delete_user_data"
)

func Key(k string) attribute.KeyValue {
	return attribute.String(AttrKey, k)
}

func Category(c string) attribute.KeyValue {
	return attribute.String(AttrCategory, c)
}

func Size(n int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, n)
}

func Stale(stale bool) attribute.KeyValue {
	return attribute.Bool(AttrStale, stale)
}

func Evicted(n int) attribute.KeyValue {
	return attribute.Int(AttrEvicted, n)
}

func FreedBytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrFreedBytes, n)
}

func OpID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrOpID, int64(id))
}

func OpKind(kind string) attribute.KeyValue {
	return attribute.String(AttrOpKind, kind)
}

func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}

func DrainID(id string) attribute.KeyValue {
	return attribute.String(AttrDrainID, id)
}

func Connectivity(class string) attribute.KeyValue {
	return attribute.String(AttrConnectivity, class)
}

func Outcome(o string) attribute.KeyValue {
	return attribute.String(AttrOutcome, o)
}

func Items(n int) attribute.KeyValue {
	return attribute.Int(AttrItems, n)
}

// StartSyncSpan starts a span for one queued operation being synced.
func StartSyncSpan(ctx context.Context, name string, opID uint64, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{OpID(opID), Key(key)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(all...))
}

// StartCacheSpan starts a span for an entry store operation.
func StartCacheSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}
