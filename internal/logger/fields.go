package logger

import (
	"log/slog"
	"time"
)

// Standard field keys. Keep these stable: dashboards and log queries
// on the device fleet filter on them.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Cache entries
	KeyKey       = "key"
	KeyCategory  = "category"
	KeyPriority  = "priority"
	KeySize      = "size"
	KeyStale     = "stale"
	KeyEncrypted = "encrypted"

	// Budget & eviction
	KeyUsedBytes   = "used_bytes"
	KeyBudgetBytes = "budget_bytes"
	KeyFreedBytes  = "freed_bytes"
	KeyEvicted     = "evicted"

	// Request queue
	KeyOpID        = "op_id"
	KeyOpKind      = "op_kind"
	KeyAttempt     = "attempt"
	KeyNextAttempt = "next_attempt"
	KeyPending     = "pending"

	// Sync
	KeyDrainID      = "drain_id"
	KeyConnectivity = "connectivity"
	KeyOutcome      = "outcome"
	KeyItems        = "items"
	KeyProvider     = "provider"

	// Storage backend
	KeyBackend = "backend"
	KeyPath    = "path"
	KeyBucket  = "bucket"

	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
)

func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Key is the cache key of the entry an event concerns.
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

func Category(c string) slog.Attr {
	return slog.String(KeyCategory, c)
}

func Priority(p int) slog.Attr {
	return slog.Int(KeyPriority, p)
}

func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

func Stale(stale bool) slog.Attr {
	return slog.Bool(KeyStale, stale)
}

func UsedBytes(n int64) slog.Attr {
	return slog.Int64(KeyUsedBytes, n)
}

func BudgetBytes(n int64) slog.Attr {
	return slog.Int64(KeyBudgetBytes, n)
}

func FreedBytes(n int64) slog.Attr {
	return slog.Int64(KeyFreedBytes, n)
}

func Evicted(n int) slog.Attr {
	return slog.Int(KeyEvicted, n)
}

func OpID(id uint64) slog.Attr {
	return slog.Uint64(KeyOpID, id)
}

func OpKind(kind string) slog.Attr {
	return slog.String(KeyOpKind, kind)
}

func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

func NextAttempt(t time.Time) slog.Attr {
	return slog.Time(KeyNextAttempt, t)
}

func DrainID(id string) slog.Attr {
	return slog.String(KeyDrainID, id)
}

func Connectivity(c string) slog.Attr {
	return slog.String(KeyConnectivity, c)
}

func Backend(name string) slog.Attr {
	return slog.String(KeyBackend, name)
}

func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns an error attribute. A nil error yields an empty attribute that
// handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
