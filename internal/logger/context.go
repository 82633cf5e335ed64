package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext carries the identifiers of the sync work being logged so that
// every line emitted through the *Ctx functions can be correlated.
type LogContext struct {
	TraceID   string
	SpanID    string
	DrainID   string // drain cycle the operation belongs to
	OpID      uint64 // queued operation, zero for direct reads/writes
	Key       string
	Category  string
	StartTime time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext starts a LogContext for a drain cycle.
func NewLogContext(drainID string) *LogContext {
	return &LogContext{
		DrainID:   drainID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithOperation returns a copy scoped to a single queued operation.
func (lc *LogContext) WithOperation(opID uint64, key, category string) *LogContext {
	c := lc.Clone()
	if c == nil {
		c = &LogContext{StartTime: time.Now()}
	}
	c.OpID = opID
	c.Key = key
	c.Category = category
	return c
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}

func (lc *LogContext) args() []any {
	args := make([]any, 0, 12)
	if lc.TraceID != "" {
		args = append(args, KeyTraceID, lc.TraceID)
	}
	if lc.SpanID != "" {
		args = append(args, KeySpanID, lc.SpanID)
	}
	if lc.DrainID != "" {
		args = append(args, KeyDrainID, lc.DrainID)
	}
	if lc.OpID != 0 {
		args = append(args, KeyOpID, lc.OpID)
	}
	if lc.Key != "" {
		args = append(args, KeyKey, lc.Key)
	}
	if lc.Category != "" {
		args = append(args, KeyCategory, lc.Category)
	}
	return args
}
