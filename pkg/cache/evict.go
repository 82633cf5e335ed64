package cache

import (
	"context"
	"sort"

	"github.com/marmos91/agrisync/internal/logger"
	"github.com/marmos91/agrisync/internal/telemetry"
	"github.com/marmos91/agrisync/pkg/metrics"
)

// Pinner reports keys that must not be evicted because an operation for them
// is in flight.
type Pinner interface {
	IsPinned(key string) bool
}

type noPins struct{}

func (noPins) IsPinned(string) bool { return false }

// EvictionReport summarizes one EnforceBudget pass.
type EvictionReport struct {
	Evicted     []string
	FreedBytes  int64
	UsedBytes   int64
	BudgetBytes int64

	// BudgetExceeded is set when usage is still above budget after every
	// eligible candidate was evicted. It is a warning: the writes that caused
	// it have already succeeded.
	BudgetExceeded bool
}

// Evictor keeps the entry store within its storage budget.
type Evictor struct {
	store   *Store
	pins    Pinner
	metrics *metrics.Metrics
}

// NewEvictor returns an evictor for store. A nil pinner pins nothing.
func NewEvictor(store *Store, pins Pinner, m *metrics.Metrics) *Evictor {
	if pins == nil {
		pins = noPins{}
	}
	return &Evictor{store: store, pins: pins, metrics: m}
}

// SetPinner replaces the pinner. It must be called before the evictor is
// shared between goroutines.
func (ev *Evictor) SetPinner(p Pinner) {
	if p == nil {
		p = noPins{}
	}
	ev.pins = p
}

// Candidates returns the eviction order over the current index: lowest
// priority first, then least recently synced, then largest. Protected
// entries are never candidates.
func (ev *Evictor) Candidates() []Meta {
	metas := ev.store.Keys(func(m Meta) bool { return m.Priority < PriorityProtected })
	sort.SliceStable(metas, func(i, j int) bool {
		a, b := metas[i], metas[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.LastSyncedAt.Equal(b.LastSyncedAt) {
			return a.LastSyncedAt.Before(b.LastSyncedAt)
		}
		if a.SizeBytes != b.SizeBytes {
			return a.SizeBytes > b.SizeBytes
		}
		return a.Key < b.Key
	})
	return metas
}

// EnforceBudget evicts candidates until usage is within budget or no
// candidate is left. Each eviction takes the key lock and re-checks the pin
// under it, so the caller must not hold any key lock.
func (ev *Evictor) EnforceBudget(ctx context.Context) (*EvictionReport, error) {
	budget := ev.store.budget
	report := &EvictionReport{BudgetBytes: budget, UsedBytes: ev.store.usedBytes.Load()}
	if budget <= 0 || report.UsedBytes <= budget {
		return report, nil
	}

	ctx, span := telemetry.StartCacheSpan(ctx, telemetry.SpanEvict)
	defer span.End()

	for _, cand := range ev.Candidates() {
		if ev.store.usedBytes.Load() <= budget {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var (
			freed   int64
			deleted bool
		)
		err := ev.store.Update(ctx, cand.Key, func(tx *Tx) error {
			cur, ok := tx.Meta()
			if !ok || cur.Priority >= PriorityProtected {
				return nil
			}
			if ev.pins.IsPinned(cand.Key) {
				logger.DebugCtx(ctx, "Skipping pinned entry", logger.KeyKey, cand.Key)
				return nil
			}
			n, err := tx.Delete()
			freed, deleted = n, err == nil
			return err
		})
		if err != nil {
			telemetry.RecordError(ctx, err)
			return report, err
		}
		if !deleted {
			continue
		}

		report.Evicted = append(report.Evicted, cand.Key)
		report.FreedBytes += freed
		ev.metrics.ObserveEviction(string(cand.Category), freed)
		logger.DebugCtx(ctx, "Evicted entry",
			logger.KeyKey, cand.Key,
			logger.KeyPriority, cand.Priority,
			logger.KeyFreedBytes, freed)
	}

	report.UsedBytes = ev.store.usedBytes.Load()
	report.BudgetExceeded = report.UsedBytes > budget
	telemetry.SetAttributes(ctx,
		telemetry.Evicted(len(report.Evicted)),
		telemetry.FreedBytes(report.FreedBytes))

	if len(report.Evicted) > 0 {
		logger.InfoCtx(ctx, "Storage budget enforced",
			logger.KeyEvicted, len(report.Evicted),
			logger.KeyFreedBytes, report.FreedBytes,
			logger.KeyUsedBytes, report.UsedBytes,
			logger.KeyBudgetBytes, budget)
	}
	if report.BudgetExceeded {
		ev.metrics.ObserveBudgetExceeded()
		logger.WarnCtx(ctx, "Storage budget exceeded after evicting every candidate",
			logger.KeyUsedBytes, report.UsedBytes,
			logger.KeyBudgetBytes, budget)
	}
	return report, nil
}
