package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/marmos91/agrisync/internal/logger"
	"github.com/marmos91/agrisync/pkg/cache"
	agerrors "github.com/marmos91/agrisync/pkg/errors"
	"github.com/marmos91/agrisync/pkg/queue"
)

// Target is what RequestRefresh refreshes: a single key or a whole
// category. Exactly one field is set.
type Target struct {
	Key      string
	Category cache.Category
}

// KeyTarget refreshes one key.
func KeyTarget(key string) Target { return Target{Key: key} }

// CategoryTarget refreshes a whole category through its changeset.
func CategoryTarget(c cache.Category) Target { return Target{Category: c} }

// ParseTarget reads "<category>:<discriminator>" as a key and a bare
// category name as a category.
func ParseTarget(s string) (Target, error) {
	if strings.Contains(s, ":") {
		if _, _, err := cache.ParseKey(s); err != nil {
			return Target{}, err
		}
		return KeyTarget(s), nil
	}
	c, err := cache.ParseCategory(s)
	if err != nil {
		return Target{}, err
	}
	return CategoryTarget(c), nil
}

func (t Target) String() string {
	if t.Key != "" {
		return t.Key
	}
	return string(t.Category)
}

func (t Target) request() (queue.Request, error) {
	switch {
	case t.Key != "" && t.Category != "":
		return queue.Request{}, agerrors.NewInvalidArgumentError("refresh target must be a key or a category, not both")
	case t.Key != "":
		return queue.Fetch(t.Key), nil
	case t.Category != "":
		return queue.SyncAll(t.Category, time.Time{}), nil
	}
	return queue.Request{}, agerrors.NewInvalidArgumentError("empty refresh target")
}

// Scope selects the data removed by DeleteUserData.
type Scope struct {
	Keys       []string
	Categories []cache.Category

	// All removes every entry and every queued operation.
	All bool
}

// Empty reports whether the scope selects nothing.
func (s Scope) Empty() bool {
	return !s.All && len(s.Keys) == 0 && len(s.Categories) == 0
}

func (s Scope) validate() error {
	if s.Empty() {
		return agerrors.NewInvalidArgumentError("deletion scope is empty")
	}
	for _, k := range s.Keys {
		if _, _, err := cache.ParseKey(k); err != nil {
			return err
		}
	}
	for _, c := range s.Categories {
		if !c.Valid() {
			return agerrors.NewInvalidArgumentError("unknown category " + string(c))
		}
	}
	return nil
}

type scopeMatcher struct {
	all  bool
	keys map[string]bool
	cats map[cache.Category]bool
}

func (s Scope) matcher() scopeMatcher {
	m := scopeMatcher{
		all:  s.All,
		keys: make(map[string]bool, len(s.Keys)),
		cats: make(map[cache.Category]bool, len(s.Categories)),
	}
	for _, k := range s.Keys {
		m.keys[k] = true
	}
	for _, c := range s.Categories {
		m.cats[c] = true
	}
	return m
}

func (m scopeMatcher) entry(meta cache.Meta) bool {
	return m.all || m.keys[meta.Key] || m.cats[meta.Category]
}

// operation matches fetches of a key in scope and, for category and
// whole-device scopes, the sync-all of the category.
func (m scopeMatcher) operation(op *queue.Operation) bool {
	if m.all || m.cats[op.Category] {
		return true
	}
	return op.Kind == queue.KindFetch && m.keys[op.TargetKey]
}

// DeleteReport summarizes a DeleteUserData call.
type DeleteReport struct {
	Entries    int           `json:"entries"`
	Operations int           `json:"operations"`
	FreedBytes int64         `json:"freed_bytes"`
	Duration   time.Duration `json:"duration"`
}

// DeleteUserData synchronously removes every entry and every queued
// operation in scope. Operations go first so that no fetch can re-populate a
// deleted key: a result arriving for a removed operation is discarded, and
// a sync-all of the key's category skips the deleted keys. The
// call either completes within the deletion deadline or fails with
// ErrDeadlineExceeded, in which case it may be repeated.
func (e *Engine) DeleteUserData(ctx context.Context, scope Scope) (*DeleteReport, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.deleteDeadline)
	defer cancel()

	m := scope.matcher()
	report := &DeleteReport{}

	err := e.coord.Exclude(scope.Keys, func() error {
		ops, err := e.queue.RemoveMatching(ctx, m.operation)
		report.Operations = ops
		return err
	})
	if err != nil {
		return report, deleteError(err)
	}

	for _, meta := range e.store.Keys(m.entry) {
		if err := ctx.Err(); err != nil {
			return report, deleteError(err)
		}
		var (
			freed   int64
			deleted bool
		)
		err := e.store.Update(ctx, meta.Key, func(tx *cache.Tx) error {
			if _, ok := tx.Meta(); !ok {
				return nil
			}
			var err error
			freed, err = tx.Delete()
			deleted = err == nil
			return err
		})
		if err != nil {
			return report, deleteError(err)
		}
		if deleted {
			report.Entries++
			report.FreedBytes += freed
		}
	}

	report.Duration = time.Since(start)
	logger.InfoCtx(ctx, "User data deleted",
		"entries", report.Entries,
		"operations", report.Operations,
		logger.KeyFreedBytes, report.FreedBytes,
		logger.KeyDurationMs, float64(report.Duration.Microseconds())/1000)
	return report, nil
}

func deleteError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return agerrors.Wrap(agerrors.ErrDeadlineExceeded, "", err, "user data deletion did not complete in time")
	}
	return err
}
