package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/agrisync/internal/logger"
	agerrors "github.com/marmos91/agrisync/pkg/errors"
	"github.com/marmos91/agrisync/pkg/keystore"
	"github.com/marmos91/agrisync/pkg/metrics"
	"github.com/marmos91/agrisync/pkg/storage"
)

// Write kinds reported to metrics.
const (
	writeLocal = "local"
	writeMerge = "merge"
)

// Options configures a Store.
type Options struct {
	// Backend persists entries. Required.
	Backend storage.Store

	// KeyStore seals encrypted entries. Nil means no device key: encrypted
	// writes fail with ErrDecryptionUnavailable and nothing is written.
	KeyStore keystore.KeyStore

	// Budget is the storage budget in bytes. Zero disables enforcement.
	Budget int64

	// Policies overrides category defaults.
	Policies Policies

	Metrics *metrics.Metrics

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Store is the entry store. It is safe for concurrent use: writes to a key
// are serialized by a per-key lock, the metadata index by an RWMutex, and
// usage accounting is atomic.
type Store struct {
	backend  storage.Store
	keys     keystore.KeyStore
	policies Policies
	budget   int64
	metrics  *metrics.Metrics
	now      func() time.Time
	locks    *KeyLocks

	mu        sync.RWMutex
	index     map[string]Meta
	perCat    map[Category]int
	closed    bool
	usedBytes atomic.Int64
}

// Open builds the store and rebuilds the metadata index from the backend.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Backend == nil {
		return nil, agerrors.NewInvalidArgumentError("entry store requires a backend")
	}
	if opts.KeyStore == nil {
		opts.KeyStore = keystore.Unavailable{}
	}
	if opts.Policies == nil {
		opts.Policies = DefaultPolicies()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		backend:  opts.Backend,
		keys:     opts.KeyStore,
		policies: opts.Policies,
		budget:   opts.Budget,
		metrics:  opts.Metrics,
		now:      opts.Now,
		locks:    NewKeyLocks(),
		index:    make(map[string]Meta),
		perCat:   make(map[Category]int),
	}

	err := opts.Backend.ScanEntries(ctx, func(rec *storage.EntryRecord) error {
		m := metaFromRecord(rec)
		s.index[m.Key] = m
		s.perCat[m.Category]++
		s.usedBytes.Add(m.SizeBytes)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish()
	logger.Info("Entry store opened",
		"entries", len(s.index),
		logger.KeyUsedBytes, s.usedBytes.Load(),
		logger.KeyBudgetBytes, s.budget)
	return s, nil
}

// Policies returns the category policies in effect.
func (s *Store) Policies() Policies {
	return s.policies
}

// Locks exposes the per-key lock table so other components can serialize
// with store writes.
func (s *Store) Locks() *KeyLocks {
	return s.locks
}

// Tx is the view of one key while its lock is held. It is only valid inside
// the Update callback that produced it.
type Tx struct {
	ctx context.Context
	s   *Store
	key string
}

// Update runs fn while holding the lock for key.
func (s *Store) Update(ctx context.Context, key string, fn func(tx *Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	unlock := s.locks.Lock(key)
	defer unlock()
	return fn(&Tx{ctx: ctx, s: s, key: key})
}

// Key returns the key the transaction is bound to.
func (tx *Tx) Key() string { return tx.key }

// Meta returns the indexed metadata of the key, if stored.
func (tx *Tx) Meta() (Meta, bool) {
	return tx.s.meta(tx.key)
}

// Put upserts e, which must carry the transaction's key.
func (tx *Tx) Put(e *Entry) (*Entry, error) {
	if e.Key != tx.key {
		return nil, agerrors.NewInvalidArgumentError("entry key does not match locked key")
	}
	return tx.s.put(tx.ctx, e, writeLocal)
}

// Merge replaces the payload with a remote-authoritative copy synced at
// syncedAt. An existing entry keeps its creation time, priority and
// encryption flag; a new one gets its category defaults.
func (tx *Tx) Merge(payload []byte, syncedAt time.Time) (*Entry, error) {
	e := &Entry{Key: tx.key, Payload: payload, LastSyncedAt: syncedAt}
	if prev, ok := tx.s.meta(tx.key); ok {
		e.Priority = prev.Priority
		e.FreshnessWindow = prev.FreshnessWindow
		e.Encrypted = prev.Encrypted
	}
	return tx.s.put(tx.ctx, e, writeMerge)
}

// Delete removes the key and returns the bytes freed. Absent keys free zero.
func (tx *Tx) Delete() (int64, error) {
	return tx.s.delete(tx.ctx, tx.key)
}

// Put upserts an entry in a single backend transaction.
func (s *Store) Put(ctx context.Context, e *Entry) (*Entry, error) {
	var out *Entry
	err := s.Update(ctx, e.Key, func(tx *Tx) error {
		var err error
		out, err = tx.Put(e)
		return err
	})
	return out, err
}

// Merge applies a remote payload to key. See Tx.Merge.
func (s *Store) Merge(ctx context.Context, key string, payload []byte, syncedAt time.Time) (*Entry, error) {
	var out *Entry
	err := s.Update(ctx, key, func(tx *Tx) error {
		var err error
		out, err = tx.Merge(payload, syncedAt)
		return err
	})
	return out, err
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.Update(ctx, key, func(tx *Tx) error {
		_, err := tx.Delete()
		return err
	})
}

// Get returns the entry with its staleness. Absent keys, and encrypted
// entries that cannot be decrypted, return an error for which
// errors.IsAbsent is true.
func (s *Store) Get(ctx context.Context, key string) (*Lookup, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	category, _, err := ParseKey(key)
	if err != nil {
		return nil, err
	}

	rec, err := s.backend.GetEntry(ctx, key)
	if err != nil {
		if agerrors.IsNotFoundError(err) {
			s.metrics.ObserveRead(string(category), metrics.ReadMiss)
		}
		return nil, err
	}

	payload := rec.Payload
	if rec.Encrypted {
		payload, err = s.keys.Decrypt(rec.Payload)
		if err != nil {
			s.metrics.ObserveRead(string(category), metrics.ReadMiss)
			logger.Warn("Encrypted entry unreadable, treating as absent",
				logger.KeyKey, key, logger.KeyError, err)
			return nil, agerrors.NewDecryptionUnavailableError(key, err)
		}
	}

	e := entryFromRecord(rec, payload)
	stale := e.IsStale(s.now())
	if stale {
		s.metrics.ObserveRead(string(category), metrics.ReadStale)
	} else {
		s.metrics.ObserveRead(string(category), metrics.ReadHit)
	}
	return &Lookup{Entry: e, Stale: stale}, nil
}

// List returns the readable entries of category, or of every category when
// category is empty, ordered by key. Entries that cannot be decrypted are
// skipped.
func (s *Store) List(ctx context.Context, category Category) ([]*Entry, error) {
	metas := s.Keys(func(m Meta) bool { return category == "" || m.Category == category })

	out := make([]*Entry, 0, len(metas))
	for _, m := range metas {
		l, err := s.Get(ctx, m.Key)
		if agerrors.IsAbsent(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, l.Entry)
	}
	return out, nil
}

// Keys returns a key-ordered snapshot of the index entries matching filter.
// A nil filter matches everything.
func (s *Store) Keys(filter func(Meta) bool) []Meta {
	s.mu.RLock()
	out := make([]Meta, 0, len(s.index))
	for _, m := range s.index {
		if filter == nil || filter(m) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Contains reports whether key is stored, readable or not.
func (s *Store) Contains(key string) bool {
	_, ok := s.meta(key)
	return ok
}

// LatestSync returns the newest LastSyncedAt among entries of category, or
// the zero time when the category is empty. It is the watermark sent with
// sync-all changeset requests.
func (s *Store) LatestSync(category Category) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	for _, m := range s.index {
		if m.Category == category && m.LastSyncedAt.After(latest) {
			latest = m.LastSyncedAt
		}
	}
	return latest
}

// Usage reports current storage accounting.
func (s *Store) Usage() Usage {
	s.mu.RLock()
	n := len(s.index)
	s.mu.RUnlock()
	return Usage{UsedBytes: s.usedBytes.Load(), BudgetBytes: s.budget, Entries: n}
}

// Healthcheck probes the backend.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.backend.Healthcheck(ctx)
}

// Close marks the store closed and closes the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.backend.Close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return agerrors.NewClosedError("entry store")
	}
	return nil
}

func (s *Store) meta(key string) (Meta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.index[key]
	return m, ok
}

// normalize validates e and fills category defaults. Profile entries are
// pinned to the protected tier and always encrypted; other categories are
// clamped below it.
func (s *Store) normalize(e *Entry) (*Entry, error) {
	category, _, err := ParseKey(e.Key)
	if err != nil {
		return nil, err
	}
	if e.Category != "" && e.Category != category {
		return nil, agerrors.NewInvalidArgumentError("entry category does not match key prefix")
	}

	n := e.Clone()
	n.Category = category
	pol := s.policies.For(category)

	switch {
	case category == CategoryProfile:
		n.Priority = PriorityProtected
	case n.Priority <= 0:
		n.Priority = pol.Priority
	case n.Priority >= PriorityProtected:
		n.Priority = PriorityProtected - 1
	}
	if n.FreshnessWindow <= 0 {
		n.FreshnessWindow = pol.Freshness
	}
	n.Encrypted = n.Encrypted || pol.Encrypt
	return n, nil
}

// put writes e. Caller must hold the key lock.
func (s *Store) put(ctx context.Context, e *Entry, kind string) (*Entry, error) {
	n, err := s.normalize(e)
	if err != nil {
		return nil, err
	}

	now := s.now()
	prev, exists := s.meta(n.Key)
	if exists {
		n.CreatedAt = prev.CreatedAt
	} else if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.LastSyncedAt.IsZero() {
		n.LastSyncedAt = now
	}
	if exists && prev.LastSyncedAt.After(n.LastSyncedAt) {
		n.LastSyncedAt = prev.LastSyncedAt
	}

	stored := n.Payload
	if n.Encrypted {
		stored, err = s.keys.Encrypt(n.Payload)
		if err != nil {
			return nil, agerrors.NewDecryptionUnavailableError(n.Key, err)
		}
	}

	rec := &storage.EntryRecord{
		Key:             n.Key,
		Category:        string(n.Category),
		Payload:         stored,
		Priority:        n.Priority,
		FreshnessWindow: n.FreshnessWindow,
		CreatedAt:       n.CreatedAt,
		LastSyncedAt:    n.LastSyncedAt,
		Encrypted:       n.Encrypted,
		SizeBytes:       int64(len(stored)),
	}
	if err := s.backend.PutEntry(ctx, rec); err != nil {
		return nil, err
	}
	n.SizeBytes = rec.SizeBytes

	s.mu.Lock()
	s.index[n.Key] = metaFromRecord(rec)
	if exists {
		s.usedBytes.Add(rec.SizeBytes - prev.SizeBytes)
	} else {
		s.perCat[n.Category]++
		s.usedBytes.Add(rec.SizeBytes)
	}
	s.mu.Unlock()

	s.metrics.ObserveWrite(string(n.Category), kind)
	s.publishCategory(n.Category)
	logger.Debug("Stored entry",
		logger.KeyKey, n.Key,
		logger.KeySize, rec.SizeBytes,
		logger.KeyEncrypted, n.Encrypted,
		"kind", kind)
	return n, nil
}

// delete removes key. Caller must hold the key lock.
func (s *Store) delete(ctx context.Context, key string) (int64, error) {
	prev, exists := s.meta(key)
	if err := s.backend.DeleteEntry(ctx, key); err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	s.mu.Lock()
	delete(s.index, key)
	s.perCat[prev.Category]--
	s.usedBytes.Add(-prev.SizeBytes)
	s.mu.Unlock()

	s.publishCategory(prev.Category)
	return prev.SizeBytes, nil
}

func (s *Store) publish() {
	s.metrics.SetUsage(s.usedBytes.Load(), s.budget)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range Categories {
		s.metrics.SetEntries(string(c), s.perCat[c])
	}
}

func (s *Store) publishCategory(c Category) {
	s.metrics.SetUsage(s.usedBytes.Load(), s.budget)
	s.mu.RLock()
	n := s.perCat[c]
	s.mu.RUnlock()
	s.metrics.SetEntries(string(c), n)
}

func metaFromRecord(rec *storage.EntryRecord) Meta {
	return Meta{
		Key:             rec.Key,
		Category:        Category(rec.Category),
		Priority:        rec.Priority,
		FreshnessWindow: rec.FreshnessWindow,
		CreatedAt:       rec.CreatedAt,
		LastSyncedAt:    rec.LastSyncedAt,
		Encrypted:       rec.Encrypted,
		SizeBytes:       rec.SizeBytes,
	}
}

func entryFromRecord(rec *storage.EntryRecord, payload []byte) *Entry {
	return &Entry{
		Key:             rec.Key,
		Category:        Category(rec.Category),
		Payload:         payload,
		Priority:        rec.Priority,
		FreshnessWindow: rec.FreshnessWindow,
		CreatedAt:       rec.CreatedAt,
		LastSyncedAt:    rec.LastSyncedAt,
		Encrypted:       rec.Encrypted,
		SizeBytes:       rec.SizeBytes,
	}
}

