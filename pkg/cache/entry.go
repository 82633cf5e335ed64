// Package cache implements the entry store and eviction manager.
//
// The store persists cache entries (opaque payload plus category, priority,
// freshness and sync timestamps) through a storage.Store backend, keeps an
// in-memory metadata index for budget accounting and eviction ordering, and
// encrypts sensitive payloads at the boundary through a device key store.
//
// Staleness is never stored: it is derived at read time from the freshness
// window and the last successful sync.
package cache

import (
	"fmt"
	"strings"
	"time"

	agerrors "github.com/marmos91/agrisync/pkg/errors"
)

// Category is the kind of information an entry holds.
type Category string

const (
	CategoryScheme  Category = "scheme"
	CategoryPrice   Category = "price"
	CategoryWeather Category = "weather"
	CategoryAdvice  Category = "advice"
	CategoryProfile Category = "profile"
)

// Categories lists every known category in declaration order.
var Categories = []Category{CategoryScheme, CategoryPrice, CategoryWeather, CategoryAdvice, CategoryProfile}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryScheme, CategoryPrice, CategoryWeather, CategoryAdvice, CategoryProfile:
		return true
	}
	return false
}

func (c Category) String() string { return string(c) }

// ParseCategory converts a string to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", agerrors.NewInvalidArgumentError(fmt.Sprintf("unknown category %q", s))
	}
	return c, nil
}

// PriorityProtected is the priority of the protected tier. Entries at this
// priority are never evicted; only profile entries may hold it.
const PriorityProtected = 100

// Policy is the per-category defaults applied to entries.
type Policy struct {
	Priority  int
	Freshness time.Duration
	Encrypt   bool
}

// Policies maps each category to its policy.
type Policies map[Category]Policy

// DefaultPolicies returns the built-in category defaults. Lower priority is
// evicted first: advice goes before prices, prices before weather, weather
// before schemes, and the profile is protected.
func DefaultPolicies() Policies {
	return Policies{
		CategoryAdvice:  {Priority: 10, Freshness: 72 * time.Hour},
		CategoryPrice:   {Priority: 20, Freshness: 6 * time.Hour},
		CategoryWeather: {Priority: 30, Freshness: time.Hour},
		CategoryScheme:  {Priority: 40, Freshness: 24 * time.Hour},
		CategoryProfile: {Priority: PriorityProtected, Freshness: 30 * 24 * time.Hour, Encrypt: true},
	}
}

// For returns the policy of c, falling back to the built-in default for any
// category the map leaves out.
func (p Policies) For(c Category) Policy {
	if pol, ok := p[c]; ok {
		return pol
	}
	return DefaultPolicies()[c]
}

// NewKey builds the canonical key "<category>:<discriminator>".
func NewKey(c Category, discriminator string) string {
	return string(c) + ":" + discriminator
}

// ParseKey splits a key into its category and discriminator.
func ParseKey(key string) (Category, string, error) {
	prefix, disc, ok := strings.Cut(key, ":")
	if !ok || disc == "" {
		return "", "", agerrors.NewInvalidArgumentError(fmt.Sprintf("malformed key %q: want <category>:<discriminator>", key))
	}
	c, err := ParseCategory(prefix)
	if err != nil {
		return "", "", err
	}
	if Category(prefix) != c {
		return "", "", agerrors.NewInvalidArgumentError(fmt.Sprintf("malformed key %q: category must be lower case", key))
	}
	return c, disc, nil
}

// Entry is one cached item.
type Entry struct {
	Key             string
	Category        Category
	Payload         []byte
	Priority        int
	FreshnessWindow time.Duration
	CreatedAt       time.Time
	LastSyncedAt    time.Time
	Encrypted       bool

	// SizeBytes is the stored payload size (ciphertext size when encrypted),
	// computed by the store.
	SizeBytes int64
}

// IsStale reports whether more than the freshness window has passed since
// the last sync. An entry exactly at the boundary is still fresh.
func (e *Entry) IsStale(now time.Time) bool {
	return IsStale(e.LastSyncedAt, e.FreshnessWindow, now)
}

// IsStale is the staleness rule: now - lastSynced > window.
func IsStale(lastSynced time.Time, window time.Duration, now time.Time) bool {
	return now.Sub(lastSynced) > window
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Payload != nil {
		c.Payload = append([]byte(nil), e.Payload...)
	}
	return &c
}

// Meta is the payload-free view of an entry kept in the in-memory index.
type Meta struct {
	Key             string
	Category        Category
	Priority        int
	FreshnessWindow time.Duration
	CreatedAt       time.Time
	LastSyncedAt    time.Time
	Encrypted       bool
	SizeBytes       int64
}

// IsStale applies the staleness rule to the indexed metadata.
func (m Meta) IsStale(now time.Time) bool {
	return IsStale(m.LastSyncedAt, m.FreshnessWindow, now)
}

// Lookup is the result of a successful Get.
type Lookup struct {
	Entry *Entry
	Stale bool
}

// Usage reports storage accounting.
type Usage struct {
	UsedBytes   int64
	BudgetBytes int64
	Entries     int
}
