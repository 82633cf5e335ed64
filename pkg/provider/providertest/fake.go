// Package providertest provides a scripted in-memory provider for tests.
package providertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/agrisync/pkg/cache"
	"github.com/marmos91/agrisync/pkg/provider"
)

// ErrUnknownKey is returned (as a permanent error) for keys with no payload.
var ErrUnknownKey = errors.New("unknown key")

// Fake is a provider whose responses are set by the test. It is safe for
// concurrent use.
type Fake struct {
	mu         sync.Mutex
	payloads   map[string][]byte
	failures   map[string][]error
	changesets map[cache.Category][]provider.ChangeItem
	changeErr  map[cache.Category]error
	holds      map[string]chan struct{}
	fetches    []string
	since      map[cache.Category]time.Time

	changeHolds map[cache.Category]chan struct{}
	changeCalls int
}

var _ provider.Provider = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		payloads:   make(map[string][]byte),
		failures:   make(map[string][]error),
		changesets: make(map[cache.Category][]provider.ChangeItem),
		changeErr:  make(map[cache.Category]error),
		holds:      make(map[string]chan struct{}),
		since:      make(map[cache.Category]time.Time),

		changeHolds: make(map[cache.Category]chan struct{}),
	}
}

// Set makes key return payload.
func (f *Fake) Set(key string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[key] = payload
}

// FailNext makes the next fetches of key return errs, one per call, before
// falling back to the stored payload.
func (f *Fake) FailNext(key string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = append(f.failures[key], errs...)
}

// SetChangeset makes FetchChangeset for category return items.
func (f *Fake) SetChangeset(category cache.Category, items ...provider.ChangeItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changesets[category] = items
}

// FailChangeset makes FetchChangeset for category fail with err.
func (f *Fake) FailChangeset(category cache.Category, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changeErr[category] = err
}

// Hold blocks fetches of key until the returned release function is called
// or the fetch context ends.
func (f *Fake) Hold(key string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.holds[key] = ch
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.holds, key)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// HoldChangeset blocks changeset requests for category until the returned
// release function is called or the request context ends. The changeset is
// read after the release.
func (f *Fake) HoldChangeset(category cache.Category) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.changeHolds[category] = ch
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.changeHolds, category)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Changesets returns the number of changeset requests so far.
func (f *Fake) Changesets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changeCalls
}

// Fetches returns the keys fetched so far, in call order.
func (f *Fake) Fetches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetches...)
}

// Since returns the watermark of the last changeset request for category.
func (f *Fake) Since(category cache.Category) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.since[category]
}

func (f *Fake) Fetch(ctx context.Context, category cache.Category, discriminator string, _ provider.Credentials) ([]byte, error) {
	key := cache.NewKey(category, discriminator)

	f.mu.Lock()
	f.fetches = append(f.fetches, key)
	hold := f.holds[key]
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.failures[key]; len(errs) > 0 {
		f.failures[key] = errs[1:]
		return nil, errs[0]
	}
	payload, ok := f.payloads[key]
	if !ok {
		return nil, provider.Permanent(key, ErrUnknownKey)
	}
	return append([]byte(nil), payload...), nil
}

func (f *Fake) FetchChangeset(ctx context.Context, category cache.Category, since time.Time, _ provider.Credentials) ([]provider.ChangeItem, error) {
	f.mu.Lock()
	f.changeCalls++
	f.since[category] = since
	hold := f.changeHolds[category]
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.changeErr[category]; err != nil {
		return nil, err
	}
	return append([]provider.ChangeItem(nil), f.changesets[category]...), nil
}
