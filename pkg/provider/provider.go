// Package provider defines the contract of the remote data providers (price
// boards, weather services, scheme registries) and the error classes the
// sync coordinator uses to decide between retry and permanent failure.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/agrisync/pkg/cache"
	agerrors "github.com/marmos91/agrisync/pkg/errors"
)

// Credentials are supplied by the caller and attached to provider requests
// unchanged. This package never creates or refreshes them.
type Credentials struct {
	Token   string
	Headers map[string]string
}

// ChangeItem is one key of an incremental changeset. Err is set when the
// provider listed the key but could not deliver its payload.
type ChangeItem struct {
	Key     string
	Payload []byte
	Err     error
}

// Provider is a remote source of authoritative data. Fetch must be
// idempotent.
type Provider interface {
	Fetch(ctx context.Context, category cache.Category, discriminator string, creds Credentials) ([]byte, error)

	// FetchChangeset returns the keys of category changed after since, in
	// the order the provider applied them.
	FetchChangeset(ctx context.Context, category cache.Category, since time.Time, creds Credentials) ([]ChangeItem, error)
}

// Transient marks err as retryable.
func Transient(key string, err error) error {
	if err == nil {
		return nil
	}
	return agerrors.Wrap(agerrors.ErrTransientNetwork, key, err, "remote fetch failed")
}

// Permanent marks err as not retryable.
func Permanent(key string, err error) error {
	if err == nil {
		return nil
	}
	return agerrors.Wrap(agerrors.ErrPermanentProvider, key, err, "remote provider rejected request")
}

// Classify returns err unchanged when it is already transient, permanent or
// a context error, and otherwise classifies it. Network failures and
// anything unrecognized are transient; the attempt bound stops endless
// retries.
func Classify(key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch agerrors.CodeOf(err) {
	case agerrors.ErrTransientNetwork, agerrors.ErrPermanentProvider:
		return err
	case agerrors.ErrInvalidArgument, agerrors.ErrNotFound:
		return Permanent(key, err)
	}
	return Transient(key, err)
}

// Mux routes each category to its provider, falling back to Default.
type Mux struct {
	Routes  map[cache.Category]Provider
	Default Provider
}

var _ Provider = (*Mux)(nil)

func (m *Mux) route(c cache.Category) (Provider, error) {
	if p, ok := m.Routes[c]; ok && p != nil {
		return p, nil
	}
	if m.Default != nil {
		return m.Default, nil
	}
	return nil, Permanent("", errors.New("no provider configured for category "+string(c)))
}

func (m *Mux) Fetch(ctx context.Context, category cache.Category, discriminator string, creds Credentials) ([]byte, error) {
	p, err := m.route(category)
	if err != nil {
		return nil, err
	}
	return p.Fetch(ctx, category, discriminator, creds)
}

func (m *Mux) FetchChangeset(ctx context.Context, category cache.Category, since time.Time, creds Credentials) ([]ChangeItem, error) {
	p, err := m.route(category)
	if err != nil {
		return nil, err
	}
	return p.FetchChangeset(ctx, category, since, creds)
}
