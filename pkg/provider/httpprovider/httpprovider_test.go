package httpprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agrisync/pkg/cache"
	agerrors "github.com/marmos91/agrisync/pkg/errors"
	"github.com/marmos91/agrisync/pkg/provider"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/price/changes", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-10-16T06:00:00Z", r.URL.Query().Get("since"))
		_ = json.NewEncoder(w).Encode(changesetResponse{Items: []changesetItem{
			{Key: "price:onion", Payload: []byte("2150")},
			{Key: "price:flaky"},
			{Key: "price:tomato"},
			{Key: "scheme:wrong"},
		}})
	})
	r.Get("/price/flaky", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r.Get("/price/tomato", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("900"))
	})
	r.Get("/price/onion/nashik", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "hi", r.Header.Get("X-Locale"))
		_, _ = w.Write([]byte(`{"modal":2150}`))
	})
	r.Get("/scheme/unknown", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such scheme", http.StatusNotFound)
	})
	r.Get("/weather/throttled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := newServer(t)
	p, err := New(Config{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	ctx := context.Background()

	body, err := p.Fetch(ctx, cache.CategoryPrice, "onion/nashik", provider.Credentials{
		Token:   "tok",
		Headers: map[string]string{"X-Locale": "hi"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"modal":2150}`, string(body))

	_, err = p.Fetch(ctx, cache.CategoryScheme, "unknown", provider.Credentials{})
	assert.True(t, agerrors.IsPermanent(err))
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.Contains(t, err.Error(), "no such scheme")

	_, err = p.Fetch(ctx, cache.CategoryWeather, "throttled", provider.Credentials{})
	assert.True(t, agerrors.IsTransient(err))
}

func TestFetchChangesetReportsItemsIndividually(t *testing.T) {
	srv := newServer(t)
	p, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	since := time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC)
	items, err := p.FetchChangeset(context.Background(), cache.CategoryPrice, since, provider.Credentials{})
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, []byte("2150"), items[0].Payload)
	assert.NoError(t, items[0].Err)
	assert.True(t, agerrors.IsTransient(items[1].Err))
	assert.Equal(t, []byte("900"), items[2].Payload)
	assert.True(t, agerrors.IsPermanent(items[3].Err))
}

func TestUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := New(Config{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)
	_, err = p.Fetch(context.Background(), cache.CategoryPrice, "onion", provider.Credentials{})
	assert.True(t, agerrors.IsTransient(err))
}

func TestCancelledContextIsNotClassified(t *testing.T) {
	srv := newServer(t)
	p, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Fetch(ctx, cache.CategoryPrice, "onion/nashik", provider.Credentials{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, agerrors.IsTransient(err))
}

func TestOversizedPayloadIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	p, err := New(Config{BaseURL: srv.URL, MaxPayload: 32})
	require.NoError(t, err)
	_, err = p.Fetch(context.Background(), cache.CategoryAdvice, "wheat", provider.Credentials{})
	assert.True(t, agerrors.IsPermanent(err))
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	assert.Error(t, err)
}
