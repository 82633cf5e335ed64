// Package httpprovider implements a remote provider over HTTP/JSON.
//
// Layout expected from the server:
//
//	GET {base}/{category}/{discriminator}         -> raw payload bytes
//	GET {base}/{category}/changes?since=<rfc3339> -> {"items":[{"key":..., "payload":<base64>}]}
//
// Changeset items without an inline payload are fetched one by one; a
// failure there is reported on that item only.
package httpprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marmos91/agrisync/internal/logger"
	"github.com/marmos91/agrisync/pkg/cache"
	"github.com/marmos91/agrisync/pkg/provider"
)

// DefaultMaxPayload bounds the size of a single response body.
const DefaultMaxPayload = 16 << 20

// Config configures a Provider.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	MaxPayload int64

	// Client defaults to an http.Client with Timeout.
	Client *http.Client
}

// Provider fetches from an HTTP endpoint.
type Provider struct {
	base   *url.URL
	cfg    Config
	client *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// New validates cfg and returns a provider.
func New(cfg Config) (*Provider, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid provider base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "agrisync"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Provider{base: base, cfg: cfg, client: client}, nil
}

type changesetResponse struct {
	Items []changesetItem `json:"items"`
}

type changesetItem struct {
	Key     string `json:"key"`
	Payload []byte `json:"payload,omitempty"`
}

// Fetch returns the payload of one key.
func (p *Provider) Fetch(ctx context.Context, category cache.Category, discriminator string, creds provider.Credentials) ([]byte, error) {
	key := cache.NewKey(category, discriminator)
	u := p.base.JoinPath(string(category), discriminator)
	return p.get(ctx, key, u.String(), creds)
}

// FetchChangeset lists the keys of category changed after since.
func (p *Provider) FetchChangeset(ctx context.Context, category cache.Category, since time.Time, creds provider.Credentials) ([]provider.ChangeItem, error) {
	u := p.base.JoinPath(string(category), "changes")
	if !since.IsZero() {
		q := u.Query()
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
		u.RawQuery = q.Encode()
	}

	body, err := p.get(ctx, "", u.String(), creds)
	if err != nil {
		return nil, err
	}
	var resp changesetResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, provider.Permanent("", fmt.Errorf("decode changeset: %w", err))
	}

	items := make([]provider.ChangeItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		item := provider.ChangeItem{Key: it.Key, Payload: it.Payload}
		c, disc, err := cache.ParseKey(it.Key)
		switch {
		case err != nil:
			item.Err = provider.Permanent(it.Key, err)
		case c != category:
			item.Err = provider.Permanent(it.Key, fmt.Errorf("changeset for %s returned key of %s", category, c))
		case it.Payload == nil:
			item.Payload, item.Err = p.Fetch(ctx, c, disc, creds)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
		items = append(items, item)
	}
	logger.DebugCtx(ctx, "Fetched changeset",
		logger.KeyProvider, "http",
		logger.KeyCategory, string(category),
		logger.KeyItems, len(items))
	return items, nil
}

func (p *Provider) get(ctx context.Context, key, target string, creds provider.Credentials) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, provider.Permanent(key, err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	if creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	}
	for k, v := range creds.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, provider.Transient(key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxPayload+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, provider.Transient(key, err)
	}
	if int64(len(body)) > p.cfg.MaxPayload {
		return nil, provider.Permanent(key, fmt.Errorf("payload exceeds %d bytes", p.cfg.MaxPayload))
	}

	if err := classifyStatus(key, resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// classifyStatus maps an HTTP status to an error class: throttling, request
// timeouts and server errors are transient, every other non-2xx permanent.
func classifyStatus(key string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	err := &StatusError{Code: status, Body: strings.TrimSpace(string(truncate(body, 256)))}
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return provider.Transient(key, err)
	default:
		return provider.Permanent(key, err)
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
