package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"
)

// Entry is a cached entry as returned by the API.
type Entry struct {
	Key             string    `json:"key"`
	Category        string    `json:"category"`
	Payload         []byte    `json:"payload,omitempty"`
	Priority        int       `json:"priority"`
	FreshnessWindow string    `json:"freshness_window"`
	CreatedAt       time.Time `json:"created_at"`
	LastSyncedAt    time.Time `json:"last_synced_at"`
	Encrypted       bool      `json:"encrypted"`
	SizeBytes       int64     `json:"size_bytes"`
	Stale           bool      `json:"stale"`
}

// ReadResult answers a read or a fetch.
type ReadResult struct {
	Key       string `json:"key"`
	Found     bool   `json:"found"`
	Entry     *Entry `json:"entry,omitempty"`
	RefreshID uint64 `json:"refresh_id,omitempty"`
}

// WriteRequest is the body of a local write.
type WriteRequest struct {
	Payload         []byte `json:"payload"`
	Priority        int    `json:"priority,omitempty"`
	FreshnessWindow string `json:"freshness_window,omitempty"`
	Encrypt         bool   `json:"encrypt,omitempty"`
}

// WriteResult answers a local write.
type WriteResult struct {
	Entry          Entry    `json:"entry"`
	Evicted        []string `json:"evicted,omitempty"`
	BudgetExceeded bool     `json:"budget_exceeded"`
	UsedBytes      int64    `json:"used_bytes"`
	BudgetBytes    int64    `json:"budget_bytes"`
}

func entryPath(key string) string {
	return "/v1/entries/" + url.PathEscape(key)
}

// ListEntries returns the entry metadata of category, or of every category
// when category is empty.
func (c *Client) ListEntries(ctx context.Context, category string) ([]Entry, error) {
	path := "/v1/entries"
	if category != "" {
		path += "?category=" + url.QueryEscape(category)
	}
	var entries []Entry
	if err := c.get(ctx, path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Read returns the entry stored under key. An absent key is not an error:
// the result has Found false.
func (c *Client) Read(ctx context.Context, key string) (*ReadResult, error) {
	var res ReadResult
	err := c.get(ctx, entryPath(key), &res)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound && apiErr.Code == "" {
		// Absent keys answer 404 with a read result body.
		if json.Unmarshal(apiErr.body, &res) == nil && res.Key == key {
			return &res, nil
		}
		return &ReadResult{Key: key}, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Write stores a locally produced entry.
func (c *Client) Write(ctx context.Context, key string, req *WriteRequest) (*WriteResult, error) {
	var res WriteResult
	if err := c.put(ctx, entryPath(key), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Fetch waits for key to be fetched from the provider. A non-zero timeout
// overrides the server default.
func (c *Client) Fetch(ctx context.Context, key string, timeout time.Duration) (*ReadResult, error) {
	path := entryPath(key) + "/fetch"
	if timeout > 0 {
		path += "?timeout=" + url.QueryEscape(timeout.String())
	}
	var res ReadResult
	if err := c.post(ctx, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
