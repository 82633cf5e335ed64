package apiclient

import (
	"context"
	"time"
)

// Operation is a queued remote operation.
type Operation struct {
	ID            uint64    `json:"id"`
	Kind          string    `json:"kind"`
	TargetKey     string    `json:"target_key,omitempty"`
	Category      string    `json:"category"`
	Status        string    `json:"status"`
	AttemptCount  int       `json:"attempt_count"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	LastError     string    `json:"last_error,omitempty"`
}

// Status is the storage status of the engine.
type Status struct {
	UsedBytes         int64  `json:"used_bytes"`
	BudgetBytes       int64  `json:"budget_bytes"`
	PendingOperations int    `json:"pending_operations"`
	Entries           int    `json:"entries"`
	Connectivity      string `json:"connectivity"`
}

// DeleteScope selects the user data to delete.
type DeleteScope struct {
	Keys       []string `json:"keys,omitempty"`
	Categories []string `json:"categories,omitempty"`
	All        bool     `json:"all,omitempty"`
}

// DeleteReport summarizes a deletion.
type DeleteReport struct {
	Entries    int           `json:"entries"`
	Operations int           `json:"operations"`
	FreedBytes int64         `json:"freed_bytes"`
	Duration   time.Duration `json:"duration"`
}

// Refresh queues a refresh of each target (a key or a category) and returns
// the operation id of each.
func (c *Client) Refresh(ctx context.Context, targets ...string) (map[string]uint64, error) {
	var resp struct {
		Operations map[string]uint64 `json:"operations"`
	}
	if err := c.post(ctx, "/v1/refresh", map[string][]string{"targets": targets}, &resp); err != nil {
		return nil, err
	}
	return resp.Operations, nil
}

// Operations returns the request queue.
func (c *Client) Operations(ctx context.Context) ([]Operation, error) {
	var ops []Operation
	if err := c.get(ctx, "/v1/operations", &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// Status returns the storage status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.get(ctx, "/v1/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// DeleteUserData removes everything in scope.
func (c *Client) DeleteUserData(ctx context.Context, scope DeleteScope) (*DeleteReport, error) {
	var report DeleteReport
	if err := c.delete(ctx, "/v1/user-data", scope, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Health checks the readiness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health/ready", nil)
}
