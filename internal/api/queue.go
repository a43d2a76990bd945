package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rickgao/queuelink/internal/model"
)

// GetQueue fetches the active queue ordered by position.
func (c *Client) GetQueue(ctx context.Context) (*QueueResponse, error) {
	var resp QueueResponse
	if err := c.get(ctx, "/queue", true, &resp); err != nil {
		return nil, fmt.Errorf("get queue: %w", err)
	}
	return &resp, nil
}

// GetToken fetches a single token by ID.
func (c *Client) GetToken(ctx context.Context, id string) (*model.Token, error) {
	var tok model.Token
	if err := c.get(ctx, "/tokens/"+url.PathEscape(id), true, &tok); err != nil {
		return nil, fmt.Errorf("get token %s: %w", id, err)
	}
	return &tok, nil
}

// GetDashboardAnalytics fetches today's analytics. Requires a staff or
// admin account.
func (c *Client) GetDashboardAnalytics(ctx context.Context) (*model.Analytics, error) {
	var a model.Analytics
	if err := c.get(ctx, "/analytics/dashboard", true, &a); err != nil {
		return nil, fmt.Errorf("get analytics: %w", err)
	}
	return &a, nil
}

// Health checks the server's health endpoint. No token is sent.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", false, &resp); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return &resp, nil
}

// GetQueueEntries fetches the active queue entries only.
func (c *Client) GetQueueEntries(ctx context.Context) ([]model.QueueEntry, error) {
	resp, err := c.GetQueue(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Queue, nil
}
