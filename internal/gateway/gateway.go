// Package gateway implements the REST side of the upstream contract: the
// per-account snapshot endpoints polled by the poller and the one-shot
// dashboard state fetched at startup.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"futures_watch/internal/models"
)

// ErrUpstreamTimeout classifies a fetch failure as "backend is slow" rather
// than "data unavailable". Matched with errors.Is.
var ErrUpstreamTimeout = errors.New("upstream timeout")

// Provider is the snapshot API consumed by the poller. Implemented by the
// REST client below and by mocks in tests.
type Provider interface {
	Positions(ctx context.Context, accountID string) ([]map[string]any, error)
	PendingOrders(ctx context.Context, accountID string) ([]models.Order, error)
	PreviousOrders(ctx context.Context, accountID string) ([]models.Order, error)
	DashboardState(ctx context.Context) (*DashboardPayload, error)
}

// DashboardPayload is the startup snapshot: accounts, their positions, and
// contract metadata.
type DashboardPayload struct {
	Accounts  []map[string]any `json:"accounts"`
	Positions []map[string]any `json:"positions"`
	Contracts []map[string]any `json:"contracts"`
}

type positionsResponse struct {
	Positions []map[string]any `json:"positions"`
}

type ordersResponse struct {
	Orders []models.Order `json:"orders"`
}

// Client talks to the snapshot API over HTTP.
type Client struct {
	http *resty.Client
}

// NewClient builds the REST client. Every request carries the configured
// timeout so a hung upstream call cannot block the next poll cycle.
func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if authToken != "" {
		c.SetAuthToken(authToken)
	}
	return &Client{http: c}
}

// Positions fetches the raw open positions for an account. Records are left
// as raw maps; normalization happens in the poller via internal/normalize.
func (c *Client) Positions(ctx context.Context, accountID string) ([]map[string]any, error) {
	var out positionsResponse
	if err := c.get(ctx, fmt.Sprintf("/positions/%s", accountID), &out); err != nil {
		return nil, err
	}
	return out.Positions, nil
}

// PendingOrders fetches the open orders for an account.
func (c *Client) PendingOrders(ctx context.Context, accountID string) ([]models.Order, error) {
	var out ordersResponse
	if err := c.get(ctx, fmt.Sprintf("/pending-orders/%s", accountID), &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// PreviousOrders fetches the recently filled/cancelled orders for an account.
func (c *Client) PreviousOrders(ctx context.Context, accountID string) ([]models.Order, error) {
	var out ordersResponse
	if err := c.get(ctx, fmt.Sprintf("/previous-orders/%s", accountID), &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// DashboardState fetches the startup payload once.
func (c *Client) DashboardState(ctx context.Context) (*DashboardPayload, error) {
	var out DashboardPayload
	if err := c.get(ctx, "/dashboard/state", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(out).
		Get(path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("GET %s: %w", path, ErrUpstreamTimeout)
		}
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusGatewayTimeout || resp.StatusCode() == http.StatusRequestTimeout {
			return fmt.Errorf("GET %s: status %d: %w", path, resp.StatusCode(), ErrUpstreamTimeout)
		}
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode())
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
