// Package payment provides the payment API client: plain payments, the
// gift variant that also delivers a chat notification, and the points
// balance lookup.
package payment

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/withgift/storefront/internal/api"
)

// Status values reported by the server.
const (
	StatusApproved = "APPROVED"
	StatusDeclined = "DECLINED"
)

// Result is the server's record of a payment.
type Result struct {
	OrderID    string          `json:"order_id"`
	CashAmount decimal.Decimal `json:"cash_amount"`
	PointsUsed decimal.Decimal `json:"points_used"`
	Status     string          `json:"status"`
	ApprovedAt time.Time       `json:"approved_at"`
}

// Client provides payment operations.
type Client struct {
	api *api.Client
}

// NewClient creates a payment client.
func NewClient(apiClient *api.Client) *Client {
	return &Client{api: apiClient}
}

type submitRequest struct {
	OrderID    string          `json:"order_id"`
	TotalPrice decimal.Decimal `json:"total_price"`
	PointsUsed decimal.Decimal `json:"points_used"`
}

// Submit pays for an order with the given points portion. The cash portion
// is the remainder; the server recomputes and verifies the split.
func (c *Client) Submit(ctx context.Context, orderID string, total, pointsUsed decimal.Decimal) (Result, error) {
	var out Result
	req := submitRequest{OrderID: orderID, TotalPrice: total, PointsUsed: pointsUsed}
	if err := c.api.Post(ctx, "/payments", req, &out); err != nil {
		return Result{}, fmt.Errorf("submit payment: %w", err)
	}
	return out, nil
}

// SubmitGift pays for an order and delivers the gift notification to the
// chat room in the same call, so the recipient hears about the gift
// atomically with payment from the client's perspective.
func (c *Client) SubmitGift(ctx context.Context, roomID, orderID string, total, pointsUsed decimal.Decimal) (Result, error) {
	var out Result
	req := submitRequest{OrderID: orderID, TotalPrice: total, PointsUsed: pointsUsed}
	if err := c.api.Post(ctx, "/payments/gift/"+url.PathEscape(roomID), req, &out); err != nil {
		return Result{}, fmt.Errorf("submit gift payment: %w", err)
	}
	return out, nil
}

// Get fetches the payment record for an order.
func (c *Client) Get(ctx context.Context, orderID string) (Result, error) {
	var out Result
	if err := c.api.Get(ctx, "/payments/"+url.PathEscape(orderID), &out); err != nil {
		return Result{}, fmt.Errorf("get payment for order %s: %w", orderID, err)
	}
	return out, nil
}

// PointsBalance fetches the caller's available points.
func (c *Client) PointsBalance(ctx context.Context) (decimal.Decimal, error) {
	var out struct {
		Points decimal.Decimal `json:"points"`
	}
	if err := c.api.Get(ctx, "/payments/points", &out); err != nil {
		return decimal.Zero, fmt.Errorf("get points balance: %w", err)
	}
	return out.Points, nil
}
