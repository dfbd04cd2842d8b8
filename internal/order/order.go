// Package order provides the order API client. Orders are immutable once
// created; status transitions are server-driven.
package order

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/withgift/storefront/internal/api"
	"github.com/withgift/storefront/internal/cart"
)

// Status values reported by the server.
const (
	StatusCreated = "CREATED"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// ErrNoOrderID is returned when order creation succeeds at the HTTP level
// but the server did not hand back an order id. The checkout flow aborts
// on it without retry.
var ErrNoOrderID = errors.New("server returned no order id")

// Order is a created order as reported by the server.
type Order struct {
	ID         string          `json:"order_id"`
	ReceiverID string          `json:"receiver_id"`
	Items      []cart.LineItem `json:"line_items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Status     string          `json:"status"`
}

// Client provides order operations.
type Client struct {
	api *api.Client
}

// NewClient creates an order client.
func NewClient(apiClient *api.Client) *Client {
	return &Client{api: apiClient}
}

type createRequest struct {
	ReceiverID string          `json:"receiver_id"`
	Items      []cart.LineItem `json:"line_items"`
}

// Create submits a new order for the receiver and line items.
func (c *Client) Create(ctx context.Context, receiverID string, items []cart.LineItem) (Order, error) {
	var out Order
	if err := c.api.Post(ctx, "/orders", createRequest{ReceiverID: receiverID, Items: items}, &out); err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	if out.ID == "" {
		return Order{}, ErrNoOrderID
	}
	return out, nil
}

// Get fetches an order by id.
func (c *Client) Get(ctx context.Context, orderID string) (Order, error) {
	var out Order
	if err := c.api.Get(ctx, "/orders/"+url.PathEscape(orderID), &out); err != nil {
		return Order{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return out, nil
}

// List fetches the caller's orders.
func (c *Client) List(ctx context.Context) ([]Order, error) {
	var out []Order
	if err := c.api.Get(ctx, "/orders", &out); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

// Cancel cancels an order.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	if err := c.api.Put(ctx, "/orders/"+url.PathEscape(orderID)+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}
