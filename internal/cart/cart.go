// Package cart provides the shopping cart client and the local rules that
// guard it: quantities never drop below one and a checkout selection must
// not be empty.
package cart

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/withgift/storefront/internal/api"
)

// Errors
var (
	ErrMinQuantity    = errors.New("quantity cannot go below 1")
	ErrEmptySelection = errors.New("no items selected")
)

// Item is one cart entry.
type Item struct {
	EntryID   string          `json:"entry_id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// LineItem is a cart entry reduced to what checkout needs.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// Client provides cart operations.
type Client struct {
	api *api.Client
}

// NewClient creates a cart client.
func NewClient(apiClient *api.Client) *Client {
	return &Client{api: apiClient}
}

// Items lists the current cart contents.
func (c *Client) Items(ctx context.Context) ([]Item, error) {
	var out []Item
	if err := c.api.Get(ctx, "/cart", &out); err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	return out, nil
}

// Add puts a product into the cart.
func (c *Client) Add(ctx context.Context, productID string, quantity int) error {
	if quantity < 1 {
		return ErrMinQuantity
	}
	body := map[string]any{"product_id": productID, "quantity": quantity}
	if err := c.api.Post(ctx, "/cart", body, nil); err != nil {
		return fmt.Errorf("add to cart: %w", err)
	}
	return nil
}

// UpdateQuantity sets the quantity of a cart entry. Quantities below one
// are rejected before any network call.
func (c *Client) UpdateQuantity(ctx context.Context, entryID string, quantity int) error {
	if quantity < 1 {
		return ErrMinQuantity
	}
	body := map[string]any{"quantity": quantity}
	if err := c.api.Put(ctx, "/cart/"+url.PathEscape(entryID), body, nil); err != nil {
		return fmt.Errorf("update cart entry: %w", err)
	}
	return nil
}

// Increment raises an entry's quantity by one.
func (c *Client) Increment(ctx context.Context, item Item) error {
	return c.UpdateQuantity(ctx, item.EntryID, item.Quantity+1)
}

// Decrement lowers an entry's quantity by one, never below one.
func (c *Client) Decrement(ctx context.Context, item Item) error {
	if item.Quantity <= 1 {
		return ErrMinQuantity
	}
	return c.UpdateQuantity(ctx, item.EntryID, item.Quantity-1)
}

// Remove deletes a cart entry.
func (c *Client) Remove(ctx context.Context, entryID string) error {
	if err := c.api.Delete(ctx, "/cart/"+url.PathEscape(entryID), nil); err != nil {
		return fmt.Errorf("remove cart entry: %w", err)
	}
	return nil
}

// Clear empties the cart.
func (c *Client) Clear(ctx context.Context) error {
	if err := c.api.Delete(ctx, "/cart", nil); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// Selection converts the chosen cart entries into checkout line items. An
// empty result is rejected so checkout never starts with nothing to buy.
func Selection(items []Item, entryIDs []string) ([]LineItem, error) {
	chosen := make(map[string]bool, len(entryIDs))
	for _, id := range entryIDs {
		chosen[id] = true
	}

	var out []LineItem
	for _, item := range items {
		if !chosen[item.EntryID] {
			continue
		}
		out = append(out, LineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	if len(out) == 0 {
		return nil, ErrEmptySelection
	}
	return out, nil
}
