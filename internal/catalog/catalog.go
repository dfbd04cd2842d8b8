// Package catalog provides read-only product browsing: lists, detail,
// categories, and search.
package catalog

import (
	"context"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/withgift/storefront/internal/api"
)

// Product is a catalog entry.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url"`
	CategoryID  string          `json:"category_id"`
}

// Category groups products.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Page is a paged product listing.
type Page struct {
	Products   []Product `json:"products"`
	PageNumber int       `json:"page"`
	TotalPages int       `json:"total_pages"`
}

// Client provides catalog queries.
type Client struct {
	api *api.Client
}

// NewClient creates a catalog client.
func NewClient(apiClient *api.Client) *Client {
	return &Client{api: apiClient}
}

// Products lists products, paged.
func (c *Client) Products(ctx context.Context, page int) (Page, error) {
	var out Page
	if err := c.api.Get(ctx, fmt.Sprintf("/products?page=%d", page), &out); err != nil {
		return Page{}, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

// Product fetches a single product by id.
func (c *Client) Product(ctx context.Context, id string) (Product, error) {
	var out Product
	if err := c.api.Get(ctx, "/products/"+url.PathEscape(id), &out); err != nil {
		return Product{}, fmt.Errorf("get product %s: %w", id, err)
	}
	return out, nil
}

// Categories lists all categories.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	var out []Category
	if err := c.api.Get(ctx, "/categories", &out); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

// ProductsByCategory lists products in a category, paged.
func (c *Client) ProductsByCategory(ctx context.Context, categoryID string, page int) (Page, error) {
	var out Page
	path := fmt.Sprintf("/categories/%s/products?page=%d", url.PathEscape(categoryID), page)
	if err := c.api.Get(ctx, path, &out); err != nil {
		return Page{}, fmt.Errorf("list category products: %w", err)
	}
	return out, nil
}

// Search finds products matching the query string.
func (c *Client) Search(ctx context.Context, query string) ([]Product, error) {
	var out []Product
	if err := c.api.Get(ctx, "/products/search?q="+url.QueryEscape(query), &out); err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	return out, nil
}
