package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

const validateProductsCommand = "validate_products"

type Product struct {
	ID    int             `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Caller is the request/reply transport; *rpc.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, queue, command string, payload, out any) error
}

// Client resolves product ids against the products service. Every call is
// a fresh round trip.
type Client struct {
	rpc   Caller
	queue string
}

func NewClient(rpc Caller, queue string) *Client {
	return &Client{rpc: rpc, queue: queue}
}

// ValidateProducts returns the catalog records for ids. The call either
// succeeds as a whole or fails; partial replies are the caller's concern.
func (c *Client) ValidateProducts(ctx context.Context, ids []int) ([]Product, error) {
	var products []Product
	if err := c.rpc.Call(ctx, c.queue, validateProductsCommand, ids, &products); err != nil {
		return nil, fmt.Errorf("validate products %v: %w", ids, err)
	}
	return products, nil
}
