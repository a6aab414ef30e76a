package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

const createSessionCommand = "create.payment.session"

type SessionItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type SessionRequest struct {
	OrderID  string        `json:"orderId"`
	Currency string        `json:"currency"`
	Items    []SessionItem `json:"items"`
}

// Session is the payment service's descriptor (redirect URLs and the like),
// passed through to the caller untouched.
type Session = json.RawMessage

type Caller interface {
	Call(ctx context.Context, queue, command string, payload, out any) error
}

type Client struct {
	rpc   Caller
	queue string
}

func NewClient(rpc Caller, queue string) *Client {
	return &Client{rpc: rpc, queue: queue}
}

func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	var session Session
	if err := c.rpc.Call(ctx, c.queue, createSessionCommand, req, &session); err != nil {
		return nil, fmt.Errorf("create payment session for order %s: %w", req.OrderID, err)
	}
	return session, nil
}
