package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/metrics"
)

// DirectReplyTo is RabbitMQ's pseudo-queue for request/reply without a
// declared reply queue.
const DirectReplyTo = "amq.rabbitmq.reply-to"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Client sends commands to peer queues and waits for the correlated reply.
// It is safe for concurrent use.
type Client struct {
	pub     publisher
	ch      *amqp.Channel
	timeout time.Duration
	metrics *metrics.RPC
	logger  *log.Logger

	mu      sync.Mutex
	pending map[string]chan amqp.Delivery
}

func NewClient(conn *amqp.Connection, timeout time.Duration, m *metrics.RPC, logger *log.Logger) (*Client, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	// Direct reply-to requires consuming in no-ack mode on the publishing channel.
	replies, err := ch.Consume(DirectReplyTo, "", true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume replies: %w", err)
	}

	c := newClient(ch, timeout, m, logger)
	c.ch = ch
	go c.readReplies(replies)
	return c, nil
}

func newClient(pub publisher, timeout time.Duration, m *metrics.RPC, logger *log.Logger) *Client {
	return &Client{
		pub:     pub,
		timeout: timeout,
		metrics: m,
		logger:  logger,
		pending: make(map[string]chan amqp.Delivery),
	}
}

func (c *Client) Close() error {
	if c.ch == nil {
		return nil
	}
	return c.ch.Close()
}

// Call publishes command with payload to queue and decodes the reply data
// into out. It fails with ErrTimeout if no reply arrives in time and with a
// *RemoteError if the peer replied with an error.
func (c *Client) Call(ctx context.Context, queue, command string, payload, out any) (err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.Outbound, command, err, start) }()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", command, err)
	}
	body, err := json.Marshal(Request{Command: command, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", command, err)
	}

	correlationID := uuid.NewString()
	wait := c.register(correlationID)
	defer c.unregister(correlationID)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err = c.pub.PublishWithContext(callCtx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		ReplyTo:       DirectReplyTo,
		Expiration:    strconv.FormatInt(c.timeout.Milliseconds(), 10),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", command, err)
	}

	select {
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %s", ErrTimeout, command, c.timeout)
		}
		return callCtx.Err()
	case d := <-wait:
		var reply Reply
		if err := json.Unmarshal(d.Body, &reply); err != nil {
			return fmt.Errorf("unmarshal %s reply: %w", command, err)
		}
		if reply.Error != nil {
			return &RemoteError{Command: command, Status: reply.Error.Status, Message: reply.Error.Message}
		}
		if out == nil || len(reply.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(reply.Data, out); err != nil {
			return fmt.Errorf("unmarshal %s data: %w", command, err)
		}
		return nil
	}
}

func (c *Client) register(correlationID string) <-chan amqp.Delivery {
	ch := make(chan amqp.Delivery, 1)
	c.mu.Lock()
	c.pending[correlationID] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) unregister(correlationID string) {
	c.mu.Lock()
	delete(c.pending, correlationID)
	c.mu.Unlock()
}

func (c *Client) readReplies(replies <-chan amqp.Delivery) {
	for d := range replies {
		c.resolve(d)
	}
	c.logger.Println("rpc reply channel closed")
}

func (c *Client) resolve(d amqp.Delivery) {
	c.mu.Lock()
	ch, ok := c.pending[d.CorrelationId]
	delete(c.pending, d.CorrelationId)
	c.mu.Unlock()

	if !ok {
		c.logger.Printf("dropping late or unknown reply correlationId=%s", d.CorrelationId)
		return
	}
	ch <- d
}
