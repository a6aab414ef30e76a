package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/order"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/sequence"
)

type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher emits order domain events on the topic exchange.
type Publisher struct {
	ch       channelPublisher
	closer   func() error
	seqRepo  sequence.Repository
	producer string
}

type PublisherOptions struct {
	Producer string
}

func NewPublisher(conn *amqp.Connection, seqRepo sequence.Repository, opts PublisherOptions) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareEventsExchange(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}

	p := newPublisher(ch, seqRepo, opts)
	p.closer = ch.Close
	return p, nil
}

func newPublisher(ch channelPublisher, seqRepo sequence.Repository, opts PublisherOptions) *Publisher {
	producer := opts.Producer
	if producer == "" {
		producer = "order-service"
	}
	return &Publisher{ch: ch, seqRepo: seqRepo, producer: producer}
}

func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

func (p *Publisher) PublishOrderCreated(ctx context.Context, o *order.Order) error {
	seq, err := p.seqRepo.NextSequence(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	env := BuildOrderCreatedEnvelope(o, seq, p.producer, EnvelopeMetadata{})
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal OrderCreated envelope: %w", err)
	}
	return p.publishJSON(ctx, OrderCreatedRoutingKey, env.EventID, body)
}

func (p *Publisher) PublishOrderPaid(ctx context.Context, o *order.Order) error {
	seq, err := p.seqRepo.NextSequence(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	env := BuildOrderPaidEnvelope(o, seq, p.producer, EnvelopeMetadata{})
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal OrderPaid envelope: %w", err)
	}
	return p.publishJSON(ctx, OrderPaidRoutingKey, env.EventID, body)
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey, messageID string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}
