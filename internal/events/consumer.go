package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/metrics"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/order"
)

type HandlerFunc func(ctx context.Context, body []byte) error

var ErrMalformedMessage = errors.New("malformed message")

type ConsumerOptions struct {
	RoutingKey     string
	ConsumerTag    string
	HandlerTimeout time.Duration
}

type settlement int

const (
	ack settlement = iota
	requeue
	drop
)

// settle decides what happens to a delivery after its handler ran.
// Persistence failures are transient and go back on the queue; anything
// else (unknown or cancelled order, bad payload) would fail the same way again.
func settle(err error) settlement {
	switch {
	case err == nil:
		return ack
	case errors.Is(err, order.ErrPaymentConfirmation):
		return requeue
	default:
		return drop
	}
}

// StartConsumer binds a durable service queue to the events exchange and
// runs h for every delivery until ctx is cancelled.
func StartConsumer(ctx context.Context, conn *amqp.Connection, opts ConsumerOptions, h HandlerFunc, m *metrics.RPC, logger *log.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	if err := declareEventsExchange(ch); err != nil {
		return fmt.Errorf("declare events exchange: %w", err)
	}

	queue := orderQueueName(opts.RoutingKey)
	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("queue declare %s: %w", queue, err)
	}

	if err := ch.QueueBind(queue, opts.RoutingKey, EventsExchange, false, nil); err != nil {
		return fmt.Errorf("queue bind %s: %w", queue, err)
	}

	msgs, err := ch.Consume(
		queue,
		opts.ConsumerTag,
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	timeout := opts.HandlerTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				logger.Printf("stopping %s consumer", queue)
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Printf("%s: messages channel closed", queue)
					return
				}
				handleDelivery(ctx, msg, opts.RoutingKey, timeout, h, m, logger)
			}
		}
	}()

	return nil
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func handleDelivery(ctx context.Context, msg amqp.Delivery, routingKey string, timeout time.Duration, h HandlerFunc, m *metrics.RPC, logger *log.Logger) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	err := h(hctx, msg.Body)
	m.Observe(metrics.Event, routingKey, err, start)
	settleDelivery(msg, err, logger)
}

func settleDelivery(msg acknowledger, err error, logger *log.Logger) {
	switch settle(err) {
	case ack:
		_ = msg.Ack(false)
	case requeue:
		logger.Printf("handle message, requeueing: %v", err)
		_ = msg.Nack(false, true)
	default:
		logger.Printf("handle message, dropping: %v", err)
		_ = msg.Nack(false, false)
	}
}
