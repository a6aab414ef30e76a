package events

import (
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange             = "ecommerce.events"
	PaymentSucceededRoutingKey = "payment.succeeded"
	OrderCreatedRoutingKey     = "order.created.v1"
	OrderPaidRoutingKey        = "order.paid.v1"
	orderServiceName           = "orders-ms"
)

func serviceQueue(serviceName, routingKey string) string {
	return serviceName + "." + routingKey
}

func orderQueueName(routingKey string) string {
	return serviceQueue(orderServiceName, routingKey)
}

func declareEventsExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

// DialRabbit connects to the broker, retrying while it comes up.
func DialRabbit(url string, attempts int, logger *log.Logger) (*amqp.Connection, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Printf("connect to RabbitMQ (attempt %d/%d): %v", i, attempts, err)
		if i < attempts {
			time.Sleep(time.Duration(i) * time.Second)
		}
	}
	return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
}
