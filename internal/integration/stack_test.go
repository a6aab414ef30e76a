//go:build integration

package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/events"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/order"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/payment"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/rpc"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/sequence"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/testutil"
)

const (
	ordersQueue   = "orders.rpc.test"
	productsQueue = "products.rpc.test"
	paymentsQueue = "payments.rpc.test"
)

var testCatalog = map[int]catalog.Product{
	1: {ID: 1, Name: "Keyboard", Price: decimal.RequireFromString("10.00")},
	2: {ID: 2, Name: "Mouse", Price: decimal.RequireFromString("5.00")},
}

type stack struct {
	db     *sql.DB
	conn   *amqp.Connection
	client *rpc.Client
	svc    *order.Service
}

// startStack runs the order service against real Postgres and RabbitMQ,
// with in-process stand-ins for the products and payments services.
func startStack(t *testing.T) *stack {
	t.Helper()

	db, _ := testutil.StartPostgres(t)
	conn, _ := testutil.StartRabbitMQ(t)
	logger := log.New(io.Discard, "", 0)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	startPeer(t, ctx, conn, productsQueue, "validate_products", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var ids []int
		if err := json.Unmarshal(payload, &ids); err != nil {
			return nil, err
		}
		out := []catalog.Product{}
		for _, id := range ids {
			if p, ok := testCatalog[id]; ok {
				out = append(out, p)
			}
		}
		return out, nil
	})
	startPeer(t, ctx, conn, paymentsQueue, "create.payment.session", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req payment.SessionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return map[string]string{"url": "https://pay.example/" + req.OrderID, "currency": req.Currency}, nil
	})

	client, err := rpc.NewClient(conn, 5*time.Second, nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	pub, err := events.NewPublisher(conn, sequence.NewRepository(db), events.PublisherOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	svc := order.NewService(
		order.NewRepository(db),
		catalog.NewClient(client, productsQueue),
		payment.NewClient(client, paymentsQueue),
		logger,
		order.WithEventPublisher(pub),
	)

	server, err := rpc.NewServer(conn, rpc.ServerOptions{Queue: ordersQueue, Workers: 4}, events.MapError, nil, logger)
	require.NoError(t, err)
	events.RegisterCommands(server, svc)
	require.NoError(t, server.Start(ctx))
	t.Cleanup(func() { _ = server.Close() })

	require.NoError(t, events.StartConsumer(ctx, conn, events.ConsumerOptions{
		RoutingKey: events.PaymentSucceededRoutingKey,
	}, events.PaymentSucceededHandler(svc, logger), nil, logger))

	return &stack{db: db, conn: conn, client: client, svc: svc}
}

func startPeer(t *testing.T, ctx context.Context, conn *amqp.Connection, queue, command string, h rpc.HandlerFunc) {
	t.Helper()
	s, err := rpc.NewServer(conn, rpc.ServerOptions{Queue: queue}, nil, nil, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	s.Handle(command, h)
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Close() })
}
