package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/config"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/db"
	eventserver "github.com/andreasstove999/ecommerce-system/orders-ms/internal/events"
	httpserver "github.com/andreasstove999/ecommerce-system/orders-ms/internal/http"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/metrics"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/order"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/payment"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/rpc"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/sequence"
)

func main() {
	logger := log.New(os.Stdout, "[order-service] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseDSN, logger); err != nil {
			logger.Fatalf("migrations: %v", err)
		}
	}
	database, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatalf("db: %v", err)
	}
	defer database.Close()

	orderRepo := order.NewRepository(database)
	seqRepo := sequence.NewRepository(database)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rpcMetrics := metrics.NewRPC(reg)

	// RabbitMQ
	rabbitConn, err := eventserver.DialRabbit(cfg.RabbitURL, 10, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer rabbitConn.Close()

	rpcClient, err := rpc.NewClient(rabbitConn, cfg.RPC.Timeout, rpcMetrics, logger)
	if err != nil {
		logger.Fatalf("rpc client: %v", err)
	}
	defer rpcClient.Close()

	opts := []order.Option{order.WithCurrency(cfg.Payment.Currency)}
	if cfg.PublishEvents {
		pub, err := eventserver.NewPublisher(rabbitConn, seqRepo, eventserver.PublisherOptions{Producer: "order-service"})
		if err != nil {
			logger.Fatalf("publisher: %v", err)
		}
		defer pub.Close()
		opts = append(opts, order.WithEventPublisher(pub))
	}

	svc := order.NewService(
		orderRepo,
		catalog.NewClient(rpcClient, cfg.RPC.ProductsQueue),
		payment.NewClient(rpcClient, cfg.RPC.PaymentsQueue),
		logger,
		opts...,
	)

	// Inbound commands
	rpcServer, err := rpc.NewServer(rabbitConn, rpc.ServerOptions{
		Queue:          cfg.RPC.OrdersQueue,
		ConsumerTag:    "order-service",
		Workers:        cfg.RPC.Workers,
		HandlerTimeout: cfg.RPC.HandlerTimeout,
	}, eventserver.MapError, rpcMetrics, logger)
	if err != nil {
		logger.Fatalf("rpc server: %v", err)
	}
	eventserver.RegisterCommands(rpcServer, svc)
	if err := rpcServer.Start(ctx); err != nil {
		logger.Fatalf("start rpc server: %v", err)
	}

	// Inbound events
	if err := eventserver.StartConsumer(ctx, rabbitConn, eventserver.ConsumerOptions{
		RoutingKey:     eventserver.PaymentSucceededRoutingKey,
		ConsumerTag:    "order-service-payments",
		HandlerTimeout: cfg.RPC.HandlerTimeout,
	}, eventserver.PaymentSucceededHandler(svc, logger), rpcMetrics, logger); err != nil {
		logger.Fatalf("start payment.succeeded consumer: %v", err)
	}

	// HTTP
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpserver.NewRouter(svc, reg),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("order-service listening on %s, commands on %s", cfg.HTTPAddr, cfg.RPC.OrdersQueue)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.RPC.HandlerTimeout+5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	// Workers stop taking deliveries; handlers already running finish first.
	cancel()
	done := make(chan struct{})
	go func() {
		rpcServer.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Println("timed out waiting for in-flight commands")
	}
	_ = rpcServer.Close()
}
