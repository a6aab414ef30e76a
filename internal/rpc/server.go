package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/metrics"
)

type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// ErrorMapper turns a handler error into the reply sent to the caller.
type ErrorMapper func(err error) *ReplyError

type ServerOptions struct {
	Queue          string
	ConsumerTag    string
	Workers        int
	HandlerTimeout time.Duration
}

// Server consumes commands from one durable queue and answers each on its
// ReplyTo queue. Deliveries are processed by Workers goroutines.
type Server struct {
	ch       *amqp.Channel
	opts     ServerOptions
	handlers map[string]HandlerFunc
	mapErr   ErrorMapper
	metrics  *metrics.RPC
	logger   *log.Logger
	wg       sync.WaitGroup
}

func NewServer(conn *amqp.Connection, opts ServerOptions, mapErr ErrorMapper, m *metrics.RPC, logger *log.Logger) (*Server, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	s := newServer(opts, mapErr, m, logger)
	s.ch = ch
	return s, nil
}

func newServer(opts ServerOptions, mapErr ErrorMapper, m *metrics.RPC, logger *log.Logger) *Server {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 10 * time.Second
	}
	if mapErr == nil {
		mapErr = func(error) *ReplyError {
			return &ReplyError{Status: http.StatusInternalServerError, Message: "internal error"}
		}
	}
	return &Server{
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
		mapErr:   mapErr,
		metrics:  m,
		logger:   logger,
	}
}

// Handle registers h for command. It must be called before Start.
func (s *Server) Handle(command string, h HandlerFunc) {
	s.handlers[command] = h
}

func (s *Server) Start(ctx context.Context) error {
	if err := s.ch.Qos(s.opts.Workers, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	_, err := s.ch.QueueDeclare(
		s.opts.Queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := s.ch.Consume(
		s.opts.Queue,
		s.opts.ConsumerTag,
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.work(ctx, msgs)
	}
	return nil
}

// Wait blocks until every worker has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) Close() error {
	if s.ch == nil {
		return nil
	}
	return s.ch.Close()
}

func (s *Server) work(ctx context.Context, msgs <-chan amqp.Delivery) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				s.logger.Printf("%s: deliveries channel closed", s.opts.Queue)
				return
			}
			s.serve(ctx, msg)
		}
	}
}

func (s *Server) serve(ctx context.Context, msg amqp.Delivery) {
	// A started handler is allowed to finish even if the server is shutting down.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.HandlerTimeout)
	defer cancel()

	reply := s.Dispatch(hctx, msg.Body)

	if msg.ReplyTo != "" {
		body, err := json.Marshal(reply)
		if err == nil {
			err = s.ch.PublishWithContext(hctx, "", msg.ReplyTo, false, false, amqp.Publishing{
				ContentType:   "application/json",
				CorrelationId: msg.CorrelationId,
				Body:          body,
			})
		}
		if err != nil {
			s.logger.Printf("reply to %s correlationId=%s: %v", msg.ReplyTo, msg.CorrelationId, err)
		}
	}

	// The command has been executed; redelivery would execute it twice.
	_ = msg.Ack(false)
}

// Dispatch decodes a request, runs the matching handler and builds the reply.
func (s *Server) Dispatch(ctx context.Context, body []byte) Reply {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Reply{Error: &ReplyError{Status: http.StatusBadRequest, Message: "malformed request"}}
	}

	h, ok := s.handlers[req.Command]
	if !ok {
		return Reply{Error: &ReplyError{Status: http.StatusBadRequest, Message: "unknown command " + req.Command}}
	}

	start := time.Now()
	data, err := h(ctx, req.Payload)
	s.metrics.Observe(metrics.Inbound, req.Command, err, start)
	if err != nil {
		s.logger.Printf("command %s failed: %v", req.Command, err)
		return Reply{Error: s.mapErr(err)}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("command %s: marshal reply: %v", req.Command, err)
		return Reply{Error: &ReplyError{Status: http.StatusInternalServerError, Message: "internal error"}}
	}
	return Reply{Data: raw}
}
