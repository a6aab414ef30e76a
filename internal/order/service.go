package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/payment"
)

// priceScale is the number of decimals money columns store.
const priceScale = 2

type ProductValidator interface {
	ValidateProducts(ctx context.Context, ids []int) ([]catalog.Product, error)
}

type PaymentSessions interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error)
}

// EventPublisher announces committed state changes. Publishing is best
// effort: failures are logged and never undo the change.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, o *Order) error
	PublishOrderPaid(ctx context.Context, o *Order) error
}

// Service drives the order lifecycle on top of a Repository and the catalog
// and payment peers.
type Service struct {
	repo     Repository
	catalog  ProductValidator
	payments PaymentSessions
	events   EventPublisher
	currency string
	logger   *log.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithCurrency(currency string) Option {
	return func(s *Service) { s.currency = currency }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, catalog ProductValidator, payments PaymentSessions, logger *log.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		catalog:  catalog,
		payments: payments,
		currency: "usd",
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates items against the catalog, prices them with catalog
// prices only and persists the order with its items in one transaction.
// Every failure matches ErrOrderCreationFailed and its specific cause.
func (s *Service) Create(ctx context.Context, items []CreateItem) (*Order, error) {
	lines := make([]Item, 0, len(items))
	for _, it := range items {
		lines = append(lines, Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	ids := distinctProductIDs(lines)

	products, err := s.catalog.ValidateProducts(ctx, ids)
	if err != nil {
		s.logger.Printf("create order: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrOrderCreationFailed, ErrUpstreamValidation)
	}
	byID := indexProducts(products)

	totalAmount := decimal.Zero
	totalItems := 0
	for i := range lines {
		p, ok := byID[lines[i].ProductID]
		if !ok {
			s.logger.Printf("create order: catalog reply is missing product %d", lines[i].ProductID)
			return nil, fmt.Errorf("%w: %w: id %d", ErrOrderCreationFailed, ErrProductNotFound, lines[i].ProductID)
		}
		// total == Σ stored price × quantity
		lines[i].Price = p.Price.Round(priceScale)
		totalAmount = totalAmount.Add(lines[i].Price.Mul(decimal.NewFromInt(int64(lines[i].Quantity))))
		totalItems += lines[i].Quantity
	}

	o := &Order{
		ID:          uuid.NewString(),
		TotalAmount: totalAmount,
		TotalItems:  totalItems,
		Status:      StatusPending,
		CreatedAt:   s.now().UTC(),
		Items:       lines,
	}

	if err := s.repo.CreateWithItems(ctx, o); err != nil {
		s.logger.Printf("create order: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrOrderCreationFailed, err)
	}

	if s.events != nil {
		if err := s.events.PublishOrderCreated(ctx, o); err != nil {
			s.logger.Printf("publish OrderCreated for order %s: %v", o.ID, err)
		}
	}

	withNames(o, byID)
	s.logger.Printf("created order %s items=%d total=%s", o.ID, o.TotalItems, o.TotalAmount)
	return o, nil
}

func (s *Service) List(ctx context.Context, req PageRequest) (*Page, error) {
	if req.Page < 1 || req.Limit < 1 {
		return nil, fmt.Errorf("%w: page and limit must be positive", ErrInvalidRequest)
	}
	total, err := s.repo.Count(ctx, req.Status)
	if err != nil {
		return nil, err
	}
	lastPage := (total + req.Limit - 1) / req.Limit

	orders, err := s.repo.List(ctx, req.Status, (req.Page-1)*req.Limit, req.Limit)
	if err != nil {
		return nil, err
	}

	page := &Page{
		Data:        orders,
		Total:       total,
		CurrentPage: req.Page,
		LastPage:    lastPage,
	}
	if req.Page+1 < lastPage {
		next := req.Page + 1
		page.NextPage = &next
	}
	if req.Page-1 > 0 {
		back := req.Page - 1
		page.BackPage = &back
	}
	return page, nil
}

// FindOne loads the order with its items and re-resolves item names from
// the catalog.
func (s *Service) FindOne(ctx context.Context, id string) (*Order, error) {
	if !validOrderID(id) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}

	products, err := s.catalog.ValidateProducts(ctx, o.ProductIDs())
	if err != nil {
		s.logger.Printf("find order %s: %v", id, err)
		return nil, ErrUpstreamValidation
	}
	byID := indexProducts(products)
	for _, it := range o.Items {
		if _, ok := byID[it.ProductID]; !ok {
			s.logger.Printf("find order %s: catalog reply is missing product %d", id, it.ProductID)
			return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, it.ProductID)
		}
	}
	withNames(o, byID)
	return o, nil
}

// ChangeStatus applies a non-financial status change. Asking for the
// current status is a no-op that returns the order unchanged.
func (s *Service) ChangeStatus(ctx context.Context, id string, status Status) (*Order, error) {
	o, err := s.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status == status {
		return o, nil
	}
	if err := o.Status.CanTransitionTo(status); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, id, o.Status, status)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		// Orders are never deleted, so the row changed after it was read.
		return nil, fmt.Errorf("%w: order %s is no longer %s", ErrInvalidStatusTransition, id, o.Status)
	}

	o.Status = updated.Status
	o.UpdatedAt = updated.UpdatedAt
	s.logger.Printf("order %s status changed to %s", id, status)
	return o, nil
}

// CreatePaymentSession asks the payment service for a checkout session for
// o. Local state is never touched, so the call can be retried freely.
func (s *Service) CreatePaymentSession(ctx context.Context, o *Order) (payment.Session, error) {
	req := payment.SessionRequest{
		OrderID:  o.ID,
		Currency: s.currency,
		Items:    make([]payment.SessionItem, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		req.Items = append(req.Items, payment.SessionItem{
			Name:     it.Name,
			Price:    it.Price,
			Quantity: it.Quantity,
		})
	}

	session, err := s.payments.CreateSession(ctx, req)
	if err != nil {
		s.logger.Printf("payment session for order %s: %v", o.ID, err)
		return nil, ErrPaymentSession
	}
	return session, nil
}

// ConfirmPayment marks the order paid and stores its receipt atomically.
// Repeated confirmations for a paid order succeed without changing it.
// Confirmations for cancelled orders are rejected with ErrOrderCancelled.
func (s *Service) ConfirmPayment(ctx context.Context, p PaidOrder) (*Order, error) {
	if !validOrderID(p.OrderID) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, p.OrderID)
	}
	o, applied, err := s.repo.MarkPaid(ctx, p, s.now().UTC())
	if errors.Is(err, ErrOrderCancelled) {
		s.logger.Printf("order %s is cancelled, rejecting confirmation charge=%s", p.OrderID, p.ExternalChargeID)
		return nil, fmt.Errorf("%w: %s", ErrOrderCancelled, p.OrderID)
	}
	if err != nil {
		s.logger.Printf("confirm payment for order %s: %v", p.OrderID, err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentConfirmation, err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, p.OrderID)
	}
	if !applied {
		s.logger.Printf("order %s already paid, ignoring confirmation charge=%s", p.OrderID, p.ExternalChargeID)
		return o, nil
	}

	s.logger.Printf("order %s paid charge=%s", o.ID, o.ExternalChargeID)
	if s.events != nil {
		if err := s.events.PublishOrderPaid(ctx, o); err != nil {
			s.logger.Printf("publish OrderPaid for order %s: %v", o.ID, err)
		}
	}
	return o, nil
}

// validOrderID reports whether id can name an order at all. Ids are UUIDs
// and anything else would be rejected by the database.
func validOrderID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func indexProducts(products []catalog.Product) map[int]catalog.Product {
	byID := make(map[int]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return byID
}

func withNames(o *Order, byID map[int]catalog.Product) {
	for i := range o.Items {
		o.Items[i].Name = byID[o.Items[i].ProductID].Name
	}
}
