package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/order"
)

const (
	orderCreatedEventName = "OrderCreated"
	orderCreatedSchema    = "contracts/events/order/OrderCreated.v1.payload.schema.json"
	orderPaidEventName    = "OrderPaid"
	orderPaidSchema       = "contracts/events/order/OrderPaid.v1.payload.schema.json"
)

type OrderLine struct {
	ProductID int             `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"orderId"`
	Items       []OrderLine     `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	TotalItems  int             `json:"totalItems"`
	Status      order.Status    `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
}

type OrderPaidPayload struct {
	OrderID          string          `json:"orderId"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	ExternalChargeID string          `json:"externalChargeId"`
	ReceiptURL       string          `json:"receiptUrl,omitempty"`
	PaidAt           time.Time       `json:"paidAt"`
}

type OrderCreatedEnvelope = EventEnvelope[OrderCreatedPayload]
type OrderPaidEnvelope = EventEnvelope[OrderPaidPayload]

func BuildOrderCreatedEnvelope(o *order.Order, seq int64, producer string, meta EnvelopeMetadata) OrderCreatedEnvelope {
	items := make([]OrderLine, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderLine{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}

	return newEnvelope(orderCreatedEventName, 1, orderCreatedSchema, producer, o.ID, seq, meta, time.Now().UTC(),
		OrderCreatedPayload{
			OrderID:     o.ID,
			Items:       items,
			TotalAmount: o.TotalAmount,
			TotalItems:  o.TotalItems,
			Status:      o.Status,
			Timestamp:   o.CreatedAt,
		})
}

func BuildOrderPaidEnvelope(o *order.Order, seq int64, producer string, meta EnvelopeMetadata) OrderPaidEnvelope {
	payload := OrderPaidPayload{
		OrderID:          o.ID,
		TotalAmount:      o.TotalAmount,
		ExternalChargeID: o.ExternalChargeID,
	}
	if o.PaidAt != nil {
		payload.PaidAt = *o.PaidAt
	}
	if o.Receipt != nil {
		payload.ReceiptURL = o.Receipt.ReceiptURL
	}
	return newEnvelope(orderPaidEventName, 1, orderPaidSchema, producer, o.ID, seq, meta, time.Now().UTC(), payload)
}
