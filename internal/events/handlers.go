package events

import (
	"context"
	"fmt"
	"log"

	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/order"
)

type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, p order.PaidOrder) (*order.Order, error)
}

// PaymentSucceededHandler applies payment confirmations. Malformed messages
// are reported with ErrMalformedMessage so the consumer drops them.
func PaymentSucceededHandler(svc PaymentConfirmer, logger *log.Logger) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		ev, env, err := parsePaymentSucceeded(body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}

		o, err := svc.ConfirmPayment(ctx, order.PaidOrder{
			OrderID:          ev.OrderID,
			ExternalChargeID: ev.chargeID(),
			ReceiptURL:       ev.ReceiptURL,
		})
		if err != nil {
			return fmt.Errorf("confirm payment for order %s: %w", ev.OrderID, err)
		}

		if env != nil {
			logger.Printf("payment confirmed order=%s eventId=%s status=%s", o.ID, env.EventID, o.Status)
		} else {
			logger.Printf("payment confirmed order=%s status=%s", o.ID, o.Status)
		}
		return nil
	}
}
