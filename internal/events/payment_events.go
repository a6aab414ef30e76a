package events

import (
	"encoding/json"
	"fmt"
)

const (
	paymentSucceededEventName    = "PaymentSucceeded"
	paymentSucceededEventVersion = 1
)

// PaymentSucceeded is the confirmation sent by the payment service once a
// charge has settled. Older producers send the charge id as stripePaymentId.
type PaymentSucceeded struct {
	OrderID          string `json:"orderId"`
	ExternalChargeID string `json:"externalChargeId"`
	StripePaymentID  string `json:"stripePaymentId,omitempty"`
	ReceiptURL       string `json:"receiptUrl"`
}

func (p PaymentSucceeded) chargeID() string {
	if p.ExternalChargeID != "" {
		return p.ExternalChargeID
	}
	return p.StripePaymentID
}

type PaymentSucceededEnvelope = EventEnvelope[PaymentSucceeded]

// parsePaymentSucceeded accepts both the enveloped and the bare payload form.
func parsePaymentSucceeded(body []byte) (PaymentSucceeded, *PaymentSucceededEnvelope, error) {
	var env PaymentSucceededEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.EventName != "" {
		if err := env.Validate(paymentSucceededEventName, paymentSucceededEventVersion); err != nil {
			return PaymentSucceeded{}, nil, fmt.Errorf("invalid envelope: %w", err)
		}
		if err := validatePaymentSucceeded(env.Payload); err != nil {
			return PaymentSucceeded{}, nil, err
		}
		return env.Payload, &env, nil
	}

	var bare PaymentSucceeded
	if err := json.Unmarshal(body, &bare); err != nil {
		return PaymentSucceeded{}, nil, fmt.Errorf("unmarshal PaymentSucceeded: %w", err)
	}
	if err := validatePaymentSucceeded(bare); err != nil {
		return PaymentSucceeded{}, nil, err
	}
	return bare, nil, nil
}

func validatePaymentSucceeded(p PaymentSucceeded) error {
	if p.OrderID == "" {
		return fmt.Errorf("invalid payload: missing orderId")
	}
	if p.chargeID() == "" {
		return fmt.Errorf("invalid payload: missing externalChargeId")
	}
	return nil
}
