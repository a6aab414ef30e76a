package order

import "errors"

var (
	ErrUpstreamValidation      = errors.New("product validation failed")
	ErrProductNotFound         = errors.New("product not found in catalog")
	ErrOrderCreationFailed     = errors.New("order creation failed")
	ErrOrderNotFound           = errors.New("order not found")
	ErrPaymentSession          = errors.New("payment session creation failed")
	ErrPaymentConfirmation     = errors.New("payment confirmation failed")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrOrderCancelled          = errors.New("order is cancelled")
)
