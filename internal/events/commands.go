package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/order"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/payment"
	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/rpc"
)

const (
	CommandCreateOrder       = "createOrder"
	CommandFindAllOrders     = "findAllOrders"
	CommandFindOneOrder      = "findOneOrder"
	CommandChangeOrderStatus = "changeOrderStatus"

	defaultPage  = 1
	defaultLimit = 10
)

type OrderCommands interface {
	Create(ctx context.Context, items []order.CreateItem) (*order.Order, error)
	List(ctx context.Context, req order.PageRequest) (*order.Page, error)
	FindOne(ctx context.Context, id string) (*order.Order, error)
	ChangeStatus(ctx context.Context, id string, status order.Status) (*order.Order, error)
	CreatePaymentSession(ctx context.Context, o *order.Order) (payment.Session, error)
}

type CommandRegistry interface {
	Handle(command string, h rpc.HandlerFunc)
}

type createOrderItem struct {
	ProductID int             `json:"productId" validate:"required,gt=0"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	Price     decimal.Decimal `json:"price"`
}

type createOrderRequest struct {
	Items []createOrderItem `json:"items" validate:"required,min=1,dive"`
}

// createOrderReply carries a null paymentSession and a warning when the
// order was stored but no session could be opened.
type createOrderReply struct {
	Order          *order.Order    `json:"order"`
	PaymentSession payment.Session `json:"paymentSession"`
	Warning        string          `json:"warning,omitempty"`
}

const paymentSessionWarning = "Payment session could not be created"

type findAllOrdersRequest struct {
	Page   int           `json:"page" validate:"gte=1"`
	Limit  int           `json:"limit" validate:"gte=1"`
	Status *order.Status `json:"status" validate:"omitempty,oneof=PENDING PAID CANCELLED"`
}

type findOneOrderRequest struct {
	ID string `json:"id" validate:"required,uuid"`
}

type changeOrderStatusRequest struct {
	ID     string       `json:"id" validate:"required,uuid"`
	Status order.Status `json:"status" validate:"required,oneof=PENDING PAID CANCELLED"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RegisterCommands wires the order commands into the RPC server.
func RegisterCommands(r CommandRegistry, svc OrderCommands) {
	r.Handle(CommandCreateOrder, createOrderHandler(svc))
	r.Handle(CommandFindAllOrders, findAllOrdersHandler(svc))
	r.Handle(CommandFindOneOrder, findOneOrderHandler(svc))
	r.Handle(CommandChangeOrderStatus, changeOrderStatusHandler(svc))
}

// createOrder persists the order and then opens a payment session for it.
// A session failure leaves the order PENDING and is reported in the reply,
// not as an error, so the caller does not retry into a second order.
func createOrderHandler(svc OrderCommands) rpc.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req createOrderRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}

		items := make([]order.CreateItem, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, order.CreateItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
		}

		o, err := svc.Create(ctx, items)
		if err != nil {
			return nil, err
		}
		session, err := svc.CreatePaymentSession(ctx, o)
		if err != nil {
			return createOrderReply{Order: o, Warning: paymentSessionWarning}, nil
		}
		return createOrderReply{Order: o, PaymentSession: session}, nil
	}
}

func findAllOrdersHandler(svc OrderCommands) rpc.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		req := findAllOrdersRequest{Page: defaultPage, Limit: defaultLimit}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return svc.List(ctx, order.PageRequest{Page: req.Page, Limit: req.Limit, Status: req.Status})
	}
}

func findOneOrderHandler(svc OrderCommands) rpc.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req findOneOrderRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return svc.FindOne(ctx, req.ID)
	}
}

func changeOrderStatusHandler(svc OrderCommands) rpc.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req changeOrderStatusRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return svc.ChangeStatus(ctx, req.ID, req.Status)
	}
}

// decode unmarshals payload into dst (keeping any defaults already set when
// the payload is empty) and validates it.
func decode(payload json.RawMessage, dst any) error {
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, dst); err != nil {
			return fmt.Errorf("%w: malformed payload", order.ErrInvalidRequest)
		}
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", order.ErrInvalidRequest, describe(err))
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// MapError converts a command failure into the client-facing reply. Causes
// are logged by the server, never echoed.
func MapError(err error) *rpc.ReplyError {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		return &rpc.ReplyError{Status: http.StatusNotFound, Message: notFoundMessage(err)}
	case errors.Is(err, order.ErrInvalidRequest), errors.Is(err, order.ErrInvalidStatusTransition):
		return &rpc.ReplyError{Status: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, order.ErrProductNotFound):
		return &rpc.ReplyError{Status: http.StatusBadRequest, Message: "Some products were not found"}
	case errors.Is(err, order.ErrOrderCreationFailed), errors.Is(err, order.ErrUpstreamValidation):
		return &rpc.ReplyError{Status: http.StatusBadRequest, Message: "Check logs"}
	case errors.Is(err, order.ErrPaymentSession):
		return &rpc.ReplyError{Status: http.StatusBadRequest, Message: paymentSessionWarning}
	default:
		return &rpc.ReplyError{Status: http.StatusInternalServerError, Message: "internal error"}
	}
}

func notFoundMessage(err error) string {
	msg := err.Error()
	prefix := order.ErrOrderNotFound.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return fmt.Sprintf("Order with id %s not found", msg[i+len(prefix):])
	}
	return "Order not found"
}
