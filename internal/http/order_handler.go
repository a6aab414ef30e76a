package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/order"
)

// OrderQueries is the read side of the order service.
type OrderQueries interface {
	List(ctx context.Context, req order.PageRequest) (*order.Page, error)
	FindOne(ctx context.Context, id string) (*order.Order, error)
}

type OrderHandler struct {
	orders OrderQueries
}

func NewOrderHandler(orders OrderQueries) *OrderHandler {
	return &OrderHandler{orders: orders}
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing orderId")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.orders.FindOne(ctx, orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	req := order.PageRequest{Page: 1, Limit: 10}
	q := r.URL.Query()

	var err error
	if v := q.Get("page"); v != "" {
		if req.Page, err = strconv.Atoi(v); err != nil || req.Page < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil || req.Limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}
	if v := q.Get("status"); v != "" {
		status := order.Status(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+v)
			return
		}
		req.Status = &status
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	page, err := h.orders.List(ctx, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrUpstreamValidation), errors.Is(err, order.ErrProductNotFound):
		writeError(w, http.StatusBadGateway, "catalog unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "failed to load orders")
	}
}
