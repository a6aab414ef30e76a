package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is an order line. Price is the catalog price captured at creation
// time. Name is never persisted; it is filled in from the catalog on reads.
type Item struct {
	ProductID int             `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Name      string          `json:"name,omitempty"`
}

type Receipt struct {
	ReceiptURL string    `json:"receiptUrl"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Order struct {
	ID               string          `json:"id"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	TotalItems       int             `json:"totalItems"`
	Status           Status          `json:"status"`
	Paid             bool            `json:"paid"`
	PaidAt           *time.Time      `json:"paidAt"`
	ExternalChargeID string          `json:"externalChargeId,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	Items            []Item          `json:"items,omitempty"`
	Receipt          *Receipt        `json:"receipt,omitempty"`
}

// ProductIDs returns the distinct product ids of the order's items in first-seen order.
func (o *Order) ProductIDs() []int {
	return distinctProductIDs(o.Items)
}

func distinctProductIDs(items []Item) []int {
	seen := make(map[int]struct{}, len(items))
	ids := make([]int, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}

// CreateItem is a requested line. Price is whatever the caller sent and is
// never used for totals.
type CreateItem struct {
	ProductID int
	Quantity  int
	Price     decimal.Decimal
}

// PaidOrder is the payment confirmation delivered by the payment service.
type PaidOrder struct {
	OrderID          string
	ExternalChargeID string
	ReceiptURL       string
}

type PageRequest struct {
	Page   int
	Limit  int
	Status *Status
}

type Page struct {
	Data        []Order `json:"data"`
	Total       int     `json:"total"`
	CurrentPage int     `json:"currentPage"`
	LastPage    int     `json:"lastPage"`
	NextPage    *int    `json:"nextPage,omitempty"`
	BackPage    *int    `json:"backPage,omitempty"`
}
