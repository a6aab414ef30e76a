package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	CreateWithItems(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, orderID string) (*Order, error)
	Count(ctx context.Context, status *Status) (int, error)
	List(ctx context.Context, status *Status, offset, limit int) ([]Order, error)
	// UpdateStatus moves an unpaid order from one status to another. It
	// returns nil, nil when no unpaid row with status from exists.
	UpdateStatus(ctx context.Context, orderID string, from, to Status) (*Order, error)
	// MarkPaid applies a payment confirmation. The boolean is false when the
	// order was already paid and nothing changed. A cancelled order is
	// rejected with ErrOrderCancelled.
	MarkPaid(ctx context.Context, p PaidOrder, paidAt time.Time) (*Order, bool, error)
}

const orderColumns = `id, total_amount, total_items, status, paid, paid_at, external_charge_id, created_at, updated_at`

const (
	insertOrderSQL = `INSERT INTO orders (id, total_amount, total_items, status, paid, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $6)`

	insertItemSQL = `INSERT INTO order_items (id, order_id, line_no, product_id, quantity, price)
             VALUES ($1, $2, $3, $4, $5, $6)`

	selectOrderSQL = `SELECT o.id, o.total_amount, o.total_items, o.status, o.paid, o.paid_at, o.external_charge_id,
         o.created_at, o.updated_at, r.receipt_url, r.created_at
         FROM orders o
         LEFT JOIN order_receipts r ON r.order_id = o.id
         WHERE o.id = $1`

	selectItemsSQL = `SELECT product_id, quantity, price
         FROM order_items WHERE order_id = $1 ORDER BY line_no`

	countOrdersSQL = `SELECT COUNT(*) FROM orders WHERE ($1::text IS NULL OR status = $1)`

	listOrdersSQL = `SELECT ` + orderColumns + `
         FROM orders WHERE ($1::text IS NULL OR status = $1)
         ORDER BY created_at, id
         OFFSET $2 LIMIT $3`

	updateStatusSQL = `UPDATE orders SET status = $2, updated_at = NOW()
         WHERE id = $1 AND status = $3 AND paid = FALSE
         RETURNING ` + orderColumns

	lockOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	markPaidSQL = `UPDATE orders
         SET status = $2, paid = TRUE, paid_at = $3, external_charge_id = $4, updated_at = $3
         WHERE id = $1
         RETURNING ` + orderColumns

	insertReceiptSQL = `INSERT INTO order_receipts (id, order_id, receipt_url, created_at)
         VALUES ($1, $2, $3, $4)`
)

type repo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repo{db: db}
}

func (r *repo) CreateWithItems(ctx context.Context, o *Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	o.UpdatedAt = o.CreatedAt

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, insertOrderSQL,
		o.ID, o.TotalAmount, o.TotalItems, string(o.Status), o.Paid, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		_, err = tx.ExecContext(ctx, insertItemSQL,
			uuid.NewString(), o.ID, i+1, it.ProductID, it.Quantity, it.Price,
		)
		if err != nil {
			return fmt.Errorf("insert order_item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the order does not exist.
func (r *repo) GetByID(ctx context.Context, orderID string) (*Order, error) {
	var (
		receiptURL sql.NullString
		receiptAt  sql.NullTime
	)
	o, err := scanOrder(r.db.QueryRowContext(ctx, selectOrderSQL, orderID), &receiptURL, &receiptAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select order: %w", err)
	}
	if receiptURL.Valid {
		o.Receipt = &Receipt{ReceiptURL: receiptURL.String, CreatedAt: receiptAt.Time}
	}

	rows, err := r.db.QueryContext(ctx, selectItemsSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("select order_items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.Price); err != nil {
			return nil, fmt.Errorf("scan order_item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return &o, nil
}

func (r *repo) Count(ctx context.Context, status *Status) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countOrdersSQL, statusArg(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (r *repo) List(ctx context.Context, status *Status, offset, limit int) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx, listOrdersSQL, statusArg(status), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	orders := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return orders, nil
}

// UpdateStatus only writes when the row still has status from and is unpaid,
// so a confirmation committed after the caller read the order wins.
func (r *repo) UpdateStatus(ctx context.Context, orderID string, from, to Status) (*Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, updateStatusSQL, orderID, string(to), string(from)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update status: %w", err)
	}
	return &o, nil
}

// MarkPaid locks the order row so concurrent confirmations for the same
// order serialize; the second one sees paid=true and returns unchanged.
// Returns nil, false, nil when the order does not exist.
func (r *repo) MarkPaid(ctx context.Context, p PaidOrder, paidAt time.Time) (*Order, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := scanOrder(tx.QueryRowContext(ctx, lockOrderSQL, p.OrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lock order: %w", err)
	}
	if current.Paid {
		return &current, false, nil
	}
	if current.Status == StatusCancelled {
		return nil, false, ErrOrderCancelled
	}

	updated, err := scanOrder(tx.QueryRowContext(ctx, markPaidSQL,
		p.OrderID, string(StatusPaid), paidAt, p.ExternalChargeID,
	))
	if err != nil {
		return nil, false, fmt.Errorf("mark paid: %w", err)
	}

	_, err = tx.ExecContext(ctx, insertReceiptSQL, uuid.NewString(), p.OrderID, p.ReceiptURL, paidAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert receipt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}

	updated.Receipt = &Receipt{ReceiptURL: p.ReceiptURL, CreatedAt: paidAt}
	return &updated, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner, extra ...any) (Order, error) {
	var (
		o        Order
		paidAt   sql.NullTime
		chargeID sql.NullString
	)
	dest := append([]any{
		&o.ID, &o.TotalAmount, &o.TotalItems, &o.Status, &o.Paid,
		&paidAt, &chargeID, &o.CreatedAt, &o.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Order{}, err
	}
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	o.ExternalChargeID = chargeID.String
	return o, nil
}

func statusArg(s *Status) any {
	if s == nil {
		return nil
	}
	return string(*s)
}
