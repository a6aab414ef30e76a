package order

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderCols = []string{"id", "total_amount", "total_items", "status", "paid", "paid_at", "external_charge_id", "created_at", "updated_at"}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestRepositoryCreateWithItems_Success(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	o := &Order{
		ID:          "order-123",
		TotalAmount: decimal.RequireFromString("25.00"),
		TotalItems:  3,
		Status:      StatusPending,
		CreatedAt:   now,
		Items: []Item{
			{ProductID: 1, Quantity: 2, Price: decimal.RequireFromString("10.00")},
			{ProductID: 2, Quantity: 1, Price: decimal.RequireFromString("5.00")},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertOrderSQL)).
		WithArgs(o.ID, sqlmock.AnyArg(), 3, "PENDING", false, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertItemSQL)).
		WithArgs(sqlmock.AnyArg(), o.ID, 1, 1, 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertItemSQL)).
		WithArgs(sqlmock.AnyArg(), o.ID, 2, 2, 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateWithItems(context.Background(), o))
	assert.Equal(t, now, o.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreateWithItems_GeneratesID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)

	o := &Order{Status: StatusPending}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertOrderSQL)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 0, "PENDING", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateWithItems(context.Background(), o))
	assert.NotEmpty(t, o.ID)
	assert.False(t, o.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreateWithItems_ItemFailureRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)

	o := &Order{
		ID:     "order-err",
		Status: StatusPending,
		Items: []Item{
			{ProductID: 1, Quantity: 1, Price: decimal.RequireFromString("10")},
			{ProductID: 2, Quantity: 1, Price: decimal.RequireFromString("5")},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertOrderSQL)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertItemSQL)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertItemSQL)).
		WillReturnError(errors.New("foreign key violation"))
	mock.ExpectRollback()

	err := repo.CreateWithItems(context.Background(), o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert order_item")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreateWithItems_OrderInsertError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertOrderSQL)).
		WillReturnError(errors.New("insert failed"))
	mock.ExpectRollback()

	err := repo.CreateWithItems(context.Background(), &Order{ID: "o1", Status: StatusPending})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(selectOrderSQL)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	o, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, o)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByID_WithItemsAndReceipt(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	paidAt := created.Add(time.Minute)

	cols := append(append([]string{}, orderCols...), "receipt_url", "receipt_created_at")
	mock.ExpectQuery(regexp.QuoteMeta(selectOrderSQL)).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("o1", "25.00", 3, "PAID", true, paidAt, "ch_1", created, paidAt, "https://r/1", paidAt))

	mock.ExpectQuery(regexp.QuoteMeta(selectItemsSQL)).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "price"}).
			AddRow(1, 2, "10.00").
			AddRow(2, 1, "5.00"))

	o, err := repo.GetByID(context.Background(), "o1")
	require.NoError(t, err)
	require.NotNil(t, o)

	assert.Equal(t, StatusPaid, o.Status)
	assert.True(t, o.Paid)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, paidAt, *o.PaidAt)
	assert.Equal(t, "ch_1", o.ExternalChargeID)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("25")))
	require.NotNil(t, o.Receipt)
	assert.Equal(t, "https://r/1", o.Receipt.ReceiptURL)

	require.Len(t, o.Items, 2)
	assert.Equal(t, 1, o.Items[0].ProductID)
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.True(t, o.Items[0].Price.Equal(decimal.RequireFromString("10")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByID_PendingHasNoReceipt(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cols := append(append([]string{}, orderCols...), "receipt_url", "receipt_created_at")
	mock.ExpectQuery(regexp.QuoteMeta(selectOrderSQL)).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("o1", "5.00", 1, "PENDING", false, nil, nil, created, created, nil, nil))
	mock.ExpectQuery(regexp.QuoteMeta(selectItemsSQL)).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "price"}).AddRow(2, 1, "5.00"))

	o, err := repo.GetByID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Nil(t, o.Receipt)
	assert.Nil(t, o.PaidAt)
	assert.Empty(t, o.ExternalChargeID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCountAndList_StatusFilter(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	status := StatusCancelled

	mock.ExpectQuery(regexp.QuoteMeta(countOrdersSQL)).
		WithArgs("CANCELLED").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	mock.ExpectQuery(regexp.QuoteMeta(listOrdersSQL)).
		WithArgs("CANCELLED", 10, 10).
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow("o11", "1.00", 1, "CANCELLED", false, nil, nil, created, created).
			AddRow("o12", "2.00", 2, "CANCELLED", false, nil, nil, created, created))

	n, err := repo.Count(context.Background(), &status)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	orders, err := repo.List(context.Background(), &status, 10, 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o11", orders[0].ID)
	assert.Equal(t, StatusCancelled, orders[1].Status)
	assert.Nil(t, orders[0].Items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryList_NoFilterEmpty(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(listOrdersSQL)).
		WithArgs(nil, 0, 10).
		WillReturnRows(sqlmock.NewRows(orderCols))

	orders, err := repo.List(context.Background(), nil, 0, 10)
	require.NoError(t, err)
	assert.NotNil(t, orders)
	assert.Empty(t, orders)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryUpdateStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(updateStatusSQL)).
		WithArgs("o1", "CANCELLED", "PENDING").
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow("o1", "5.00", 1, "CANCELLED", false, nil, nil, created, created.Add(time.Hour)))

	o, err := repo.UpdateStatus(context.Background(), "o1", StatusPending, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)

	mock.ExpectQuery(regexp.QuoteMeta(updateStatusSQL)).
		WithArgs("missing", "CANCELLED", "PENDING").
		WillReturnError(sql.ErrNoRows)

	o, err = repo.UpdateStatus(context.Background(), "missing", StatusPending, StatusCancelled)
	require.NoError(t, err)
	assert.Nil(t, o)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryUpdateStatus_SkipsRowPaidMeanwhile(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)

	assert.Contains(t, updateStatusSQL, "status = $3 AND paid = FALSE")

	// The row was paid after the caller read it as PENDING: nothing matches.
	mock.ExpectQuery(regexp.QuoteMeta(updateStatusSQL)).
		WithArgs("o1", "CANCELLED", "PENDING").
		WillReturnRows(sqlmock.NewRows(orderCols))

	o, err := repo.UpdateStatus(context.Background(), "o1", StatusPending, StatusCancelled)
	require.NoError(t, err)
	assert.Nil(t, o)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryMarkPaid_Applies(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	paidAt := created.Add(time.Minute)
	p := PaidOrder{OrderID: "o1", ExternalChargeID: "ch_1", ReceiptURL: "https://r/1"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockOrderSQL)).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow("o1", "5.00", 1, "PENDING", false, nil, nil, created, created))
	mock.ExpectQuery(regexp.QuoteMeta(markPaidSQL)).
		WithArgs("o1", "PAID", paidAt, "ch_1").
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow("o1", "5.00", 1, "PAID", true, paidAt, "ch_1", created, paidAt))
	mock.ExpectExec(regexp.QuoteMeta(insertReceiptSQL)).
		WithArgs(sqlmock.AnyArg(), "o1", "https://r/1", paidAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	o, applied, err := repo.MarkPaid(context.Background(), p, paidAt)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusPaid, o.Status)
	assert.True(t, o.Paid)
	require.NotNil(t, o.Receipt)
	assert.Equal(t, "https://r/1", o.Receipt.ReceiptURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryMarkPaid_AlreadyPaidIsNoop(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	firstPaid := created.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockOrderSQL)).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow("o1", "5.00", 1, "PAID", true, firstPaid, "ch_1", created, firstPaid))
	mock.ExpectRollback()

	o, applied, err := repo.MarkPaid(context.Background(),
		PaidOrder{OrderID: "o1", ExternalChargeID: "ch_2", ReceiptURL: "https://r/2"},
		firstPaid.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, applied)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, firstPaid, *o.PaidAt)
	assert.Equal(t, "ch_1", o.ExternalChargeID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryMarkPaid_CancelledOrderIsRejected(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockOrderSQL)).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow("o1", "5.00", 1, "CANCELLED", false, nil, nil, created, created))
	mock.ExpectRollback()

	o, applied, err := repo.MarkPaid(context.Background(),
		PaidOrder{OrderID: "o1", ExternalChargeID: "ch_1", ReceiptURL: "https://r/1"}, created.Add(time.Minute))
	require.ErrorIs(t, err, ErrOrderCancelled)
	assert.Nil(t, o)
	assert.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryMarkPaid_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockOrderSQL)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	o, applied, err := repo.MarkPaid(context.Background(), PaidOrder{OrderID: "missing"}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, o)
	assert.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryMarkPaid_ReceiptConflictRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRepository(db)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	paidAt := created.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockOrderSQL)).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow("o1", "5.00", 1, "PENDING", false, nil, nil, created, created))
	mock.ExpectQuery(regexp.QuoteMeta(markPaidSQL)).
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow("o1", "5.00", 1, "PAID", true, paidAt, "ch_1", created, paidAt))
	mock.ExpectExec(regexp.QuoteMeta(insertReceiptSQL)).
		WillReturnError(errors.New("duplicate key value violates unique constraint"))
	mock.ExpectRollback()

	_, applied, err := repo.MarkPaid(context.Background(), PaidOrder{OrderID: "o1", ExternalChargeID: "ch_1"}, paidAt)
	require.Error(t, err)
	assert.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}
