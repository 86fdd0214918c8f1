package repository

import (
	"context"
	"testing"

	"gameshop-fulfillment/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(code string) *model.Order {
	return &model.Order{
		Code:          code,
		CustomerID:    "cust-1",
		CustomerEmail: "buyer@example.com",
		SubTotal:      decimal.RequireFromString("39.98"),
		Shipping:      decimal.Zero,
		Tax:           decimal.RequireFromString("4.00"),
		ServiceFee:    decimal.RequireFromString("2.00"),
		Total:         decimal.RequireFromString("45.98"),
		Currency:      "USD",
		PaymentStatus: model.PaymentProcessing,
		OrderStatus:   model.OrderPending,
		Lines: []model.OrderLine{
			{
				ProductID:    "A",
				ProductName:  "Game A",
				VendorID:     "v1",
				Quantity:     2,
				UnitPrice:    decimal.RequireFromString("19.99"),
				UnitShipping: decimal.Zero,
				SubTotal:     decimal.RequireFromString("39.98"),
			},
		},
	}
}

func TestOrderRepository_CreateAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := newOrder("ord-1")
	require.NoError(t, repo.Create(ctx, nil, order))
	require.NotZero(t, order.ID)

	found, err := repo.FindByCode(ctx, nil, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)
	require.Len(t, found.Lines, 1)
	assert.Equal(t, 2, found.Lines[0].Quantity)
	assert.True(t, found.Total.Equal(decimal.RequireFromString("45.98")))

	_, err = repo.FindByCode(ctx, nil, "missing")
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
}

func TestOrderRepository_CreateRejectsInconsistentTotals(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOrderRepository(db)

	order := newOrder("ord-bad")
	order.Total = decimal.RequireFromString("50.00")

	err := repo.Create(context.Background(), nil, order)
	assert.ErrorIs(t, err, model.ErrInconsistentTotals)

	_, err = repo.FindByCode(context.Background(), nil, "ord-bad")
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
}

func TestOrderRepository_PaymentReference(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := newOrder("ord-ref")
	require.NoError(t, repo.Create(ctx, nil, order))

	ref := "PAYPAL-123"
	order.PaymentReference = &ref
	order.ApprovalURL = "https://pay.example/approve"
	require.NoError(t, repo.SetPaymentReference(ctx, nil, order))

	found, err := repo.FindByPaymentReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "ord-ref", found.Code)
	assert.Equal(t, "https://pay.example/approve", found.ApprovalURL)

	_, err = repo.FindByPaymentReference(ctx, "unknown")
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
}

func TestOrderRepository_MarkPaidOnlyOnce(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := newOrder("ord-paid")
	require.NoError(t, repo.Create(ctx, nil, order))

	first, err := repo.FindByCode(ctx, nil, "ord-paid")
	require.NoError(t, err)
	second, err := repo.FindByCode(ctx, nil, "ord-paid")
	require.NoError(t, err)

	require.NoError(t, first.MarkPaid("CAP-1"))
	require.NoError(t, repo.MarkPaid(ctx, nil, first))

	// a stale copy still believes the order is processing
	require.NoError(t, second.MarkPaid("CAP-2"))
	assert.ErrorIs(t, repo.MarkPaid(ctx, nil, second), model.ErrInvalidTransition)

	stored, err := repo.FindByCode(ctx, nil, "ord-paid")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, stored.PaymentStatus)
	assert.Equal(t, model.OrderProcessing, stored.OrderStatus)
	assert.Equal(t, "CAP-1", stored.Reference())

	assert.ErrorIs(t, repo.MarkFailed(ctx, nil, stored), model.ErrInvalidTransition)
}

func TestOrderRepository_MarkFailed(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := newOrder("ord-failed")
	require.NoError(t, repo.Create(ctx, nil, order))
	require.NoError(t, order.MarkFailed("declined"))
	require.NoError(t, repo.MarkFailed(ctx, nil, order))

	stored, err := repo.FindByCode(ctx, nil, "ord-failed")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, stored.PaymentStatus)
	assert.Equal(t, model.OrderPending, stored.OrderStatus)
	assert.Equal(t, "declined", stored.FailureReason)
}

func TestOrderRepository_Cancel(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := newOrder("ord-canceled")
	require.NoError(t, repo.Create(ctx, nil, order))
	require.NoError(t, order.Cancel("buyer canceled"))
	require.NoError(t, repo.MarkFailed(ctx, nil, order))

	stored, err := repo.FindByCode(ctx, nil, "ord-canceled")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, stored.PaymentStatus)
	assert.Equal(t, model.OrderCanceled, stored.OrderStatus)
}

func TestPaymentEventRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPaymentEventRepository(db)
	ctx := context.Background()

	exists, err := repo.Exists(ctx, nil, "txn-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.MarkProcessed(ctx, nil, "txn-1", 1))
	assert.Error(t, repo.MarkProcessed(ctx, nil, "txn-1", 1), "transaction ids are unique")

	exists, err = repo.Exists(ctx, nil, "txn-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestProductRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Seed(ctx, "USD"))
	require.NoError(t, repo.Seed(ctx, "USD"), "seeding twice is a no-op")

	product, err := repo.FindByID(ctx, "SKU10001")
	require.NoError(t, err)
	assert.True(t, product.Price.Equal(decimal.RequireFromString("19.99")))

	_, err = repo.FindByID(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrProductNotFound)

	snapshots, err := repo.Snapshots(ctx, []string{"SKU10001", "SKU10003", "nope"})
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
	assert.Equal(t, "vendor-arcade", snapshots["SKU10003"].VendorID)
}
