package main

import (
	"bytes"
	"context"
	"testing"

	"checkout-service/internal/domain"
	"checkout-service/internal/logging"
	"checkout-service/internal/repository"
	"checkout-service/internal/repository/memory"
	"checkout-service/internal/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createOrder(t *testing.T, store *memory.Store, buyerID uint64, total string) *domain.Order {
	t.Helper()
	price := decimal.RequireFromString(total)
	o := &domain.Order{
		BuyerID:  buyerID,
		Subtotal: price,
		Discount: decimal.Zero,
		Total:    price,
		Status:   domain.StatusPending,
		Items: []domain.LineItem{
			{ProductID: 1, ProductName: "Hypertrophy plan", UnitPrice: price, Quantity: 1, Subtotal: price},
		},
	}
	require.NoError(t, store.Create(context.Background(), o))
	return o
}

func TestListOrders(t *testing.T) {
	store := memory.New()
	createOrder(t, store, 1, "97.00")
	createOrder(t, store, 2, "49.90")
	third := createOrder(t, store, 1, "150.00")

	t.Run("all orders newest first", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runListOrders(context.Background(), store, &out, repository.OrderFilter{}))

		s := out.String()
		assert.Contains(t, s, "ID")
		assert.Contains(t, s, "150.00")
		assert.Contains(t, s, "49.90")
		assert.Contains(t, s, "3 orders (pending=3)")
		assert.Less(t, bytes.Index(out.Bytes(), []byte("150.00")), bytes.Index(out.Bytes(), []byte("97.00")))
	})

	t.Run("by buyer with limit", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runListOrders(context.Background(), store, &out, repository.OrderFilter{BuyerID: 1, Limit: 1}))

		assert.Contains(t, out.String(), third.Total.StringFixed(2))
		assert.NotContains(t, out.String(), "97.00")
		assert.Contains(t, out.String(), "1 orders")
	})

	t.Run("no match", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runListOrders(context.Background(), store, &out, repository.OrderFilter{Status: domain.StatusApproved}))
		assert.Equal(t, "no orders found\n", out.String())
	})

	t.Run("unknown status", func(t *testing.T) {
		var out bytes.Buffer
		err := runListOrders(context.Background(), store, &out, repository.OrderFilter{Status: "paid"})
		assert.Error(t, err)
		assert.Empty(t, out.String())
	})
}

func TestSimulatePayment(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		amount      string
		wantStatus  domain.OrderStatus
		wantOutput  string
		errContains string
	}{
		{
			name:       "approved with order total",
			status:     "approved",
			wantStatus: domain.StatusApproved,
			wantOutput: "pending -> approved (1 access grants created)",
		},
		{
			name:       "approved with matching amount",
			status:     "approved",
			amount:     "97.00",
			wantStatus: domain.StatusApproved,
			wantOutput: "pending -> approved",
		},
		{
			name:       "amount mismatch blocks approval",
			status:     "approved",
			amount:     "1.00",
			wantStatus: domain.StatusPending,
			wantOutput: "approval blocked, amount 1.00 does not match total 97.00",
		},
		{
			name:       "in process",
			status:     "in_process",
			wantStatus: domain.StatusProcessing,
			wantOutput: "pending -> processing",
		},
		{
			name:       "rejected",
			status:     "rejected",
			wantStatus: domain.StatusCancelled,
			wantOutput: "pending -> cancelled",
		},
		{
			name:       "pending is treated as under review",
			status:     "pending",
			wantStatus: domain.StatusProcessing,
			wantOutput: "pending -> processing",
		},
		{
			name:        "unknown status",
			status:      "charged_back_twice",
			wantStatus:  domain.StatusPending,
			errContains: "unknown gateway status",
		},
		{
			name:        "invalid amount",
			status:      "approved",
			amount:      "abc",
			wantStatus:  domain.StatusPending,
			errContains: "invalid amount",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			order := createOrder(t, store, 1, "97.00")
			rec := services.NewReconciler(store, nil, logging.Discard())

			var out bytes.Buffer
			err := runSimulatePayment(context.Background(), rec, &out, order.ID, tt.status, tt.amount, "pix")

			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
			} else {
				require.NoError(t, err)
				assert.Contains(t, out.String(), tt.wantOutput)
			}

			stored, err := store.FindByID(context.Background(), order.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)
		})
	}
}

func TestSimulatePaymentUnknownOrder(t *testing.T) {
	rec := services.NewReconciler(memory.New(), nil, logging.Discard())

	var out bytes.Buffer
	err := runSimulatePayment(context.Background(), rec, &out, 404, "approved", "", "pix")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order 404 not found")
}

func TestSimulatePaymentTerminalIsSticky(t *testing.T) {
	store := memory.New()
	order := createOrder(t, store, 1, "97.00")
	rec := services.NewReconciler(store, nil, logging.Discard())

	var out bytes.Buffer
	require.NoError(t, runSimulatePayment(context.Background(), rec, &out, order.ID, "approved", "", "pix"))

	out.Reset()
	require.NoError(t, runSimulatePayment(context.Background(), rec, &out, order.ID, "rejected", "", "pix"))
	assert.Contains(t, out.String(), "unchanged (approved)")
	assert.Equal(t, 1, store.GrantCount(1))
}

func TestRestoreAccess(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	access := services.NewAccessService(store.Access(), logging.Discard())
	order := createOrder(t, store, 1, "97.00")

	var out bytes.Buffer
	err := runRestoreAccess(ctx, store, access, &out, order.ID)
	require.ErrorIs(t, err, services.ErrNotApproved)

	_, err = store.Transition(ctx, domain.Transition{OrderID: order.ID, From: domain.StatusPending, To: domain.StatusApproved})
	require.NoError(t, err)

	require.NoError(t, runRestoreAccess(ctx, store, access, &out, order.ID))
	assert.Contains(t, out.String(), "1 access grants created, 1 products in order")
	assert.Equal(t, 1, store.GrantCount(1))

	out.Reset()
	require.NoError(t, runRestoreAccess(ctx, store, access, &out, order.ID))
	assert.Contains(t, out.String(), "0 access grants created")

	err = runRestoreAccess(ctx, store, access, &out, 404)
	assert.ErrorContains(t, err, "order 404 not found")
}
