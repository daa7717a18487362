package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"checkout-service/internal/domain"
	"checkout-service/internal/mocks"
	"checkout-service/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestReconciler_StateMachine(t *testing.T) {
	tests := []struct {
		name     string
		from     domain.OrderStatus
		status   string
		expected domain.OrderStatus
		result   Result
	}{
		{name: "pending in_process", from: domain.StatusPending, status: "in_process", expected: domain.StatusProcessing, result: ResultTransitioned},
		{name: "pending pending", from: domain.StatusPending, status: "pending", expected: domain.StatusProcessing, result: ResultTransitioned},
		{name: "pending approved", from: domain.StatusPending, status: "approved", expected: domain.StatusApproved, result: ResultTransitioned},
		{name: "pending rejected", from: domain.StatusPending, status: "rejected", expected: domain.StatusCancelled, result: ResultTransitioned},
		{name: "pending cancelled", from: domain.StatusPending, status: "cancelled", expected: domain.StatusCancelled, result: ResultTransitioned},
		{name: "processing in_process", from: domain.StatusProcessing, status: "in_process", expected: domain.StatusProcessing, result: ResultUnchanged},
		{name: "processing approved", from: domain.StatusProcessing, status: "approved", expected: domain.StatusApproved, result: ResultTransitioned},
		{name: "processing rejected", from: domain.StatusProcessing, status: "rejected", expected: domain.StatusCancelled, result: ResultTransitioned},
		{name: "approved rejected", from: domain.StatusApproved, status: "rejected", expected: domain.StatusApproved, result: ResultUnchanged},
		{name: "approved in_process", from: domain.StatusApproved, status: "in_process", expected: domain.StatusApproved, result: ResultUnchanged},
		{name: "cancelled approved", from: domain.StatusCancelled, status: "approved", expected: domain.StatusCancelled, result: ResultUnchanged},
		{name: "refunded approved", from: domain.StatusRefunded, status: "approved", expected: domain.StatusRefunded, result: ResultUnchanged},
		{name: "unknown status", from: domain.StatusPending, status: "charged_back", expected: domain.StatusPending, result: ResultUnknownStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			o := seedOrder(t, store, "50.00", 1)
			if tt.from != domain.StatusPending {
				_, err := store.Transition(context.Background(), domain.Transition{OrderID: o.ID, From: domain.StatusPending, To: tt.from})
				require.NoError(t, err)
			}
			rec := NewReconciler(store, nil, nil)

			out, err := rec.Reconcile(context.Background(), Input{
				OrderID:       o.ID,
				GatewayStatus: tt.status,
				Amount:        amount("50.00"),
				Verified:      true,
				Source:        SourceWebhook,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.result, out.Result)
			assert.Equal(t, tt.expected, orderStatus(t, store, o.ID))
		})
	}
}

func TestReconciler_TerminalStatesAreSticky(t *testing.T) {
	statuses := []string{"approved", "in_process", "pending", "rejected", "cancelled", "approved"}

	for _, first := range []string{"approved", "rejected"} {
		t.Run(first, func(t *testing.T) {
			store := memory.New()
			o := seedOrder(t, store, "100.00", 1, 2)
			rec := NewReconciler(store, nil, nil)
			ctx := context.Background()

			_, err := rec.Reconcile(ctx, Input{OrderID: o.ID, GatewayStatus: first, Amount: amount("100.00"), Verified: true, Source: SourceWebhook})
			require.NoError(t, err)
			settled := orderStatus(t, store, o.ID)
			require.True(t, settled.Terminal())

			for _, s := range statuses {
				out, err := rec.Reconcile(ctx, Input{OrderID: o.ID, GatewayStatus: s, Amount: amount("100.00"), Verified: true, Source: SourceWebhook})
				require.NoError(t, err)
				assert.NotEqual(t, ResultTransitioned, out.Result)
				assert.Equal(t, settled, orderStatus(t, store, o.ID))
			}
		})
	}
}

func TestReconciler_ApprovalGrantsAccessOnce(t *testing.T) {
	store := memory.New()
	o := seedOrder(t, store, "30.00", 10, 11, 10)
	rec := NewReconciler(store, nil, nil)
	ctx := context.Background()
	in := Input{OrderID: o.ID, GatewayStatus: "approved", Amount: amount("90.00"), Reference: TestPaymentID, PaymentMethodID: "pix", Verified: true, Source: SourceWebhook}

	out, err := rec.Reconcile(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, ResultTransitioned, out.Result)
	assert.Equal(t, 2, out.Granted)

	out, err = rec.Reconcile(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, ResultUnchanged, out.Result)
	assert.Zero(t, out.Granted)

	assert.Equal(t, 2, store.GrantCount(TestBuyerID))
	got, err := store.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, TestPaymentID, got.Reference())
	assert.Equal(t, "Mercado Pago - pix", got.PaymentMethod)
	assert.NotNil(t, got.ApprovedAt)
}

func TestReconciler_AmountMismatchBlocksApproval(t *testing.T) {
	store := memory.New()
	o := seedOrder(t, store, "100.00", 1)
	logger, logs := newTestLogger()
	rec := NewReconciler(store, nil, logger)

	out, err := rec.Reconcile(context.Background(), Input{OrderID: o.ID, GatewayStatus: "approved", Amount: amount("80.00"), Verified: true, Source: SourceWebhook})

	require.NoError(t, err)
	assert.Equal(t, ResultAmountMismatch, out.Result)
	assert.Equal(t, domain.StatusPending, orderStatus(t, store, o.ID))
	assert.Zero(t, store.GrantCount(TestBuyerID))
	assert.Contains(t, logs.String(), `"level":"CRITICAL"`)
	assert.Contains(t, logs.String(), `"logger":"security"`)
	assert.Contains(t, logs.String(), `"reported_amount":"80.00"`)
}

func TestReconciler_AmountWithinTolerance(t *testing.T) {
	tests := []struct {
		name     string
		reported string
		expected domain.OrderStatus
	}{
		{name: "exact", reported: "100.00", expected: domain.StatusApproved},
		{name: "one cent over", reported: "100.01", expected: domain.StatusApproved},
		{name: "one cent under", reported: "99.99", expected: domain.StatusApproved},
		{name: "two cents under", reported: "99.98", expected: domain.StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			o := seedOrder(t, store, "100.00", 1)
			rec := NewReconciler(store, nil, nil)

			_, err := rec.Reconcile(context.Background(), Input{OrderID: o.ID, GatewayStatus: "approved", Amount: amount(tt.reported), Verified: true, Source: SourceWebhook})

			require.NoError(t, err)
			assert.Equal(t, tt.expected, orderStatus(t, store, o.ID))
		})
	}
}

func TestReconciler_MismatchDoesNotBlockRejection(t *testing.T) {
	store := memory.New()
	o := seedOrder(t, store, "100.00", 1)
	rec := NewReconciler(store, nil, nil)

	_, err := rec.Reconcile(context.Background(), Input{OrderID: o.ID, GatewayStatus: "rejected", Amount: amount("0"), Verified: true, Source: SourceWebhook})

	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, orderStatus(t, store, o.ID))
}

func TestReconciler_UnknownOrder(t *testing.T) {
	store := memory.New()
	rec := NewReconciler(store, nil, nil)

	out, err := rec.Reconcile(context.Background(), Input{OrderID: 999999, GatewayStatus: "approved", Verified: true, Source: SourceWebhook})

	require.NoError(t, err)
	assert.Equal(t, ResultUnknownOrder, out.Result)
	assert.Nil(t, out.Order)
	assert.Zero(t, store.OrderCount())
}

func TestReconciler_UnknownStatusIsLogged(t *testing.T) {
	store := memory.New()
	o := seedOrder(t, store, "50.00", 1)
	logger, logs := newTestLogger()
	rec := NewReconciler(store, nil, logger)

	out, err := rec.Reconcile(context.Background(), Input{OrderID: o.ID, GatewayStatus: "charged_back", Verified: true, Source: SourceWebhook})

	require.NoError(t, err)
	assert.Equal(t, ResultUnknownStatus, out.Result)
	assert.Contains(t, logs.String(), `"gateway_status":"charged_back"`)
	assert.Contains(t, logs.String(), `"order_status":"pending"`)
	assert.NotContains(t, logs.String(), `"status":"pending"`)
}

func TestReconciler_UnverifiedHintNeverSettles(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		expected domain.OrderStatus
		result   Result
	}{
		{name: "approved hint", status: "approved", expected: domain.StatusPending, result: ResultUnverifiedHint},
		{name: "rejected hint", status: "rejected", expected: domain.StatusPending, result: ResultUnverifiedHint},
		{name: "in review hint", status: "in_process", expected: domain.StatusProcessing, result: ResultTransitioned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			o := seedOrder(t, store, "10.00", 1)
			rec := NewReconciler(store, nil, nil)

			out, err := rec.Reconcile(context.Background(), Input{OrderID: o.ID, GatewayStatus: tt.status, Source: SourceReturn})

			require.NoError(t, err)
			assert.Equal(t, tt.result, out.Result)
			assert.Equal(t, tt.expected, orderStatus(t, store, o.ID))
		})
	}
}

func TestReconciler_ConcurrentApprovals(t *testing.T) {
	store := memory.New()
	o := seedOrder(t, store, "25.00", 1, 2, 3)
	rec := NewReconciler(store, nil, nil)
	in := Input{OrderID: o.ID, GatewayStatus: "approved", Amount: amount("75.00"), Reference: TestPaymentID, Verified: true, Source: SourceWebhook}

	const workers = 16
	results := make(chan Result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := rec.Reconcile(context.Background(), in)
			if assert.NoError(t, err) {
				results <- out.Result
			}
		}()
	}
	wg.Wait()
	close(results)

	transitioned := 0
	for r := range results {
		if r == ResultTransitioned {
			transitioned++
		}
	}
	assert.Equal(t, 1, transitioned)
	assert.Equal(t, domain.StatusApproved, orderStatus(t, store, o.ID))
	assert.Equal(t, 3, store.GrantCount(TestBuyerID))
}

func TestReconciler_LostRaceIsReevaluated(t *testing.T) {
	order := &domain.Order{ID: 5, BuyerID: TestBuyerID, Status: domain.StatusPending}
	settled := &domain.Order{ID: 5, BuyerID: TestBuyerID, Status: domain.StatusCancelled}

	repo := new(mocks.MockOrderRepository)
	repo.On("FindByID", mock.Anything, uint64(5)).Return(order, nil).Once()
	repo.On("Transition", mock.Anything, mock.MatchedBy(func(t domain.Transition) bool {
		return t.From == domain.StatusPending && t.To == domain.StatusProcessing
	})).Return(&domain.TransitionResult{}, nil).Once()
	repo.On("FindByID", mock.Anything, uint64(5)).Return(settled, nil).Once()

	rec := NewReconciler(repo, nil, nil)
	out, err := rec.Reconcile(context.Background(), Input{OrderID: 5, GatewayStatus: "in_process", Verified: true, Source: SourceWebhook})

	require.NoError(t, err)
	assert.Equal(t, ResultUnchanged, out.Result)
	assert.Equal(t, domain.StatusCancelled, out.Order.Status)
	repo.AssertExpectations(t)
}

func TestReconciler_StoreFailure(t *testing.T) {
	repo := new(mocks.MockOrderRepository)
	repo.On("FindByID", mock.Anything, uint64(5)).Return(nil, errors.New("connection refused"))

	rec := NewReconciler(repo, nil, nil)
	out, err := rec.Reconcile(context.Background(), Input{OrderID: 5, GatewayStatus: "approved", Verified: true, Source: SourceWebhook})

	assert.Error(t, err)
	assert.Nil(t, out)
}

func TestReconciler_PublishesAfterCommit(t *testing.T) {
	store := memory.New()
	o := seedOrder(t, store, "40.00", 1, 2)
	pub := new(mocks.MockPublisher)
	pub.On("Publish", mock.Anything, domain.EventOrderStatusChanged, mock.MatchedBy(func(e domain.OrderStatusChangedEvent) bool {
		return e.OrderID == o.ID && e.From == domain.StatusPending && e.To == domain.StatusApproved && e.Source == "webhook"
	})).Return(nil).Once()
	pub.On("Publish", mock.Anything, domain.EventAccessGranted, mock.MatchedBy(func(e domain.AccessGrantedEvent) bool {
		return e.OrderID == o.ID && len(e.ProductIDs) == 2
	})).Return(errors.New("broker down")).Once()

	rec := NewReconciler(store, pub, nil)
	in := Input{OrderID: o.ID, GatewayStatus: "approved", Amount: amount("80.00"), Verified: true, Source: SourceWebhook}
	out, err := rec.Reconcile(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ResultTransitioned, out.Result)

	_, err = rec.Reconcile(context.Background(), in)
	require.NoError(t, err)

	pub.AssertExpectations(t)
}
