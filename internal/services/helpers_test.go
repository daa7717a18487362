package services

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"checkout-service/internal/domain"
	"checkout-service/internal/logging"
	"checkout-service/internal/repository/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	TestBuyerID   = uint64(7)
	TestPaymentID = "123456789"
)

// syncBuffer lets concurrent tests share one log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return logging.New(buf, "checkout-test", "debug"), buf
}

// seedOrder stores a pending order with one line per product, each priced at
// price.
func seedOrder(t *testing.T, store *memory.Store, price string, productIDs ...uint64) *domain.Order {
	t.Helper()
	p := decimal.RequireFromString(price)
	o := &domain.Order{
		BuyerID:    TestBuyerID,
		Subtotal:   decimal.Zero,
		Discount:   decimal.Zero,
		Status:     domain.StatusPending,
		BuyerEmail: "ana@example.com",
		BuyerName:  "Ana Souza",
	}
	for _, pid := range productIDs {
		o.Items = append(o.Items, domain.LineItem{
			ProductID:   pid,
			ProductName: "Product",
			UnitPrice:   p,
			Quantity:    1,
			Subtotal:    p,
		})
		o.Subtotal = o.Subtotal.Add(p)
	}
	o.Total = o.Subtotal
	require.NoError(t, store.Create(context.Background(), o))
	return o
}

func orderStatus(t *testing.T, store *memory.Store, id uint64) domain.OrderStatus {
	t.Helper()
	o, err := store.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o.Status
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
