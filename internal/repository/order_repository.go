package repository

import (
	"context"
	"time"

	"checkout-service/internal/domain"
)

// OrderFilter narrows List. Zero values mean no filter; Limit 0 means all.
type OrderFilter struct {
	BuyerID uint64
	Status  domain.OrderStatus
	Limit   int
}

// OrderRepository owns orders and their line items. Finders return nil, nil
// when nothing matches.
type OrderRepository interface {
	// Create stores the order and its items in one transaction.
	Create(ctx context.Context, order *domain.Order) error
	Delete(ctx context.Context, id uint64) error
	FindByID(ctx context.Context, id uint64) (*domain.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	SetPreference(ctx context.Context, id uint64, preferenceID string) error
	// Transition applies t only if the stored status still equals t.From, and
	// creates t.Grants (skipping existing ones) in the same transaction.
	Transition(ctx context.Context, t domain.Transition) (*domain.TransitionResult, error)
}

type ProductRepository interface {
	FindByID(ctx context.Context, id uint64) (*domain.Product, error)
	ListPublishedIDs(ctx context.Context) ([]uint64, error)
}

type AccessRepository interface {
	// Grant creates grants that do not exist yet and returns how many it
	// created. Reconciliation grants through OrderRepository.Transition; this
	// is the operator repair path.
	Grant(ctx context.Context, grants []domain.AccessGrant) (int, error)
	Find(ctx context.Context, buyerID, productID uint64) (*domain.AccessGrant, error)
	ListByBuyer(ctx context.Context, buyerID uint64) ([]domain.AccessGrant, error)
	RecordAccess(ctx context.Context, grantID uint64, at time.Time) error
}
