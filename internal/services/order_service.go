package services

import (
	"context"
	"errors"

	"checkout-service/internal/domain"
	"checkout-service/internal/repository"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidStatus = errors.New("invalid order status")
)

// maxListedOrders caps what a buyer sees on the order history page.
const maxListedOrders = 50

type OrderService struct {
	repo repository.OrderRepository
}

func NewOrderService(r repository.OrderRepository) *OrderService {
	return &OrderService{repo: r}
}

// GetOrderById returns the buyer's order. Orders of other buyers are reported
// as not found.
func (u *OrderService) GetOrderById(ctx context.Context, buyerID, id uint64) (*domain.Order, error) {
	o, err := u.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if o == nil || o.BuyerID != buyerID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// ListOrders returns the buyer's most recent orders, newest first, optionally
// restricted to one status.
func (u *OrderService) ListOrders(ctx context.Context, buyerID uint64, status domain.OrderStatus) ([]domain.Order, error) {
	if status != "" && !status.Valid() {
		return nil, ErrInvalidStatus
	}
	orders, err := u.repo.List(ctx, repository.OrderFilter{BuyerID: buyerID, Status: status, Limit: maxListedOrders})
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}
