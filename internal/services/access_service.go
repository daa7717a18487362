package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"checkout-service/internal/domain"
	"checkout-service/internal/logging"
	"checkout-service/internal/repository"
)

var (
	ErrNoAccess      = errors.New("no access to product")
	ErrAccessExpired = errors.New("access to product is inactive or expired")
	ErrNotApproved   = errors.New("order is not approved")
)

// AccessService serves the buyer's purchased-content dashboard.
type AccessService struct {
	grants repository.AccessRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewAccessService(grants repository.AccessRepository, logger *slog.Logger) *AccessService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &AccessService{
		grants: grants,
		logger: logger.With("component", "access"),
		now:    time.Now,
	}
}

func (s *AccessService) ListGrants(ctx context.Context, buyerID uint64) ([]domain.AccessGrant, error) {
	grants, err := s.grants.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if grants == nil {
		grants = []domain.AccessGrant{}
	}
	return grants, nil
}

// OpenProduct records that the buyer opened a product they hold a usable
// grant for.
func (s *AccessService) OpenProduct(ctx context.Context, buyerID, productID uint64) (*domain.AccessGrant, error) {
	g, err := s.grants.Find(ctx, buyerID, productID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrNoAccess
	}
	now := s.now().UTC()
	if !g.Usable(now) {
		s.logger.Info("refused unusable grant", "buyer_id", buyerID, "product_id", productID, "active", g.Active)
		return nil, ErrAccessExpired
	}
	if err := s.grants.RecordAccess(ctx, g.ID, now); err != nil {
		return nil, err
	}
	g.LastAccessAt = &now
	g.AccessCount++
	return g, nil
}

// RestoreGrants creates the grants of an approved order that are missing,
// for operators repairing access by hand. Reconciliation grants access on its
// own; existing grants are left untouched.
func (s *AccessService) RestoreGrants(ctx context.Context, order *domain.Order) (int, error) {
	if order.Status != domain.StatusApproved {
		return 0, fmt.Errorf("%w: order %d is %s", ErrNotApproved, order.ID, order.Status)
	}
	n, err := s.grants.Grant(ctx, domain.GrantsFor(order, s.now().UTC()))
	if err != nil {
		return 0, fmt.Errorf("restore grants of order %d: %w", order.ID, err)
	}
	s.logger.Info("access grants restored", "order_id", order.ID, "buyer_id", order.BuyerID, "created", n)
	return n, nil
}
