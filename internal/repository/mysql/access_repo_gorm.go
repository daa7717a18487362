package mysql

import (
	"context"
	"errors"
	"time"

	"checkout-service/internal/domain"
	"checkout-service/internal/repository"

	"gorm.io/gorm"
)

type accessRepo struct {
	db *gorm.DB
}

func NewAccessRepository(db *gorm.DB) repository.AccessRepository {
	return &accessRepo{db: db}
}

func (r *accessRepo) Grant(ctx context.Context, grants []domain.AccessGrant) (int, error) {
	return insertGrants(r.db.WithContext(ctx), grants)
}

func (r *accessRepo) Find(ctx context.Context, buyerID, productID uint64) (*domain.AccessGrant, error) {
	var g domain.AccessGrant
	err := r.db.WithContext(ctx).Where("buyer_id = ? AND product_id = ?", buyerID, productID).First(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

func (r *accessRepo) ListByBuyer(ctx context.Context, buyerID uint64) ([]domain.AccessGrant, error) {
	var out []domain.AccessGrant
	if err := r.db.WithContext(ctx).Where("buyer_id = ?", buyerID).Order("granted_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *accessRepo) RecordAccess(ctx context.Context, grantID uint64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.AccessGrant{}).Where("id = ?", grantID).Updates(map[string]any{
		"last_access_at": at,
		"access_count":   gorm.Expr("access_count + 1"),
	}).Error
}
