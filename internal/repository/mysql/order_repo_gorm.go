package mysql

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/domain"
	"checkout-service/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type orderRepo struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) repository.OrderRepository {
	return &orderRepo{db: db}
}

func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		if order.ID == 0 {
			return errors.New("failed to assign order ID")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *orderRepo) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", id).Delete(&domain.LineItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Order{}, id).Error
	})
}

func (r *orderRepo) FindByID(ctx context.Context, id uint64) (*domain.Order, error) {
	var o domain.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&o, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func (r *orderRepo) List(ctx context.Context, f repository.OrderFilter) ([]domain.Order, error) {
	q := r.db.WithContext(ctx).Preload("Items").Order("created_at DESC, id DESC")
	if f.BuyerID != 0 {
		q = q.Where("buyer_id = ?", f.BuyerID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var out []domain.Order
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *orderRepo) SetPreference(ctx context.Context, id uint64, preferenceID string) error {
	return r.db.WithContext(ctx).Model(&domain.Order{}).Where("id = ?", id).Update("preference_id", preferenceID).Error
}

func (r *orderRepo) Transition(ctx context.Context, t domain.Transition) (*domain.TransitionResult, error) {
	res := &domain.TransitionResult{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":     t.To,
			"updated_at": t.At,
		}
		if t.Reference != "" {
			updates["transaction_id"] = t.Reference
		}
		if t.PaymentMethod != "" {
			updates["payment_method"] = t.PaymentMethod
		}
		if t.To == domain.StatusApproved {
			updates["approved_at"] = t.At
		}

		upd := tx.Model(&domain.Order{}).Where("id = ? AND status = ?", t.OrderID, t.From).Updates(updates)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return nil
		}
		res.Applied = true

		n, err := insertGrants(tx, t.Grants)
		if err != nil {
			return err
		}
		res.Granted = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transition order %d: %w", t.OrderID, err)
	}
	return res, nil
}

// insertGrants relies on the (buyer_id, product_id) unique index to skip
// grants that already exist.
func insertGrants(tx *gorm.DB, grants []domain.AccessGrant) (int, error) {
	if len(grants) == 0 {
		return 0, nil
	}
	rows := make([]domain.AccessGrant, len(grants))
	copy(rows, grants)
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}
