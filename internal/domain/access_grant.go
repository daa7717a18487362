package domain

import "time"

// AccessGrant lets a buyer open a purchased product. At most one exists per
// (buyer, product).
type AccessGrant struct {
	ID           uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	BuyerID      uint64     `json:"buyerId" gorm:"not null;uniqueIndex:idx_access_buyer_product"`
	ProductID    uint64     `json:"productId" gorm:"not null;uniqueIndex:idx_access_buyer_product"`
	OrderID      uint64     `json:"orderId" gorm:"not null;index"`
	GrantedAt    time.Time  `json:"grantedAt" gorm:"not null"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Active       bool       `json:"active" gorm:"not null;default:true"`
	LastAccessAt *time.Time `json:"lastAccessAt,omitempty"`
	AccessCount  uint64     `json:"accessCount" gorm:"not null;default:0"`
}

// Usable reports whether the grant is active and not expired at now.
func (g *AccessGrant) Usable(now time.Time) bool {
	if !g.Active {
		return false
	}
	if g.ExpiresAt != nil {
		return now.Before(*g.ExpiresAt)
	}
	return true
}

// GrantsFor builds one lifetime grant per distinct product of the order.
func GrantsFor(o *Order, at time.Time) []AccessGrant {
	ids := o.DistinctProductIDs()
	out := make([]AccessGrant, 0, len(ids))
	for _, pid := range ids {
		out = append(out, AccessGrant{
			BuyerID:   o.BuyerID,
			ProductID: pid,
			OrderID:   o.ID,
			GrantedAt: at,
			Active:    true,
		})
	}
	return out
}
