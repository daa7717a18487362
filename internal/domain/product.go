package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	ProductDraft     ProductStatus = "draft"
	ProductPublished ProductStatus = "published"
	ProductArchived  ProductStatus = "archived"
)

type Product struct {
	ID         uint64              `json:"id" gorm:"primaryKey;autoIncrement"`
	Name       string              `json:"name" gorm:"size:200;not null"`
	Slug       string              `json:"slug" gorm:"size:220;uniqueIndex"`
	Price      decimal.Decimal     `json:"price" gorm:"type:decimal(10,2);not null"`
	PromoPrice decimal.NullDecimal `json:"promoPrice" gorm:"type:decimal(10,2)"`
	Status     ProductStatus       `json:"status" gorm:"size:20;not null;default:'draft';index"`
	CreatedAt  time.Time           `json:"createdAt" gorm:"autoCreateTime"`
}

// FinalPrice is the promotional price when one is set, the list price otherwise.
func (p *Product) FinalPrice() decimal.Decimal {
	if p.PromoPrice.Valid {
		return p.PromoPrice.Decimal
	}
	return p.Price
}

func (p *Product) Purchasable() bool {
	return p.Status == ProductPublished
}

// Buyer is the authenticated customer as seen at purchase time.
type Buyer struct {
	ID    uint64
	Email string
	Name  string
}

// CartItem is one cart entry captured when the buyer checks out.
type CartItem struct {
	ProductID uint64          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// LineTotal is unit price times quantity.
func (c CartItem) LineTotal() decimal.Decimal {
	return c.UnitPrice.Mul(decimal.NewFromInt(int64(c.Quantity)))
}

// Cart is the snapshot of the session cart handed to checkout.
type Cart struct {
	Items []CartItem `json:"items"`
}

func (c Cart) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range c.Items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}
