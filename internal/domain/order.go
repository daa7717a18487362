package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusApproved   OrderStatus = "approved"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRefunded   OrderStatus = "refunded"
)

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusApproved, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Terminal statuses are never left through gateway reconciliation.
func (s OrderStatus) Terminal() bool {
	return s == StatusApproved || s == StatusCancelled || s == StatusRefunded
}

type Order struct {
	ID            uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	BuyerID       uint64          `json:"buyerId" gorm:"not null;index"`
	Subtotal      decimal.Decimal `json:"subtotal" gorm:"type:decimal(10,2);not null"`
	Discount      decimal.Decimal `json:"discount" gorm:"type:decimal(10,2);not null"`
	Total         decimal.Decimal `json:"total" gorm:"type:decimal(10,2);not null"`
	Status        OrderStatus     `json:"status" gorm:"size:20;not null;default:'pending';index"`
	PaymentMethod string          `json:"paymentMethod" gorm:"size:50"`
	TransactionID *string         `json:"transactionId,omitempty" gorm:"size:200"`
	PreferenceID  string          `json:"preferenceId,omitempty" gorm:"size:200"`
	BuyerEmail    string          `json:"buyerEmail" gorm:"size:254;not null"`
	BuyerName     string          `json:"buyerName" gorm:"size:200;not null"`
	CreatedAt     time.Time       `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt     time.Time       `json:"updatedAt" gorm:"autoUpdateTime"`
	ApprovedAt    *time.Time      `json:"approvedAt,omitempty"`
	Items         []LineItem      `json:"items" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

type LineItem struct {
	ID          uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderID     uint64          `json:"orderId" gorm:"not null;index"`
	ProductID   uint64          `json:"productId" gorm:"not null;index"`
	ProductName string          `json:"productName" gorm:"size:200;not null"`
	UnitPrice   decimal.Decimal `json:"unitPrice" gorm:"type:decimal(10,2);not null"`
	Quantity    int             `json:"quantity" gorm:"not null"`
	Subtotal    decimal.Decimal `json:"subtotal" gorm:"type:decimal(10,2);not null"`
}

// ItemsTotal sums the line subtotals.
func (o *Order) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Subtotal)
	}
	return sum
}

// DistinctProductIDs returns every product referenced by the order once, in
// line item order.
func (o *Order) DistinctProductIDs() []uint64 {
	seen := make(map[uint64]struct{}, len(o.Items))
	out := make([]uint64, 0, len(o.Items))
	for _, it := range o.Items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		out = append(out, it.ProductID)
	}
	return out
}

// Reference returns the external transaction id or "" when none is stored.
func (o *Order) Reference() string {
	if o.TransactionID == nil {
		return ""
	}
	return *o.TransactionID
}

// Transition is a conditional status change: it applies only while the stored
// status still equals From.
type Transition struct {
	OrderID       uint64
	From          OrderStatus
	To            OrderStatus
	Reference     string
	PaymentMethod string
	At            time.Time
	Grants        []AccessGrant
}

type TransitionResult struct {
	Applied bool
	Granted int
}
