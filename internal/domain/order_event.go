package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventAccessGranted      = "access.granted"
)

type OrderCreatedEvent struct {
	OrderID   uint64          `json:"orderId"`
	BuyerID   uint64          `json:"buyerId"`
	Total     decimal.Decimal `json:"total"`
	Items     int             `json:"items"`
	CreatedAt time.Time       `json:"createdAt"`
}

type OrderStatusChangedEvent struct {
	OrderID   uint64      `json:"orderId"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Reference string      `json:"reference,omitempty"`
	Source    string      `json:"source"`
	At        time.Time   `json:"at"`
}

type AccessGrantedEvent struct {
	OrderID    uint64    `json:"orderId"`
	BuyerID    uint64    `json:"buyerId"`
	ProductIDs []uint64  `json:"productIds"`
	At         time.Time `json:"at"`
}
