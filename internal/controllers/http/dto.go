package http

import (
	"bytes"
	"encoding/json"
	"strings"

	"checkout-service/internal/domain"

	"github.com/shopspring/decimal"
)

type CartItemRequest struct {
	ProductID uint64          `json:"productId" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type CreateOrderRequest struct {
	Items []CartItemRequest `json:"items" binding:"required,min=1,dive"`
}

func (r CreateOrderRequest) Cart() domain.Cart {
	cart := domain.Cart{Items: make([]domain.CartItem, 0, len(r.Items))}
	for _, it := range r.Items {
		cart.Items = append(cart.Items, domain.CartItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return cart
}

type CreateOrderResponse struct {
	ID          uint64 `json:"id"`
	CheckoutURL string `json:"checkoutUrl"`
}

type ReturnPageResponse struct {
	OrderID uint64             `json:"orderId"`
	Status  domain.OrderStatus `json:"status"`
	Total   decimal.Decimal    `json:"total"`
	Page    string             `json:"page"`
	Level   string             `json:"level"`
	Message string             `json:"message"`
}

// flexibleID accepts the payment id as a JSON string or number.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

// WebhookPayload is the gateway notification body. The top-level status,
// amount and reference only appear on some notification variants.
type WebhookPayload struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID                flexibleID `json:"id"`
		ExternalReference string     `json:"external_reference"`
	} `json:"data"`
	Status            string           `json:"status"`
	TransactionAmount *decimal.Decimal `json:"transaction_amount"`
	ExternalReference string           `json:"external_reference"`
}
