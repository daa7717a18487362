package infra

import "context"

// PaymentGateway is the hosted payment provider: preference creation for the
// checkout redirect and authoritative payment lookups.
type PaymentGateway interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// EventPublisher ships domain events to the message bus.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, data any) error
}

// NotificationLog remembers webhook notifications that were already fully
// processed.
type NotificationLog interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

var (
	_ PaymentGateway = (*GatewayClient)(nil)
	_ EventPublisher = NopPublisher{}
)
