package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"checkout-service/internal/domain"
	"checkout-service/internal/infra"
	"checkout-service/internal/logging"
	"checkout-service/internal/metrics"
	"checkout-service/internal/repository"

	"github.com/shopspring/decimal"
)

// Source names the entry point that observed a payment status.
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourceReturn   Source = "return"
	SourceOperator Source = "operator"
)

type Result string

const (
	ResultTransitioned   Result = "transitioned"
	ResultUnchanged      Result = "unchanged"
	ResultUnknownOrder   Result = "unknown_order"
	ResultUnknownStatus  Result = "unknown_status"
	ResultAmountMismatch Result = "amount_mismatch"
	ResultUnverifiedHint Result = "unverified_hint"
	ResultDuplicate      Result = "duplicate"
)

// transitionAttempts bounds how often a lost check-and-set is re-evaluated
// against the freshly stored status.
const transitionAttempts = 3

// Input is one payment observation normalised from either entry point.
type Input struct {
	OrderID         uint64
	GatewayStatus   string
	Amount          *decimal.Decimal
	Reference       string
	PaymentMethodID string
	// Verified is true only when the status comes from the gateway itself.
	// Unverified observations never move an order into a terminal status.
	Verified bool
	Source   Source
}

type Outcome struct {
	Result  Result
	Order   *domain.Order
	From    domain.OrderStatus
	To      domain.OrderStatus
	Granted int
}

// Reconciler is the only writer of order status.
type Reconciler struct {
	orders      repository.OrderRepository
	publisher   infra.EventPublisher
	logger      *slog.Logger
	security    *slog.Logger
	metrics     *metrics.Metrics
	gatewayName string
	now         func() time.Time
}

func NewReconciler(orders repository.OrderRepository, pub infra.EventPublisher, logger *slog.Logger) *Reconciler {
	if pub == nil {
		pub = infra.NopPublisher{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reconciler{
		orders:      orders,
		publisher:   pub,
		logger:      logger.With("component", "reconciler"),
		security:    logging.Security(logger),
		gatewayName: "Mercado Pago",
		now:         time.Now,
	}
}

func (r *Reconciler) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// SetGatewayName sets the prefix of the payment method label stored on
// approved orders.
func (r *Reconciler) SetGatewayName(name string) {
	if name != "" {
		r.gatewayName = name
	}
}

// Reconcile applies in to the referenced order. Unknown orders, unknown
// statuses, blocked approvals and no-op observations are reported through the
// Outcome; the error is reserved for store failures.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (*Outcome, error) {
	out, err := r.reconcile(ctx, in)
	if err != nil {
		r.metrics.ObserveReconciliation(string(in.Source), "error")
		return nil, err
	}
	r.metrics.ObserveReconciliation(string(in.Source), string(out.Result))
	return out, nil
}

func (r *Reconciler) reconcile(ctx context.Context, in Input) (*Outcome, error) {
	log := r.logger.With("order_id", in.OrderID, "source", in.Source, "gateway_status", in.GatewayStatus)

	order, err := r.orders.FindByID(ctx, in.OrderID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load order %d: %w", in.OrderID, err)
	}
	if order == nil {
		log.Warn("payment references unknown order")
		return &Outcome{Result: ResultUnknownOrder}, nil
	}

	state, ok := domain.MapGatewayStatus(in.GatewayStatus)
	if !ok {
		log.Warn("unknown gateway status", "order_status", order.Status)
		return &Outcome{Result: ResultUnknownStatus, Order: order, From: order.Status, To: order.Status}, nil
	}

	for attempt := 0; attempt < transitionAttempts; attempt++ {
		next, moves := domain.NextStatus(order.Status, state)
		if !moves {
			log.Debug("status unchanged", "status", order.Status)
			return &Outcome{Result: ResultUnchanged, Order: order, From: order.Status, To: order.Status}, nil
		}
		if !in.Verified && next.Terminal() {
			log.Info("unverified status ignored", "status", order.Status, "would_be", next)
			return &Outcome{Result: ResultUnverifiedHint, Order: order, From: order.Status, To: order.Status}, nil
		}
		if next == domain.StatusApproved && in.Amount != nil && !domain.AmountMatches(order.Total, *in.Amount) {
			r.security.Log(ctx, logging.LevelCritical, "reported amount differs from order total",
				"order_id", order.ID,
				"order_total", order.Total.StringFixed(2),
				"reported_amount", in.Amount.StringFixed(2),
				"reference", in.Reference,
				"source", in.Source,
			)
			r.metrics.SecurityAlert("amount_mismatch")
			return &Outcome{Result: ResultAmountMismatch, Order: order, From: order.Status, To: order.Status}, nil
		}

		at := r.now().UTC()
		t := domain.Transition{
			OrderID:   order.ID,
			From:      order.Status,
			To:        next,
			Reference: in.Reference,
			At:        at,
		}
		if next == domain.StatusApproved {
			t.Grants = domain.GrantsFor(order, at)
			if in.PaymentMethodID != "" {
				t.PaymentMethod = fmt.Sprintf("%s - %s", r.gatewayName, in.PaymentMethodID)
			}
		}

		res, err := r.orders.Transition(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("reconcile: transition order %d: %w", order.ID, err)
		}
		if res.Applied {
			applyTransition(order, t)
			log.Info("order status changed", "from", t.From, "to", t.To, "grants_created", res.Granted)
			r.publishTransition(ctx, order, t, in.Source, res.Granted)
			return &Outcome{Result: ResultTransitioned, Order: order, From: t.From, To: t.To, Granted: res.Granted}, nil
		}

		// Lost the check-and-set to a concurrent observation; decide again
		// from what is stored now.
		order, err = r.orders.FindByID(ctx, in.OrderID)
		if err != nil {
			return nil, fmt.Errorf("reconcile: reload order %d: %w", in.OrderID, err)
		}
		if order == nil {
			log.Warn("order disappeared during reconciliation")
			return &Outcome{Result: ResultUnknownOrder}, nil
		}
	}

	log.Warn("transition kept losing to concurrent updates", "status", order.Status)
	return &Outcome{Result: ResultUnchanged, Order: order, From: order.Status, To: order.Status}, nil
}

func applyTransition(o *domain.Order, t domain.Transition) {
	o.Status = t.To
	o.UpdatedAt = t.At
	if t.Reference != "" {
		ref := t.Reference
		o.TransactionID = &ref
	}
	if t.PaymentMethod != "" {
		o.PaymentMethod = t.PaymentMethod
	}
	if t.To == domain.StatusApproved {
		at := t.At
		o.ApprovedAt = &at
	}
}

func (r *Reconciler) publishTransition(ctx context.Context, o *domain.Order, t domain.Transition, src Source, granted int) {
	changed := domain.OrderStatusChangedEvent{
		OrderID:   o.ID,
		From:      t.From,
		To:        t.To,
		Reference: t.Reference,
		Source:    string(src),
		At:        t.At,
	}
	if err := r.publisher.Publish(ctx, domain.EventOrderStatusChanged, changed); err != nil {
		r.logger.Error("failed to publish event", "event", domain.EventOrderStatusChanged, "order_id", o.ID, "error", err)
	}
	if granted == 0 {
		return
	}
	ids := make([]uint64, 0, len(t.Grants))
	for _, g := range t.Grants {
		ids = append(ids, g.ProductID)
	}
	evt := domain.AccessGrantedEvent{OrderID: o.ID, BuyerID: o.BuyerID, ProductIDs: ids, At: t.At}
	if err := r.publisher.Publish(ctx, domain.EventAccessGranted, evt); err != nil {
		r.logger.Error("failed to publish event", "event", domain.EventAccessGranted, "order_id", o.ID, "error", err)
	}
}
