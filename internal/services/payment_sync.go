package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"checkout-service/internal/config"
	"checkout-service/internal/domain"
	"checkout-service/internal/infra"
	"checkout-service/internal/logging"
	"checkout-service/internal/metrics"
	"checkout-service/internal/repository"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// ErrRetryLater asks the webhook caller to answer with a retryable status so
// the gateway delivers the notification again.
var ErrRetryLater = errors.New("payment lookup failed, retry later")

// Notification is a parsed gateway webhook. Only PaymentID is guaranteed;
// the inline fields are present on some notification variants.
type Notification struct {
	Type              string
	Action            string
	PaymentID         string
	Status            string
	Amount            *decimal.Decimal
	ExternalReference string
}

// Return page names.
const (
	PageSuccess = "success"
	PageFailure = "failure"
	PagePending = "pending"
)

// ReturnInput is what the buyer's browser brings back from the hosted checkout.
type ReturnInput struct {
	OrderID   uint64
	BuyerID   uint64
	Page      string
	Status    string
	PaymentID string
}

type ReturnOutcome struct {
	Order   *domain.Order
	Page    string
	Level   string
	Message string
}

// PaymentSync adapts the webhook and browser-return entry points onto the
// Reconciler.
type PaymentSync struct {
	reconciler    *Reconciler
	orders        repository.OrderRepository
	gateway       infra.PaymentGateway
	notifications infra.NotificationLog
	lookupFailure string
	lookups       singleflight.Group
	logger        *slog.Logger
	security      *slog.Logger
	metrics       *metrics.Metrics
}

func NewPaymentSync(rec *Reconciler, orders repository.OrderRepository, gw infra.PaymentGateway, logger *slog.Logger) *PaymentSync {
	if logger == nil {
		logger = logging.Discard()
	}
	return &PaymentSync{
		reconciler:    rec,
		orders:        orders,
		gateway:       gw,
		lookupFailure: config.LookupDefer,
		logger:        logger.With("component", "payment_sync"),
		security:      logging.Security(logger),
	}
}

// SetNotificationLog enables duplicate webhook suppression.
func (s *PaymentSync) SetNotificationLog(n infra.NotificationLog) {
	s.notifications = n
}

// SetLookupFailurePolicy chooses between config.LookupDefer and
// config.LookupTrustInline.
func (s *PaymentSync) SetLookupFailurePolicy(policy string) {
	s.lookupFailure = policy
}

func (s *PaymentSync) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// lookup collapses concurrent queries for the same payment into one gateway
// call. The returned Payment is shared and must not be modified.
func (s *PaymentSync) lookup(ctx context.Context, paymentID string) (*infra.Payment, error) {
	// The shared call outlives any one caller; the client timeout bounds it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.lookups.Do(paymentID, func() (any, error) {
		return s.gateway.GetPayment(shared, paymentID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*infra.Payment), nil
}

// HandleWebhook processes one notification. A nil Outcome with a nil error
// means the notification was acknowledged without touching any order.
// ErrRetryLater is returned for transient lookup failures under the defer
// policy; any other error is a store failure.
func (s *PaymentSync) HandleWebhook(ctx context.Context, n Notification) (*Outcome, error) {
	log := s.logger.With("type", n.Type, "payment_id", n.PaymentID)
	log.Info("webhook received", "action", n.Action)

	if n.Type != "payment" {
		log.Debug("ignoring non-payment notification")
		return nil, nil
	}
	if n.PaymentID == "" {
		log.Warn("payment notification without payment id")
		return nil, nil
	}

	in, ok, err := s.webhookInput(ctx, n, log)
	if err != nil || !ok {
		return nil, err
	}

	key := n.PaymentID + ":" + strings.ToLower(in.GatewayStatus)
	if s.notifications != nil {
		seen, err := s.notifications.Seen(ctx, key)
		if err != nil {
			log.Warn("notification log unavailable", "error", err)
		} else if seen {
			log.Debug("duplicate notification")
			return &Outcome{Result: ResultDuplicate}, nil
		}
	}

	out, err := s.reconciler.Reconcile(ctx, in)
	if err != nil {
		return nil, err
	}
	// Hints are not recorded so the verified delivery of the same status
	// still gets through.
	if s.notifications != nil && in.Verified {
		if err := s.notifications.Mark(ctx, key); err != nil {
			log.Warn("failed to record notification", "error", err)
		}
	}
	return out, nil
}

// webhookInput resolves the notification into an engine input. ok is false
// when there is nothing to reconcile.
func (s *PaymentSync) webhookInput(ctx context.Context, n Notification, log *slog.Logger) (Input, bool, error) {
	pay, err := s.lookup(ctx, n.PaymentID)
	if err == nil {
		orderID, ok := parseOrderRef(pay.ExternalReference)
		if !ok {
			log.Warn("payment without usable external reference", "external_reference", pay.ExternalReference)
			return Input{}, false, nil
		}
		amount := pay.Amount
		return Input{
			OrderID:         orderID,
			GatewayStatus:   pay.Status,
			Amount:          &amount,
			Reference:       n.PaymentID,
			PaymentMethodID: pay.PaymentMethodID,
			Verified:        true,
			Source:          SourceWebhook,
		}, true, nil
	}

	if s.lookupFailure == config.LookupTrustInline {
		log.Warn("payment lookup failed, using notification fields", "error", err)
		orderID, ok := parseOrderRef(n.ExternalReference)
		if !ok || n.Status == "" {
			log.Warn("notification carries no usable inline payment data")
			return Input{}, false, nil
		}
		return Input{
			OrderID:       orderID,
			GatewayStatus: n.Status,
			Amount:        n.Amount,
			Reference:     n.PaymentID,
			// Without an amount the approval could not be checked.
			Verified: n.Amount != nil,
			Source:   SourceWebhook,
		}, true, nil
	}

	if infra.IsTransient(err) {
		log.Warn("payment lookup failed, deferring", "error", err)
		return Input{}, false, fmt.Errorf("%w: %v", ErrRetryLater, err)
	}
	log.Error("payment lookup failed permanently, acknowledging", "error", err)
	return Input{}, false, nil
}

// SyncReturn reconciles from the browser return and describes the page to
// show. The query status is only trusted as a hint; a payment id is
// re-queried at the gateway. It returns ErrOrderNotFound when the order does
// not exist or belongs to another buyer.
func (s *PaymentSync) SyncReturn(ctx context.Context, ri ReturnInput) (*ReturnOutcome, error) {
	order, err := s.orders.FindByID(ctx, ri.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.BuyerID != ri.BuyerID {
		return nil, ErrOrderNotFound
	}
	log := s.logger.With("order_id", order.ID, "page", ri.Page)

	if in, ok := s.returnInput(ctx, order, ri, log); ok {
		if _, err := s.reconciler.Reconcile(ctx, in); err != nil {
			log.Error("reconciliation on return failed", "error", err)
		}
	}

	if ri.Page == PagePending {
		in := Input{OrderID: order.ID, GatewayStatus: "pending", Source: SourceReturn}
		if _, err := s.reconciler.Reconcile(ctx, in); err != nil {
			log.Error("reconciliation on return failed", "error", err)
		}
		log.Info("order returned pending from gateway")
	}
	if ri.Page == PageFailure {
		log.Warn("order returned with failure from gateway")
	}

	if current, err := s.orders.FindByID(ctx, order.ID); err != nil {
		log.Error("failed to reload order", "error", err)
	} else if current != nil {
		order = current
	}

	level, msg := returnMessage(ri.Page, order.Status)
	return &ReturnOutcome{Order: order, Page: ri.Page, Level: level, Message: msg}, nil
}

func (s *PaymentSync) returnInput(ctx context.Context, order *domain.Order, ri ReturnInput, log *slog.Logger) (Input, bool) {
	hint := Input{OrderID: order.ID, GatewayStatus: ri.Status, Source: SourceReturn}

	if ri.PaymentID != "" {
		pay, err := s.lookup(ctx, ri.PaymentID)
		switch {
		case err != nil:
			log.Warn("payment lookup on return failed, using query status as hint", "payment_id", ri.PaymentID, "error", err)
		case strings.TrimSpace(pay.ExternalReference) != strconv.FormatUint(order.ID, 10):
			// Verified only for the order named in its external reference.
			s.security.Warn("returned payment does not reference this order",
				"order_id", order.ID,
				"payment_id", ri.PaymentID,
				"external_reference", pay.ExternalReference,
			)
			s.metrics.SecurityAlert("reference_mismatch")
			return Input{}, false
		default:
			amount := pay.Amount
			return Input{
				OrderID:         order.ID,
				GatewayStatus:   pay.Status,
				Amount:          &amount,
				Reference:       ri.PaymentID,
				PaymentMethodID: pay.PaymentMethodID,
				Verified:        true,
				Source:          SourceReturn,
			}, true
		}
	}
	return hint, hint.GatewayStatus != ""
}

func returnMessage(page string, status domain.OrderStatus) (level, msg string) {
	const (
		approved = "Payment approved! Your access has been released."
		declined = "Payment not approved. Try again with another payment method."
		review   = "Payment under review. You will be notified once it is confirmed."
	)
	switch page {
	case PageFailure:
		if status == domain.StatusApproved {
			return "success", approved
		}
		return "error", "The payment was not completed. Please try again."
	case PagePending:
		return "info", "Payment pending. You will be notified when it is approved."
	}
	switch status {
	case domain.StatusApproved:
		return "success", approved
	case domain.StatusCancelled:
		return "error", declined
	}
	return "info", review
}

func parseOrderRef(ref string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(ref), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
