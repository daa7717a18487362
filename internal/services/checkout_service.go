package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"checkout-service/internal/domain"
	"checkout-service/internal/infra"
	"checkout-service/internal/logging"
	"checkout-service/internal/metrics"
	"checkout-service/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInvalidCart         = errors.New("invalid cart")
	ErrInvalidBuyer        = errors.New("invalid buyer")
	ErrProductUnavailable  = errors.New("product unavailable")
	ErrPriceChanged        = errors.New("product price changed")
	ErrCheckoutUnavailable = errors.New("payment is unavailable right now, please try again")
)

const (
	defaultStatementDescriptor = "PERSONALTRNR"
	maxItemTitle               = 120
	maxPayerName               = 255
	productCacheTTL            = time.Minute
	productWarmupTTL           = 5 * time.Minute
)

type CheckoutOptions struct {
	PublicBaseURL       string
	CheckoutPoint       string
	StatementDescriptor string
	Currency            string
}

type CheckoutResult struct {
	Order       *domain.Order
	CheckoutURL string
}

// CheckoutService turns a cart snapshot into a pending order and a hosted
// checkout URL.
type CheckoutService struct {
	orders      repository.OrderRepository
	products    repository.ProductRepository
	gateway     infra.PaymentGateway
	publisher   infra.EventPublisher
	redisClient *redis.Client
	opts        CheckoutOptions
	logger      *slog.Logger
	security    *slog.Logger
	metrics     *metrics.Metrics
}

func NewCheckoutService(orders repository.OrderRepository, products repository.ProductRepository, gw infra.PaymentGateway, pub infra.EventPublisher, opts CheckoutOptions, logger *slog.Logger) *CheckoutService {
	if pub == nil {
		pub = infra.NopPublisher{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Currency == "" {
		opts.Currency = "BRL"
	}
	return &CheckoutService{
		orders:    orders,
		products:  products,
		gateway:   gw,
		publisher: pub,
		opts:      opts,
		logger:    logger.With("component", "checkout"),
		security:  logging.Security(logger),
	}
}

func (s *CheckoutService) SetRedisClient(client *redis.Client) {
	s.redisClient = client
}

func (s *CheckoutService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// CreateOrder validates the cart against the catalog, stores a pending order
// and asks the gateway for a checkout URL. When the gateway cannot provide one
// the order is deleted again and ErrCheckoutUnavailable is returned.
func (s *CheckoutService) CreateOrder(ctx context.Context, buyer domain.Buyer, cart domain.Cart) (*CheckoutResult, error) {
	if buyer.ID == 0 {
		return nil, ErrInvalidBuyer
	}
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}

	order := &domain.Order{
		BuyerID:    buyer.ID,
		Discount:   decimal.Zero,
		Status:     domain.StatusPending,
		BuyerEmail: buyer.Email,
		BuyerName:  buyer.Name,
	}
	if order.BuyerName == "" {
		order.BuyerName = buyer.Email
	}

	for _, it := range cart.Items {
		if it.Quantity <= 0 || it.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: product %d", ErrInvalidCart, it.ProductID)
		}
		prod, err := s.getProductWithCache(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		if prod == nil || !prod.Purchasable() {
			return nil, fmt.Errorf("%w: %d", ErrProductUnavailable, it.ProductID)
		}
		if !it.UnitPrice.Equal(prod.FinalPrice()) {
			return nil, fmt.Errorf("%w: product %d", ErrPriceChanged, it.ProductID)
		}
		order.Items = append(order.Items, domain.LineItem{
			ProductID:   it.ProductID,
			ProductName: prod.Name,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			Subtotal:    it.LineTotal(),
		})
	}
	order.Subtotal = order.ItemsTotal()
	order.Total = order.Subtotal.Sub(order.Discount)

	if cartTotal := cart.Total(); !cartTotal.Equal(order.Total) {
		s.security.Log(ctx, logging.LevelCritical, "cart total differs from computed order total",
			"buyer_id", buyer.ID,
			"cart_total", cartTotal.StringFixed(2),
			"order_total", order.Total.StringFixed(2),
		)
		s.metrics.SecurityAlert("cart_total_mismatch")
		return nil, fmt.Errorf("%w: total mismatch", ErrInvalidCart)
	}
	if !order.Total.IsPositive() {
		return nil, fmt.Errorf("%w: total must be positive", ErrInvalidCart)
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("checkout: create order: %w", err)
	}
	log := s.logger.With("order_id", order.ID, "buyer_id", buyer.ID)

	pref, err := s.gateway.CreatePreference(ctx, s.preferenceRequest(order, buyer))
	checkoutURL := ""
	if err == nil {
		checkoutURL = pref.CheckoutURL(s.opts.CheckoutPoint)
		if checkoutURL == "" {
			err = errors.New("preference has no checkout url")
		}
	}
	if err != nil {
		log.Error("failed to create payment preference", "error", err)
		if derr := s.orders.Delete(ctx, order.ID); derr != nil {
			log.Error("failed to delete order after gateway failure", "error", derr)
		}
		return nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	if err := s.orders.SetPreference(ctx, order.ID, pref.ID); err != nil {
		log.Warn("failed to store preference id", "preference_id", pref.ID, "error", err)
	} else {
		order.PreferenceID = pref.ID
	}
	log.Info("order created", "total", order.Total.StringFixed(2), "preference_id", pref.ID)

	s.publishOrderCreatedEvent(ctx, order)
	return &CheckoutResult{Order: order, CheckoutURL: checkoutURL}, nil
}

func (s *CheckoutService) preferenceRequest(o *domain.Order, buyer domain.Buyer) infra.PreferenceRequest {
	base := strings.TrimRight(s.opts.PublicBaseURL, "/")
	id := strconv.FormatUint(o.ID, 10)

	items := make([]infra.PreferenceItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, infra.PreferenceItem{
			Title:      truncateRunes(it.ProductName, maxItemTitle),
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice.InexactFloat64(),
			CurrencyID: s.opts.Currency,
		})
	}

	first, last := splitPayerName(buyer.Name)
	req := infra.PreferenceRequest{
		Items: items,
		BackURLs: infra.BackURLs{
			Success: base + "/checkout/success/" + id,
			Failure: base + "/checkout/failure/" + id,
			Pending: base + "/checkout/pending/" + id,
		},
		NotificationURL:     base + "/checkout/webhook",
		ExternalReference:   id,
		StatementDescriptor: normalizeStatementDescriptor(s.opts.StatementDescriptor),
		Payer: &infra.Payer{
			Email:   truncateRunes(buyer.Email, maxPayerName),
			Name:    first,
			Surname: last,
		},
	}
	// The gateway refuses auto_return when the back URLs are not public.
	if !isLocalURL(base) {
		req.AutoReturn = "approved"
	}
	return req
}

func (s *CheckoutService) getProductWithCache(ctx context.Context, productID uint64) (*domain.Product, error) {
	cacheKey := fmt.Sprintf("product:%d", productID)

	if s.redisClient != nil {
		cached, err := s.redisClient.Get(ctx, cacheKey).Result()
		if err == nil {
			var prod domain.Product
			if err := json.Unmarshal([]byte(cached), &prod); err == nil {
				return &prod, nil
			}
		}
	}

	prod, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("checkout: load product %d: %w", productID, err)
	}

	if s.redisClient != nil && prod != nil {
		if data, err := json.Marshal(prod); err == nil {
			s.redisClient.Set(ctx, cacheKey, data, productCacheTTL)
		}
	}
	return prod, nil
}

// WarmupProductCache preloads every published product into redis.
func (s *CheckoutService) WarmupProductCache(ctx context.Context) error {
	if s.redisClient == nil {
		return nil
	}
	ids, err := s.products.ListPublishedIDs(ctx)
	if err != nil {
		return fmt.Errorf("checkout: list products: %w", err)
	}

	for _, id := range ids {
		prod, err := s.products.FindByID(ctx, id)
		if err != nil {
			s.logger.Warn("failed to warm up product cache", "product_id", id, "error", err)
			continue
		}
		if prod != nil {
			if data, err := json.Marshal(prod); err == nil {
				s.redisClient.Set(ctx, fmt.Sprintf("product:%d", id), data, productWarmupTTL)
			}
		}
	}
	return nil
}

func (s *CheckoutService) publishOrderCreatedEvent(ctx context.Context, o *domain.Order) {
	evt := domain.OrderCreatedEvent{
		OrderID:   o.ID,
		BuyerID:   o.BuyerID,
		Total:     o.Total,
		Items:     len(o.Items),
		CreatedAt: o.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, domain.EventOrderCreated, evt); err != nil {
		s.logger.Error("failed to publish event", "event", domain.EventOrderCreated, "order_id", o.ID, "error", err)
	}
}

// normalizeStatementDescriptor keeps uppercase letters and digits, at most 13
// of them, as the card statement allows.
func normalizeStatementDescriptor(v string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(v) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return defaultStatementDescriptor
	}
	if len(out) > 13 {
		out = out[:13]
	}
	return out
}

// splitPayerName drops symbols from a full name and splits it into first and
// last name.
func splitPayerName(name string) (first, last string) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, name)
	parts := strings.Fields(cleaned)
	if len(parts) == 0 {
		return "Usuario", "Convidado"
	}
	first = truncateRunes(parts[0], maxPayerName)
	if len(parts) == 1 {
		return first, "Silva"
	}
	return first, truncateRunes(strings.Join(parts[1:], " "), maxPayerName)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func isLocalURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	switch u.Hostname() {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
