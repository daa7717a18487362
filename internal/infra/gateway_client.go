package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"checkout-service/internal/metrics"

	"github.com/shopspring/decimal"
)

var ErrPaymentNotFound = errors.New("gateway: payment not found")

// GatewayError is a non-2xx answer from the gateway.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway: %s returned status %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsPermanent reports gateway failures that a retry cannot fix: unknown
// payments and client errors other than rate limiting.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPaymentNotFound) {
		return true
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.StatusCode >= 400 && ge.StatusCode < 500 && ge.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// IsTransient is everything that failed and is not permanent: timeouts,
// network errors, 429, 5xx and unreadable responses.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}

type PreferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type Payer struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Surname string `json:"surname"`
}

type PreferenceRequest struct {
	Items               []PreferenceItem `json:"items"`
	BackURLs            BackURLs         `json:"back_urls"`
	NotificationURL     string           `json:"notification_url,omitempty"`
	ExternalReference   string           `json:"external_reference"`
	StatementDescriptor string           `json:"statement_descriptor,omitempty"`
	AutoReturn          string           `json:"auto_return,omitempty"`
	Payer               *Payer           `json:"payer,omitempty"`
}

type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// CheckoutURL picks the configured checkout point and falls back to the other
// one when it is missing.
func (p *Preference) CheckoutURL(point string) string {
	if point == "sandbox_init_point" {
		if p.SandboxInitPoint != "" {
			return p.SandboxInitPoint
		}
		return p.InitPoint
	}
	if p.InitPoint != "" {
		return p.InitPoint
	}
	return p.SandboxInitPoint
}

type Payment struct {
	ID                string          `json:"-"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `json:"transaction_amount"`
	ExternalReference string          `json:"external_reference"`
	PaymentMethodID   string          `json:"payment_method_id"`
}

type GatewayClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	metrics     *metrics.Metrics
}

func NewGatewayClient(baseURL, accessToken string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *GatewayClient) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

func (c *GatewayClient) CreatePreference(ctx context.Context, pr PreferenceRequest) (pref *Preference, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveGateway("create_preference", err, start) }()

	body, err := json.Marshal(pr)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode preference: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/preferences", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var p Preference
	if err := c.do(req, "create preference", &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, &GatewayError{Op: "create preference", StatusCode: http.StatusBadGateway, Body: "missing preference id"}
	}
	return &p, nil
}

func (c *GatewayClient) GetPayment(ctx context.Context, paymentID string) (pay *Payment, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveGateway("get_payment", err, start) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}

	var p Payment
	if err := c.do(req, "get payment", &p); err != nil {
		var ge *GatewayError
		if errors.As(err, &ge) && ge.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
		}
		return nil, err
	}
	p.ID = paymentID
	return &p, nil
}

func (c *GatewayClient) do(req *http.Request, op string, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway: decode %s: %w", op, err)
	}
	return nil
}
