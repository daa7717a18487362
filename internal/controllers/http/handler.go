package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"checkout-service/internal/domain"
	"checkout-service/internal/infra"
	"checkout-service/internal/logging"
	"checkout-service/internal/metrics"
	"checkout-service/internal/services"

	"github.com/gin-gonic/gin"
)

const buyerKey = "buyer"

type Handler struct {
	checkout *services.CheckoutService
	orders   *services.OrderService
	sync     *services.PaymentSync
	access   *services.AccessService
	verifier *infra.SignatureVerifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	security *slog.Logger
}

func NewHandler(checkout *services.CheckoutService, orders *services.OrderService, sync *services.PaymentSync, access *services.AccessService, verifier *infra.SignatureVerifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		checkout: checkout,
		orders:   orders,
		sync:     sync,
		access:   access,
		verifier: verifier,
		logger:   logger.With("component", "http"),
		security: logging.Security(logger),
	}
}

func (h *Handler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	r.POST("/checkout/webhook", h.Webhook)

	buyer := r.Group("/", RequireBuyer())
	buyer.POST("/checkout/orders", h.CreateOrder)
	buyer.GET("/checkout/success/:orderId", h.paymentReturn(services.PageSuccess))
	buyer.GET("/checkout/failure/:orderId", h.paymentReturn(services.PageFailure))
	buyer.GET("/checkout/pending/:orderId", h.paymentReturn(services.PagePending))
	buyer.GET("/orders", h.ListOrders)
	buyer.GET("/orders/:id", h.GetOrder)
	buyer.GET("/access", h.ListAccess)
	buyer.POST("/access/:productId/open", h.OpenProduct)
}

// RequireBuyer reads the identity set by the authenticating proxy.
func RequireBuyer() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || id == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(buyerKey, domain.Buyer{
			ID:    id,
			Email: c.GetHeader("X-User-Email"),
			Name:  c.GetHeader("X-User-Name"),
		})
		c.Next()
	}
}

func buyerFrom(c *gin.Context) domain.Buyer {
	b, _ := c.Get(buyerKey)
	buyer, _ := b.(domain.Buyer)
	return buyer
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.checkout.CreateOrder(c.Request.Context(), buyerFrom(c), req.Cart())
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCheckoutUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": services.ErrCheckoutUnavailable.Error()})
		case errors.Is(err, services.ErrEmptyCart),
			errors.Is(err, services.ErrInvalidCart),
			errors.Is(err, services.ErrInvalidBuyer),
			errors.Is(err, services.ErrProductUnavailable),
			errors.Is(err, services.ErrPriceChanged):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("create order failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	c.JSON(http.StatusCreated, CreateOrderResponse{ID: res.Order.ID, CheckoutURL: res.CheckoutURL})
}

func (h *Handler) paymentReturn(page string) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, err := strconv.ParseUint(c.Param("orderId"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
			return
		}

		out, err := h.sync.SyncReturn(c.Request.Context(), services.ReturnInput{
			OrderID:   orderID,
			BuyerID:   buyerFrom(c).ID,
			Page:      page,
			Status:    c.Query("status"),
			PaymentID: c.Query("payment_id"),
		})
		if err != nil {
			if errors.Is(err, services.ErrOrderNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			h.logger.Error("payment return failed", "order_id", orderID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, ReturnPageResponse{
			OrderID: out.Order.ID,
			Status:  out.Order.Status,
			Total:   out.Order.Total,
			Page:    out.Page,
			Level:   out.Level,
			Message: out.Message,
		})
	}
}

// Webhook answers 2xx for every notification it could parse unless the
// payment lookup should be retried (503) or the store failed (500).
func (h *Handler) Webhook(c *gin.Context) {
	status := h.webhook(c)
	h.metrics.ObserveWebhook(status)
	c.Status(status)
}

func (h *Handler) webhook(c *gin.Context) int {
	body, err := c.GetRawData()
	if err != nil {
		return http.StatusBadRequest
	}
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		h.logger.Warn("malformed webhook payload", "error", err)
		return http.StatusBadRequest
	}

	// Some notification variants only carry type and id in the query string.
	if p.Type == "" {
		p.Type = c.Query("type")
	}
	if p.Data.ID == "" {
		p.Data.ID = flexibleID(c.Query("data.id"))
	}

	if err := h.verifier.Verify(c.GetHeader("x-signature"), c.GetHeader("x-request-id"), string(p.Data.ID)); err != nil {
		h.security.Warn("webhook signature rejected", "error", err, "payment_id", string(p.Data.ID), "client_ip", c.ClientIP())
		h.metrics.SecurityAlert("invalid_signature")
		return http.StatusForbidden
	}

	ref := p.ExternalReference
	if ref == "" {
		ref = p.Data.ExternalReference
	}
	_, err = h.sync.HandleWebhook(c.Request.Context(), services.Notification{
		Type:              p.Type,
		Action:            p.Action,
		PaymentID:         string(p.Data.ID),
		Status:            p.Status,
		Amount:            p.TransactionAmount,
		ExternalReference: ref,
	})
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, services.ErrRetryLater):
		return http.StatusServiceUnavailable
	default:
		h.logger.Error("webhook processing failed", "payment_id", string(p.Data.ID), "error", err)
		return http.StatusInternalServerError
	}
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := h.orders.GetOrderById(c.Request.Context(), buyerFrom(c).ID, id)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) ListOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), buyerFrom(c).ID, domain.OrderStatus(c.Query("status")))
	if err != nil {
		if errors.Is(err, services.ErrInvalidStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) ListAccess(c *gin.Context) {
	grants, err := h.access.ListGrants(c.Request.Context(), buyerFrom(c).ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, grants)
}

func (h *Handler) OpenProduct(c *gin.Context) {
	productID, err := strconv.ParseUint(c.Param("productId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	grant, err := h.access.OpenProduct(c.Request.Context(), buyerFrom(c).ID, productID)
	if err != nil {
		if errors.Is(err, services.ErrNoAccess) || errors.Is(err, services.ErrAccessExpired) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, grant)
}
