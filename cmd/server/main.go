package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/internal/config"
	"checkout-service/internal/controllers/http"
	"checkout-service/internal/infra"
	"checkout-service/internal/infra/database"
	"checkout-service/internal/infra/kafka"
	"checkout-service/internal/infra/rabbitmq"
	"checkout-service/internal/infra/rediscache"
	"checkout-service/internal/logging"
	"checkout-service/internal/metrics"
	mysqlrepo "checkout-service/internal/repository/mysql"
	"checkout-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config: load", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, "checkout-service", cfg.LogLevel)

	db, err := database.Open(cfg)
	if err != nil {
		logger.Error("db: connect", "driver", cfg.DB.Driver, "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	orderRepo := mysqlrepo.NewOrderRepository(db)
	productRepo := mysqlrepo.NewProductRepository(db)
	accessRepo := mysqlrepo.NewAccessRepository(db)

	publisher, closePublisher := newPublisher(cfg, logger)
	defer closePublisher()

	gateway := infra.NewGatewayClient(cfg.Gateway.BaseURL, cfg.Gateway.AccessToken, cfg.Gateway.Timeout)
	gateway.SetMetrics(m)
	if cfg.Gateway.AccessToken == "" {
		logger.Warn("gateway access token not configured, checkout will be unavailable")
	}

	checkout := services.NewCheckoutService(orderRepo, productRepo, gateway, publisher, services.CheckoutOptions{
		PublicBaseURL:       cfg.PublicBaseURL,
		CheckoutPoint:       cfg.Gateway.CheckoutPoint,
		StatementDescriptor: cfg.Gateway.StatementDescriptor,
		Currency:            cfg.Gateway.Currency,
	}, logger)
	checkout.SetMetrics(m)

	reconciler := services.NewReconciler(orderRepo, publisher, logger)
	reconciler.SetMetrics(m)
	reconciler.SetGatewayName(cfg.Gateway.Name)

	paymentSync := services.NewPaymentSync(reconciler, orderRepo, gateway, logger)
	paymentSync.SetMetrics(m)
	paymentSync.SetLookupFailurePolicy(cfg.Webhook.LookupFailure)

	if addr := cfg.Redis.Addr(); addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:         addr,
			DB:           0,
			PoolSize:     50,
			MinIdleConns: 5,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		})
		defer redisClient.Close()

		checkout.SetRedisClient(redisClient)
		paymentSync.SetNotificationLog(rediscache.NewNotificationLog(redisClient, cfg.Webhook.DedupTTL))

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := checkout.WarmupProductCache(ctx); err != nil {
				logger.Warn("failed to warm up product cache", "error", err)
			} else {
				logger.Info("product cache warmed up")
			}
		}()
	} else {
		logger.Warn("redis not configured, product cache and webhook dedup disabled")
	}

	verifier := infra.NewSignatureVerifier(cfg.Webhook.Secret)
	if !verifier.Enabled() {
		logger.Warn("webhook secret not configured, notification signatures are not verified")
	}

	handler := http.NewHandler(
		checkout,
		services.NewOrderService(orderRepo),
		paymentSync,
		services.NewAccessService(accessRepo, logger),
		verifier,
		logger,
	)
	handler.SetMetrics(m)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), m.Middleware())

	handler.RegisterRoutes(r)

	srv := &nethttp.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting checkout service", "port", cfg.Port, "db", cfg.DB.Driver, "events", cfg.Events.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			logger.Error("server run", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	logger.Info("checkout service stopped")
}

func newPublisher(cfg *config.Config, logger *slog.Logger) (infra.EventPublisher, func()) {
	switch cfg.Events.Backend {
	case "rabbitmq":
		p, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			logger.Error("failed to init publisher, events disabled", "backend", "rabbitmq", "error", err)
			return infra.NopPublisher{}, func() {}
		}
		return p, p.Close
	case "kafka":
		p := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Warn("kafka writer close", "error", err)
			}
		}
	}
	return infra.NopPublisher{}, func() {}
}
