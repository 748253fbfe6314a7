package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/adili-jewels/storefront/internal/addresses"
	"github.com/adili-jewels/storefront/internal/api"
	"github.com/adili-jewels/storefront/internal/cart"
	"github.com/adili-jewels/storefront/internal/catalog"
	"github.com/adili-jewels/storefront/internal/checkout"
	"github.com/adili-jewels/storefront/internal/config"
	"github.com/adili-jewels/storefront/internal/messaging"
	"github.com/adili-jewels/storefront/internal/notify"
	"github.com/adili-jewels/storefront/internal/orders"
	"github.com/adili-jewels/storefront/internal/payments"
	"github.com/adili-jewels/storefront/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	metricsHandler, shutdownTelemetry, err := telemetry.Init(ctx, "storefront", "1.0.0")
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTelemetry(ctx) }()

	db, err := telemetry.OpenDB("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = redisClient.Close() }()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	var publisher checkout.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, messaging.TopicOrderPlaced)
		defer func() { _ = producer.Close() }()
		publisher = producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events will not be published")
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	carts := cart.NewService(cart.NewRedisStore(redisClient))
	catalogRepo := catalog.NewRepository(db)
	orderRepo := orders.NewRepository(db)
	addressRepo := addresses.NewRepository(db)

	dispatcher := notify.NewDispatcher(
		notify.NewEmailClient(cfg.EmailServiceURL, httpClient),
		cfg.AdminEmail, cfg.ShopName, logger)

	mpesaGateway := payments.NewMpesaGateway(cfg.Mpesa, httpClient)
	cardGateway := payments.NewCardGateway(cfg.StripeAPIKey, cfg.StripeWebhookSecret, cfg.Currency)

	checkoutSvc := checkout.NewService(carts, orderRepo, addressRepo, dispatcher,
		publisher, cardGateway, cardGateway, logger)

	handler := api.NewHandler(catalogRepo, carts, orderRepo, checkoutSvc,
		mpesaGateway, dispatcher, cfg.MpesaWait, logger)

	mux := http.NewServeMux()
	handler.Register(mux, telemetry.WithHTTPRoute)
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(mux, "storefront",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout: 10 * time.Second,
		// the mpesa checkout holds the connection for the confirmation wait
		WriteTimeout: cfg.MpesaWait + 15*time.Second,
	}

	go func() {
		logger.Info("starting storefront service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
