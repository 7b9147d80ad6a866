package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/messaging"
	"github.com/joao-fontenele/storefront/internal/notify"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/postgres"
	"github.com/joao-fontenele/storefront/internal/razorpay"
	"github.com/joao-fontenele/storefront/internal/reporting"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

const serviceName = "storefront"

func main() {
	cfg, err := config.Load[config.Config]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLevel(cfg.LogLevel),
	}))

	if err := run(cfg, logger); err != nil {
		logger.Error("storefront stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, cfg.Telemetry.ServiceVersion, cfg.Telemetry.Endpoint)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, cfg.Telemetry.ServiceVersion)
	if err != nil {
		return fmt.Errorf("initialize meter: %w", err)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	if err := telemetry.StartRuntimeMetrics(); err != nil {
		logger.Warn("runtime metrics disabled", "error", err)
	}

	gateway, err := razorpay.NewClient(cfg.Razorpay.BaseURL, cfg.Razorpay.KeyID, cfg.Razorpay.Secret,
		telemetry.NewHTTPClient(cfg.Razorpay.Timeout))
	if err != nil {
		return err
	}

	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.PostgresURL); err != nil {
			return err
		}
		logger.Info("database migrated")
	}

	db, err := postgres.Open(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	mongoClient, mongoDB, err := cart.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return err
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()

	cartStore := cart.NewMongoStore(mongoDB)
	if err := cartStore.CreateIndexes(ctx); err != nil {
		return err
	}

	var cartCache cart.Cache
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		defer func() { _ = redisClient.Close() }()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		cartCache = cart.NewRedisCache(redisClient, cfg.Redis.CartTTL)
	}

	var notifier orders.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		producer := messaging.NewProducer(cfg.Kafka.Brokers)
		defer func() { _ = producer.Close() }()

		dispatcher := notify.NewDispatcher(producer, cfg.NotifyTimeout, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.NotifyTimeout)
			defer cancel()
			if err := dispatcher.Close(ctx); err != nil {
				logger.Error("pending notifications abandoned", "error", err)
			}
		}()
		notifier = dispatcher
	} else {
		logger.Warn("KAFKA_BROKERS not set, order notifications disabled")
	}

	products := catalog.NewProductRepository(db)
	orderRepo := orders.NewOrderRepository(db)

	cartService := cart.NewService(cartStore, products, cartCache, logger)
	builder := orders.NewBuilder(orderRepo, gateway, cartService, notifier, logger)
	verifier := orders.NewVerifier(orderRepo, gateway.Verifier(), notifier, logger)
	salesService := reporting.NewService(reporting.NewSalesRepository(db), products, logger)

	router := newRouter(handlers{
		cart:    cart.NewHandler(cartService, products, logger),
		orders:  orders.NewHandler(builder, verifier, logger),
		catalog: catalog.NewHandler(products, logger),
		sales:   reporting.NewHandler(salesService, logger),
		metrics: metricsHandler,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * cfg.Razorpay.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting storefront service", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-stop:
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}
