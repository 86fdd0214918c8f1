package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gameshop-fulfillment/internal/client"
	"gameshop-fulfillment/internal/config"
	"gameshop-fulfillment/internal/lock"
	"gameshop-fulfillment/internal/logging"
	"gameshop-fulfillment/internal/metrics"
	"gameshop-fulfillment/internal/model"
	"gameshop-fulfillment/internal/pricing"
	"gameshop-fulfillment/internal/repository"
	"gameshop-fulfillment/internal/server"
	"gameshop-fulfillment/internal/service"

	"github.com/caarlos0/env/v10"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const demoKeysPerProduct = 5

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log, "gameshop-fulfillment", cfg.Environment.Name)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := client.InitDBClient(cfg.Database)
	if err != nil {
		return err
	}

	productRepo := repository.NewProductRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	keyRepo := repository.NewKeyPoolRepository(db)
	paymentEventRepo := repository.NewPaymentEventRepository(db)

	if cfg.Seed.Demo {
		if err := seedDemo(db, productRepo, keyRepo, cfg.Pricing.Currency); err != nil {
			return fmt.Errorf("seed demo catalog: %w", err)
		}
		logger.Info("demo catalog seeded")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine, err := pricing.NewEngineFromStrings(cfg.Pricing.TaxRate, cfg.Pricing.ServiceFeeRate)
	if err != nil {
		return err
	}

	var (
		gateway      client.PaymentGateway
		paypalClient client.PaypalClient
	)
	switch cfg.Payment.Provider {
	case "paypal":
		paypalClient = client.NewPaypalClient(&cfg.Paypal, cfg.Payment.GatewayTimeout)
		gateway = paypalClient
	case "braintree":
		gateway = client.NewBraintreeClient(&cfg.BrainTree)
	default:
		return fmt.Errorf("unsupported payment provider %q", cfg.Payment.Provider)
	}

	locker := lock.NewMemoryLocker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, logger)
	}

	notifier := service.NewNotificationService(client.NewSMTPMailer(&cfg.SMTP), m, logger)
	paymentService := service.NewPaymentService(
		db,
		gateway,
		locker,
		orderRepo,
		keyRepo,
		paymentEventRepo,
		notifier,
		m,
		logger,
		service.PaymentServiceConfig{
			BaseURL:        cfg.BaseURL,
			GatewayTimeout: cfg.Payment.GatewayTimeout,
			NotifyTimeout:  cfg.Payment.NotifyTimeout,
		},
	)
	orderService := service.NewOrderService(
		db,
		engine,
		cfg.Pricing.Currency,
		gateway.Name(),
		productRepo,
		orderRepo,
		keyRepo,
		paymentService,
		logger,
	)

	var paypalService service.PaypalService
	if paypalClient != nil {
		paypalService = service.NewPaypalService(paypalClient, orderRepo, paymentService, logger)
	}

	srv := server.NewServer(orderService, paymentService, service.NewCustomerService(keyRepo), paypalService, reg, cfg.RateLimit, logger)
	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port

	logger.Info("starting HTTP server",
		zap.String("addr", serverAddr),
		zap.String("payment_provider", gateway.Name()),
	)
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigChan:
		logger.Info("signal received, starting graceful shutdown", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// seedDemo loads the demo catalog and tops every product up to a few keys.
func seedDemo(db *gorm.DB, productRepo repository.ProductRepository, keyRepo repository.KeyPoolRepository, currency string) error {
	ctx := context.Background()
	if err := productRepo.Seed(ctx, currency); err != nil {
		return err
	}

	var productIDs []string
	if err := db.WithContext(ctx).Model(&model.Product{}).Pluck("id", &productIDs).Error; err != nil {
		return err
	}

	for _, productID := range productIDs {
		available, err := keyRepo.CountAvailable(ctx, productID)
		if err != nil {
			return err
		}

		var secrets []string
		for i := available; i < demoKeysPerProduct; i++ {
			secrets = append(secrets, uuid.NewString())
		}
		if len(secrets) == 0 {
			continue
		}
		if err := keyRepo.Stock(ctx, productID, secrets); err != nil {
			return err
		}
	}
	return nil
}
