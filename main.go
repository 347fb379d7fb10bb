package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/TURRA7/BotShop/internal/config"
	"github.com/TURRA7/BotShop/internal/conversation"
	deliveryHttp "github.com/TURRA7/BotShop/internal/delivery/http"
	"github.com/TURRA7/BotShop/internal/integrations/yookassa"
	"github.com/TURRA7/BotShop/internal/messaging"
	"github.com/TURRA7/BotShop/internal/messaging/kafka"
	"github.com/TURRA7/BotShop/internal/observability"
	"github.com/TURRA7/BotShop/internal/repository"
	"github.com/TURRA7/BotShop/internal/repository/memory"
	"github.com/TURRA7/BotShop/internal/repository/postgres"
	"github.com/TURRA7/BotShop/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("Shop stopped with error", "err", err)
		os.Exit(1)
	}
}

type repositories struct {
	users       repository.UserRepository
	ledger      repository.LedgerRepository
	products    repository.ProductRepository
	carts       repository.CartRepository
	settlements repository.SettlementRepository
	payments    repository.PaymentRepository
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// --- Metrics ---
	meterProvider, err := observability.NewMeterProvider(ctx, observability.Config{
		ServiceName:  "botshop",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	otel.SetMeterProvider(meterProvider)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to flush metrics", "err", err)
		}
	}()
	if cfg.OTLPEndpoint == "" {
		slog.Warn("OTEL_EXPORTER_OTLP_ENDPOINT not set, metrics are not exported")
	}

	// --- Storage ---
	repos, closeRepos, err := openRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepos()

	// --- Kafka ---
	var (
		publisher  messaging.Publisher = messaging.NopPublisher{}
		subscriber messaging.Subscriber
	)
	if len(cfg.KafkaBrokers) > 0 {
		pub, sub, closeBroker := kafka.NewKafkaBroker(cfg.KafkaBrokers)
		defer func() {
			if err := closeBroker(); err != nil {
				slog.Error("Failed to close Kafka writer", "err", err)
			}
		}()
		publisher, subscriber = pub, sub
	} else {
		slog.Warn("KAFKA_BROKERS not set, domain events are not published")
	}

	// --- Payment gateway ---
	var provider service.PaymentProvider = disabledProvider{}
	if cfg.PaymentsEnabled() {
		provider, err = yookassa.NewClient(cfg.YooKassaShopID, cfg.YooKassaSecretKey, cfg.PaymentReturnURL,
			yookassa.WithBaseURL(cfg.YooKassaBaseURL),
			yookassa.WithTimeout(cfg.PaymentTimeout),
		)
		if err != nil {
			return err
		}
	} else {
		slog.Warn("YooKassa credentials not set, card payments are disabled")
	}

	// --- Services ---
	settlement := service.NewSettlementService(repos.carts, repos.ledger, repos.settlements, publisher, logger)
	payments := service.NewPaymentService(repos.users, repos.carts, repos.payments, settlement, provider, publisher, logger)
	shop := service.Shop{
		Users:      service.NewUserService(repos.users, logger),
		Ledger:     service.NewLedgerService(repos.ledger, publisher, logger),
		Catalog:    service.NewCatalogService(repos.products, logger),
		Cart:       service.NewCartService(repos.carts, logger),
		Settlement: settlement,
		Payments:   payments,
	}

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	// --- Conversation ---
	var dialogs conversation.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		dialogs = conversation.NewRedisStore(client, cfg.ConversationTTL)
	} else {
		mem := conversation.NewMemoryStore(cfg.ConversationTTL)
		goRun(func() { mem.Run(ctx, time.Minute) })
		dialogs = mem
	}
	engine, err := conversation.NewEngine(dialogs,
		conversation.WithAuthorizer(cfg.IsAdmin),
		conversation.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if err := service.RegisterFlows(engine, shop); err != nil {
		return err
	}

	// --- Payment confirmation paths ---
	if cfg.PaymentsEnabled() {
		poller := service.NewPoller(repos.payments, payments, service.PollerConfig{
			Interval: cfg.PollInterval,
			MaxAge:   cfg.PaymentMaxAge,
			RPS:      cfg.PollRPS,
		}, logger)
		goRun(func() { poller.Run(ctx) })
	}
	if subscriber != nil {
		goRun(func() {
			subscriber.Consume(ctx, messaging.TopicPaymentNotifications, "shop-payments", service.NotificationHandler(payments, logger))
		})
		slog.Info("Kafka consumer started", "topic", messaging.TopicPaymentNotifications)
	}

	// --- HTTP API ---
	auth := deliveryHttp.NewAuthenticator(cfg.AuthSecret)
	if auth == nil {
		slog.Warn("HTTP_AUTH_SECRET not set, per-user routes reject every request")
	}
	mux := http.NewServeMux()
	deliveryHttp.NewHandler(shop, engine, payments, auth).RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           deliveryHttp.EnableCORS(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("HTTP shutdown failed", "err", shutdownErr)
	}
	wg.Wait()
	return err
}

func openRepositories(ctx context.Context, cfg *config.Config) (repositories, func(), error) {
	if cfg.Store == config.StoreMemory {
		slog.Warn("Using the in-memory store, data is lost on restart")
		s := memory.NewStore()
		return repositories{
			users:       s.Users(),
			ledger:      s.Ledger(),
			products:    s.Products(),
			carts:       s.Carts(),
			settlements: s.Settlements(),
			payments:    s.Payments(),
		}, func() {}, nil
	}

	db, err := postgres.InitDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return repositories{}, nil, err
	}
	return repositories{
		users:       postgres.NewUserRepository(db),
		ledger:      postgres.NewLedgerRepository(db),
		products:    postgres.NewProductRepository(db),
		carts:       postgres.NewCartRepository(db),
		settlements: postgres.NewSettlementRepository(db),
		payments:    postgres.NewPaymentRepository(db),
	}, func() {
		if err := db.Close(); err != nil {
			slog.Error("Failed to close database", "err", err)
		}
	}, nil
}

var errPaymentsDisabled = errors.New("card payments are not configured")

type disabledProvider struct{}

func (disabledProvider) CreatePayment(context.Context, decimal.Decimal, string, string) (string, string, error) {
	return "", "", errPaymentsDisabled
}

func (disabledProvider) Status(context.Context, string) (service.ProviderStatus, error) {
	return service.ProviderStatus{}, errPaymentsDisabled
}
