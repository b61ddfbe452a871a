package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/audit"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/creditview"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/inbox"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
	ledgerpg "github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger/postgres"
	ledgersqlite "github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger/sqlite"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger/txmanager"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/opsx"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/outbox"
	outboxkafka "github.com/leduxro-prog/erp-dashboard-sub013/internal/outbox/kafka"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/outbox/noop"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/pkg/cache"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/pkg/telemetry"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/settlement"
)

func main() {
	serviceName := getEnv("OTEL_SERVICE_NAME", "settlementd")
	telemetry.InitLogger(serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, serviceName)
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	metrics, err := telemetry.NewMetrics(registry)
	if err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	store, err := openStore(ctx)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	tm := txmanager.New(store, metrics)
	svc := settlement.NewService(tm, metrics)

	var publisher outbox.Publisher = noop.Publisher{}
	brokers := splitList(getEnv("KAFKA_BROKERS", ""))
	if len(brokers) > 0 {
		kp := outboxkafka.NewPublisher(brokers)
		defer kp.Close()
		publisher = kp
		slog.Info("kafka publisher enabled", "brokers", brokers)
	} else {
		slog.Info("no kafka brokers configured, events stay in the outbox trail only")
	}

	relay := outbox.NewRelay(store, publisher, metrics, outbox.Config{
		PollInterval:    getEnvDuration("OUTBOX_POLL_INTERVAL", 0),
		BatchSize:       getEnvInt("OUTBOX_BATCH_SIZE", 0),
		StaleClaimAfter: getEnvDuration("OUTBOX_STALE_CLAIM_AFTER", 0),
	})
	sweeper := settlement.NewSweeper(svc,
		getEnvDuration("SWEEP_INTERVAL", 0),
		getEnvInt("SWEEP_BATCH_SIZE", 0))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	var view *creditview.View
	if redisAddr := getEnv("REDIS_ADDR", ""); redisAddr != "" {
		view = creditview.New(store, cache.NewRedisCache(redisAddr, serviceName), creditview.DefaultTTL)
		if len(brokers) > 0 {
			guard := inbox.NewGuard(tm, metrics)
			consumer := inbox.NewConsumer("creditview", brokers, settlement.TopicCredit,
				getEnv("KAFKA_GROUP_ID", "settlementd-creditview"), guard)
			for _, eventType := range []string{
				domain.EventCreditReserved,
				domain.EventCreditCaptured,
				domain.EventCreditReleased,
				domain.EventCreditRefunded,
			} {
				consumer.Handle(eventType, view.InvalidationHandler())
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				consumer.Run(ctx)
			}()
		}
	}

	handler := opsx.NewHandler(store, audit.NewValidator(store), view)
	server := &http.Server{
		Addr:              getEnv("HTTP_ADDR", ":8080"),
		Handler:           opsx.NewRouter(handler, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("operational http listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	wg.Wait()
	slog.Info("settlement daemon stopped")
}

// openStore picks the backend from DB_DRIVER: "postgres" needs a DB_DSN,
// anything else runs the embedded SQLite file.
func openStore(ctx context.Context) (*ledger.Store, error) {
	if getEnv("DB_DRIVER", "sqlite") == "postgres" {
		return ledgerpg.Open(ctx, getEnv("DB_DSN", "postgres://localhost:5432/settlement?sslmode=disable"))
	}
	return ledgersqlite.Open(ctx, getEnv("DB_DSN", "settlement.db"))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("invalid duration, using default", "key", key, "value", value)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Warn("invalid integer, using default", "key", key, "value", value)
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
