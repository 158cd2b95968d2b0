package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/health"
	"github.com/vladislavdragonenkov/inventory/internal/httpapi"
	"github.com/vladislavdragonenkov/inventory/internal/metrics"
	"github.com/vladislavdragonenkov/inventory/internal/service/auth"
	"github.com/vladislavdragonenkov/inventory/internal/service/catalog"
	"github.com/vladislavdragonenkov/inventory/internal/service/idempotency"
	"github.com/vladislavdragonenkov/inventory/internal/service/orders"
	"github.com/vladislavdragonenkov/inventory/internal/tracing"
	"github.com/vladislavdragonenkov/inventory/internal/version"
)

// Run поднимает хранилище, сервисы, HTTP API и фоновые воркеры и держит их до отмены ctx.
// При отмене возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.WithField("component", "app")

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		ServiceName:    version.ServiceName,
		ServiceVersion: version.GetVersion(),
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.WithError(err).Warn("tracing shutdown with error")
		}
	}()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	router, err := buildRouter(ctx, cfg, deps.store, logger)
	if err != nil {
		return err
	}

	healthHandler := health.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", health.NewBacklogChecker(
		"outbox", outboxBacklog(deps.store.Outbox()), cfg.OutboxMaxPending, cfg.OutboxMaxPendingAge,
	))
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	// Без Kafka сервис работает: события остаются в outbox.
	relay, _ := newEventRelay(cfg, logger)
	outboxWorker := startOutboxWorker(ctx, cfg, deps.store.Outbox(), relay, logger)
	cleanupWorker := startIdempotencyCleanup(ctx, cfg, deps.store.Idempotency(), logger)

	stopBackground := func() {
		outboxWorker.stop(logger)
		cleanupWorker.stop(logger)
		relay.close(logger)
		shutdownHTTP(metricsSrv, logger)
	}

	apiSrv, errCh, err := startAPIServer(cfg.HTTPAddr, router, logger)
	if err != nil {
		stopBackground()
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(apiSrv, logger)
		stopBackground()
		return ctx.Err()
	case err := <-errCh:
		stopBackground()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// buildRouter собирает сервисы поверх хранилища и HTTP-роутер над ними.
func buildRouter(ctx context.Context, cfg Config, store domain.Store, logger *log.Entry) (*gin.Engine, error) {
	orderMetrics := metrics.NewOrderMetrics()

	authSvc, err := auth.NewService(store.Users(), cfg.JWTSecret,
		auth.WithTokenTTL(cfg.JWTTTL),
		auth.WithLogger(logger.WithField("service", "auth")),
	)
	if err != nil {
		return nil, err
	}
	if cfg.SeedDemoData {
		if err := authSvc.SeedDemoUsers(ctx); err != nil {
			return nil, fmt.Errorf("seed demo users: %w", err)
		}
	}

	return httpapi.NewRouter(httpapi.Deps{
		Auth: authSvc,
		Catalog: catalog.NewService(store,
			catalog.WithMetrics(orderMetrics),
			catalog.WithLogger(logger.WithField("service", "catalog")),
		),
		Orders: orders.NewService(store,
			orders.WithMetrics(orderMetrics),
			orders.WithLogger(logger.WithField("service", "orders")),
		),
		Guard:   idempotency.NewGuard(store.Idempotency(), cfg.IdempotencyTTL, logger.WithField("service", "idempotency")),
		Metrics: metrics.NewHTTPMetrics(),
		Logger:  logger.WithField("component", "http"),
	}), nil
}
