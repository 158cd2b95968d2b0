package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/health"
	"github.com/vladislavdragonenkov/inventory/internal/storage/memory"
	"github.com/vladislavdragonenkov/inventory/internal/storage/postgres"
)

// runtimeDependencies: хранилище, выбранное конфигурацией, и его проверка здоровья.
type runtimeDependencies struct {
	store          domain.Store
	storageChecker health.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return runtimeDependencies{
			store:          store,
			storageChecker: health.NewPingChecker("storage", store),
			closeFn:        store.Close,
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return runtimeDependencies{}, fmt.Errorf("postgres storage driver requires a DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return runtimeDependencies{}, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}
		logger.Info("using postgres storage")
		return runtimeDependencies{
			store:          store,
			storageChecker: health.NewPingChecker("storage", store),
			closeFn:        store.Close,
		}, nil

	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// outboxBacklog адаптирует статистику outbox к health.BacklogSource.
func outboxBacklog(repo domain.OutboxRepository) health.BacklogSource {
	return func(ctx context.Context) (int, time.Time, error) {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return 0, time.Time{}, err
		}
		return stats.PendingCount, stats.OldestPendingAt, nil
	}
}

func (d runtimeDependencies) close(logger *log.Entry) {
	if d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
