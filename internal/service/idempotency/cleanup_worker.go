package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

const (
	defaultCleanupInterval   = 10 * time.Minute
	defaultCleanupBatchSize  = 500
	defaultProcessingTimeout = 5 * time.Minute
)

var (
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_idempotency_cleanup_runs_total",
		Help: "Idempotency cleanup runs grouped by result.",
	}, []string{"result"})
	cleanupDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_idempotency_cleanup_deleted_total",
		Help: "Deleted idempotency records grouped by reason (expired, stale).",
	}, []string{"reason"})
	cleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inventory_idempotency_cleanup_last_deleted",
		Help: "Records deleted during the last cleanup run.",
	})
)

// CleanupOptions задает параметры воркера очистки ключей.
type CleanupOptions struct {
	Logger            *log.Entry
	Interval          time.Duration
	BatchSize         int
	ProcessingTimeout time.Duration
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) { opts.Logger = logger }
}

func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.Interval = interval }
}

func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) { opts.BatchSize = batchSize }
}

// WithProcessingTimeout задает, через сколько ключ в processing считается брошенным.
// Отрицательное значение отключает освобождение таких ключей.
func WithProcessingTimeout(timeout time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.ProcessingTimeout = timeout }
}

// CleanupWorker периодически удаляет просроченные ключи и освобождает ключи,
// оставшиеся в processing после падения посреди оформления заказа.
type CleanupWorker struct {
	repo              domain.IdempotencyRepository
	logger            *log.Entry
	interval          time.Duration
	batchSize         int
	processingTimeout time.Duration
}

// CleanupResult: итог одного прохода.
type CleanupResult struct {
	Expired int
	Stale   int
}

func (r CleanupResult) total() int { return r.Expired + r.Stale }

// NewCleanupWorker создает воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:          defaultCleanupInterval,
		BatchSize:         defaultCleanupBatchSize,
		ProcessingTimeout: defaultProcessingTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.ProcessingTimeout == 0 {
		opts.ProcessingTimeout = defaultProcessingTimeout
	}

	return &CleanupWorker{
		repo:              repo,
		logger:            opts.Logger,
		interval:          opts.Interval,
		batchSize:         opts.BatchSize,
		processingTimeout: opts.ProcessingTimeout,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	result, err := w.Cleanup(ctx, time.Now().UTC())
	cleanupLastDeleted.Set(float64(result.total()))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		cleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("idempotency cleanup run failed")
		return
	}

	cleanupRunsTotal.WithLabelValues("ok").Inc()
	if result.total() > 0 {
		w.logger.WithFields(log.Fields{
			"expired": result.Expired,
			"stale":   result.Stale,
		}).Info("idempotency cleanup completed")
	}
}

// Cleanup выполняет один проход на момент now: сначала просроченные ключи, затем брошенные.
func (w *CleanupWorker) Cleanup(ctx context.Context, now time.Time) (CleanupResult, error) {
	var (
		result CleanupResult
		err    error
	)
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result.Expired, err = w.drain(ctx, "expired", func(ctx context.Context) (int, error) {
		return w.repo.DeleteExpired(ctx, now, w.batchSize)
	})
	if err != nil {
		return result, err
	}

	if w.processingTimeout > 0 {
		cutoff := now.Add(-w.processingTimeout)
		result.Stale, err = w.drain(ctx, "stale", func(ctx context.Context) (int, error) {
			return w.repo.DeleteStaleProcessing(ctx, cutoff, w.batchSize)
		})
		if result.Stale > 0 {
			w.logger.WithField("released", result.Stale).Warn("released idempotency keys stuck in processing")
		}
	}
	return result, err
}

// drain повторяет удаление порциями, пока порция не окажется неполной.
func (w *CleanupWorker) drain(ctx context.Context, reason string, deleteBatch func(context.Context) (int, error)) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := deleteBatch(ctx)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted > 0 {
			cleanupDeletedTotal.WithLabelValues(reason).Add(float64(deleted))
		}
		if deleted < w.batchSize {
			return total, nil
		}
	}
}
