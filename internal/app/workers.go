package app

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/service/idempotency"
	"github.com/vladislavdragonenkov/inventory/internal/service/outbox"
)

const workerStopTimeout = 5 * time.Second

// backgroundWorker: запущенная горутина воркера и способ её остановить.
type backgroundWorker struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

func startWorker(ctx context.Context, name string, run func(ctx context.Context)) *backgroundWorker {
	workerCtx, cancel := context.WithCancel(ctx)
	w := &backgroundWorker{name: name, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		run(workerCtx)
	}()
	return w
}

// stop отменяет воркер и ждёт его завершения не дольше workerStopTimeout.
func (w *backgroundWorker) stop(logger *log.Entry) {
	if w == nil {
		return
	}
	w.cancel()
	select {
	case <-w.done:
	case <-time.After(workerStopTimeout):
		logger.WithField("worker", w.name).Warn("worker did not stop in time")
	}
}

// startOutboxWorker запускает relay outbox -> Kafka. Без Kafka воркер не нужен:
// сообщения копятся в outbox до появления брокера.
func startOutboxWorker(ctx context.Context, cfg Config, repo domain.OutboxRepository, relay *eventRelay, logger *log.Entry) *backgroundWorker {
	if relay == nil {
		logger.Info("outbox worker disabled: kafka is not configured")
		return nil
	}

	worker := outbox.NewWorker(
		repo,
		relay.events,
		outbox.WithLogger(logger.WithField("worker", "outbox")),
		outbox.WithDLQPublisher(relay.deadLetters),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	logger.WithFields(log.Fields{
		"topic":        relay.events.Topic(),
		"dlq_topic":    relay.deadLetters.Topic(),
		"max_attempts": cfg.OutboxMaxAttempts,
	}).Info("outbox worker started")
	return startWorker(ctx, "outbox", worker.Run)
}

func startIdempotencyCleanup(ctx context.Context, cfg Config, repo domain.IdempotencyRepository, logger *log.Entry) *backgroundWorker {
	worker := idempotency.NewCleanupWorker(
		repo,
		idempotency.WithLogger(logger.WithField("worker", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithProcessingTimeout(cfg.IdempotencyProcessingTimeout),
	)
	return startWorker(ctx, "idempotency-cleanup", worker.Run)
}
