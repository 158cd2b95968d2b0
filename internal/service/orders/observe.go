package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/inventory/internal/metrics"
	"github.com/vladislavdragonenkov/inventory/internal/service/invoice"
)

// observe оборачивает операцию спаном, метриками и логом отказа.
func (s *Service) observe(ctx context.Context, op, orderID string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "orders."+op, trace.WithAttributes(
		attribute.String("order.operation", op),
	))
	defer span.End()
	if orderID != "" {
		span.SetAttributes(attribute.String("order.id", orderID))
	}

	start := time.Now()
	err := fn(ctx)

	result := metrics.ResultSuccess
	if err != nil {
		entry := s.logger.WithError(err).WithFields(log.Fields{"operation": op, "order_id": orderID})
		if kind := domain.KindOf(err); kind == domain.KindInternal {
			result = metrics.ResultError
			entry.Error("order operation failed")
		} else {
			result = metrics.ResultRejected
			entry.WithField("kind", kind).Info("order operation rejected")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.ObserveOperation(op, result, time.Since(start))

	return err
}

// annotate добавляет id заказа к текущему спану, когда он становится известен.
func annotate(ctx context.Context, orderID string) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("order.id", orderID))
}

// enqueue пишет событие заказа в outbox текущей транзакции.
func (s *Service) enqueue(
	ctx context.Context,
	uow domain.UnitOfWork,
	tally *stockTally,
	eventType kafka.EventType,
	order domain.Order,
	inv invoice.Invoice,
	caller domain.Principal,
) error {
	event := kafka.NewOrderEvent(eventType, order.ID, order.OwnerID, string(order.Status), inv)
	event.ActorID = caller.UserID
	event.Timestamp = order.UpdatedAt

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	if _, err := uow.Outbox().Enqueue(ctx, domain.OutboxMessage{
		ID:            s.newID(),
		AggregateType: kafka.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("enqueue %s event: %w", eventType, err)
	}
	tally.enqueued++

	return nil
}
