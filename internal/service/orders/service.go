// Package orders реализует жизненный цикл заказа: создание, замена позиций, отмена и завершение.
//
// Каждая мутация выполняется одной транзакцией: блокировка заказа и товаров,
// изменение остатков, запись заказа и событие в outbox. Любая ошибка откатывает всё.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/inventory/internal/metrics"
	"github.com/vladislavdragonenkov/inventory/internal/service/access"
	"github.com/vladislavdragonenkov/inventory/internal/service/invoice"
)

const tracerName = "github.com/vladislavdragonenkov/inventory/internal/service/orders"

// Операции для метрик и спанов.
const (
	opCreate   = "create"
	opUpdate   = "update"
	opCancel   = "cancel"
	opComplete = "complete"
)

// Store: то, что нужно движку от хранилища.
type Store interface {
	domain.UnitOfWork
	domain.Transactor
}

// Service: движок жизненного цикла заказа.
type Service struct {
	store   Store
	metrics *metrics.OrderMetrics
	tracer  trace.Tracer
	logger  *log.Entry
	now     func() time.Time
	newID   func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithMetrics включает prometheus-метрики. Без опции метрики не пишутся.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService создаёт движок поверх хранилища.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "orders")
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// Create оформляет заказ вызывающего: проверяет и списывает остаток по каждой позиции,
// фиксирует цены и сохраняет заказ в статусе PENDING.
func (s *Service) Create(ctx context.Context, caller domain.Principal, lines []domain.LineRequest) (invoice.Invoice, error) {
	var result invoice.Invoice

	err := s.observe(ctx, opCreate, "", func(ctx context.Context) error {
		if caller.UserID == "" {
			return domain.ErrUnauthorized
		}
		if err := validateLines(lines); err != nil {
			return err
		}

		return s.withinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork, tally *stockTally) error {
			now := s.now()
			order := domain.Order{
				ID:        s.newID(),
				OwnerID:   caller.UserID,
				Status:    domain.OrderStatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			annotate(ctx, order.ID)

			products, err := s.lockProducts(ctx, uow, productIDsOf(lines))
			if err != nil {
				return err
			}
			order.Lines, order.Total, err = s.reserve(ctx, uow, tally, products, order.ID, lines, now)
			if err != nil {
				return err
			}

			if err := uow.Orders().Create(ctx, order); err != nil {
				return fmt.Errorf("save order: %w", err)
			}

			result, err = s.finish(ctx, uow, tally, kafka.EventTypeOrderCreated, order, products, caller)
			return err
		})
	})
	if err != nil {
		return invoice.Invoice{}, err
	}

	s.logger.WithFields(log.Fields{"order_id": result.ID, "user_id": caller.UserID}).Info("order created")
	return result, nil
}

// Update заменяет позиции заказа целиком: возвращает остаток по старым позициям,
// затем резервирует новые так же, как Create.
func (s *Service) Update(ctx context.Context, orderID string, caller domain.Principal, lines []domain.LineRequest) (invoice.Invoice, error) {
	var result invoice.Invoice

	err := s.observe(ctx, opUpdate, orderID, func(ctx context.Context) error {
		if err := validateLines(lines); err != nil {
			return err
		}

		return s.withinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork, tally *stockTally) error {
			order, err := s.lockOrder(ctx, uow, orderID)
			if err != nil {
				return err
			}
			if err := access.AuthorizeMutate(order, caller, "update"); err != nil {
				return err
			}
			if order.Status != domain.OrderStatusPending {
				return domain.BadRequest("cannot modify an order with status %s", order.Status)
			}

			ids := append(productIDsOfOrder(order), productIDsOf(lines)...)
			products, err := s.lockProducts(ctx, uow, ids)
			if err != nil {
				return err
			}
			if err := s.release(ctx, uow, tally, products, order.Lines); err != nil {
				return err
			}
			if err := uow.Orders().DeleteLines(ctx, order.ID); err != nil {
				return fmt.Errorf("delete order lines: %w", err)
			}

			now := s.now()
			order.Lines, order.Total, err = s.reserve(ctx, uow, tally, products, order.ID, lines, now)
			if err != nil {
				return err
			}
			order.UpdatedAt = now

			if err := uow.Orders().UpdateHeader(ctx, order); err != nil {
				return fmt.Errorf("update order: %w", err)
			}
			if err := uow.Orders().AddLines(ctx, order.ID, order.Lines); err != nil {
				return fmt.Errorf("add order lines: %w", err)
			}

			result, err = s.finish(ctx, uow, tally, kafka.EventTypeOrderUpdated, order, products, caller)
			return err
		})
	})
	if err != nil {
		return invoice.Invoice{}, err
	}

	s.logger.WithFields(log.Fields{"order_id": orderID, "user_id": caller.UserID}).Info("order updated")
	return result, nil
}

// Cancel отменяет PENDING-заказ и полностью возвращает остаток.
func (s *Service) Cancel(ctx context.Context, orderID string, caller domain.Principal) (invoice.Invoice, error) {
	var result invoice.Invoice

	err := s.observe(ctx, opCancel, orderID, func(ctx context.Context) error {
		return s.withinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork, tally *stockTally) error {
			order, err := s.lockOrder(ctx, uow, orderID)
			if err != nil {
				return err
			}
			if err := access.AuthorizeMutate(order, caller, "cancel"); err != nil {
				return err
			}
			if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
				return domain.BadRequest("cannot cancel an order with status %s", order.Status)
			}

			products, err := s.lockProducts(ctx, uow, productIDsOfOrder(order))
			if err != nil {
				return err
			}
			if err := s.release(ctx, uow, tally, products, order.Lines); err != nil {
				return err
			}

			order.Status = domain.OrderStatusCancelled
			order.UpdatedAt = s.now()
			if err := uow.Orders().UpdateHeader(ctx, order); err != nil {
				return fmt.Errorf("update order: %w", err)
			}

			result, err = s.finish(ctx, uow, tally, kafka.EventTypeOrderCancelled, order, products, caller)
			return err
		})
	})
	if err != nil {
		return invoice.Invoice{}, err
	}

	s.logger.WithFields(log.Fields{"order_id": orderID, "user_id": caller.UserID}).Info("order cancelled")
	return result, nil
}

// Complete переводит PENDING-заказ в COMPLETED. Только ADMIN, остаток не меняется.
func (s *Service) Complete(ctx context.Context, orderID string, caller domain.Principal) (invoice.Invoice, error) {
	var result invoice.Invoice

	err := s.observe(ctx, opComplete, orderID, func(ctx context.Context) error {
		return s.withinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork, tally *stockTally) error {
			order, err := s.lockOrder(ctx, uow, orderID)
			if err != nil {
				return err
			}
			if err := access.AuthorizeComplete(caller); err != nil {
				return err
			}
			if !order.Status.CanTransitionTo(domain.OrderStatusCompleted) {
				return domain.BadRequest("cannot complete an order with status %s", order.Status)
			}

			order.Status = domain.OrderStatusCompleted
			order.UpdatedAt = s.now()
			if err := uow.Orders().UpdateHeader(ctx, order); err != nil {
				return fmt.Errorf("update order: %w", err)
			}

			products, err := loadProducts(ctx, uow.Products(), productIDsOfOrder(order))
			if err != nil {
				return err
			}
			result, err = s.finish(ctx, uow, tally, kafka.EventTypeOrderCompleted, order, products, caller)
			return err
		})
	})
	if err != nil {
		return invoice.Invoice{}, err
	}

	s.logger.WithFields(log.Fields{"order_id": orderID, "admin_id": caller.UserID}).Info("order completed")
	return result, nil
}

func (s *Service) lockOrder(ctx context.Context, uow domain.UnitOfWork, orderID string) (domain.Order, error) {
	order, err := uow.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return order, nil
}

// finish проверяет инварианты, строит счёт и кладёт событие в outbox той же транзакции.
func (s *Service) finish(
	ctx context.Context,
	uow domain.UnitOfWork,
	tally *stockTally,
	eventType kafka.EventType,
	order domain.Order,
	products map[string]domain.Product,
	caller domain.Principal,
) (invoice.Invoice, error) {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return invoice.Invoice{}, fmt.Errorf("order %s violates invariants: %w", order.ID, errs[0])
	}

	owner, err := lookupOwner(ctx, uow.Users(), order.OwnerID)
	if err != nil {
		return invoice.Invoice{}, err
	}
	inv := invoice.FromOrder(order, products, owner)

	if err := s.enqueue(ctx, uow, tally, eventType, order, inv, caller); err != nil {
		return invoice.Invoice{}, err
	}
	return inv, nil
}

func validateLines(lines []domain.LineRequest) error {
	if len(lines) == 0 {
		return domain.BadRequest("order must contain at least one item")
	}
	for i, line := range lines {
		if line.ProductID == "" {
			return domain.BadRequest("item %d: productId is required", i+1)
		}
		if line.Quantity < 1 {
			return domain.BadRequest("item %d: quantity must be at least 1", i+1)
		}
	}
	return nil
}

func productIDsOf(lines []domain.LineRequest) []string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

func productIDsOfOrder(order domain.Order) []string {
	ids := make([]string, 0, len(order.Lines))
	for _, l := range order.Lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}
