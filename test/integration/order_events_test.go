package integration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/inventory/internal/service/orders"
	"github.com/vladislavdragonenkov/inventory/internal/service/outbox"
	"github.com/vladislavdragonenkov/inventory/internal/storage/memory"
)

// OrderEventsTestSuite прогоняет заказ от размещения до публикации события:
// orders пишет outbox в той же транзакции, worker доставляет его publisher'у.
type OrderEventsTestSuite struct {
	suite.Suite

	ctx    context.Context
	store  *memory.Store
	orders *orders.Service
	logger *log.Entry

	admin  domain.Principal
	client domain.Principal
}

func TestOrderEventsSuite(t *testing.T) {
	suite.Run(t, new(OrderEventsTestSuite))
}

func (s *OrderEventsTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	s.logger = baseLogger.WithField("component", "integration-test")

	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.orders = orders.NewService(s.store, orders.WithLogger(s.logger))

	s.admin = s.addUser("admin-1", domain.RoleAdmin)
	s.client = s.addUser("client-1", domain.RoleClient)
	s.addProduct("p-1", "Widget", "12.50", 10)
}

func (s *OrderEventsTestSuite) addUser(id string, role domain.Role) domain.Principal {
	now := time.Now().UTC()
	s.Require().NoError(s.store.Users().Create(s.ctx, domain.User{
		ID: id, Name: "User " + id, Email: id + "@inventory.com", PasswordHash: "x",
		Role: role, Active: true, CreatedAt: now, UpdatedAt: now,
	}))
	return domain.Principal{UserID: id, Role: role}
}

func (s *OrderEventsTestSuite) addProduct(id, name, price string, stock int) {
	now := time.Now().UTC()
	s.Require().NoError(s.store.Products().Create(s.ctx, domain.Product{
		ID: id, LotCode: "LOT-" + id, Name: name, Price: domain.MustMoney(price), Stock: stock,
		Active: true, EntryDate: now, CreatedAt: now, UpdatedAt: now,
	}))
}

func (s *OrderEventsTestSuite) newWorker(publisher, dlq domain.OutboxPublisher) *outbox.Worker {
	opts := []outbox.Option{
		outbox.WithLogger(s.logger),
		outbox.WithMaxAttempts(2),
		outbox.WithRetryBaseDelay(time.Millisecond),
	}
	if dlq != nil {
		opts = append(opts, outbox.WithDLQPublisher(dlq))
	}
	return outbox.NewWorker(s.store.Outbox(), publisher, opts...)
}

func (s *OrderEventsTestSuite) pending() int {
	stats, err := s.store.Outbox().Stats(s.ctx)
	s.Require().NoError(err)
	return stats.PendingCount
}

func (s *OrderEventsTestSuite) TestLifecycleEventsDeliveredInOrder() {
	inv, err := s.orders.Create(s.ctx, s.client, []domain.LineRequest{{ProductID: "p-1", Quantity: 2}})
	s.Require().NoError(err)
	_, err = s.orders.Complete(s.ctx, inv.ID, s.admin)
	s.Require().NoError(err)
	s.Equal(2, s.pending())

	publisher := &recordingPublisher{}
	s.newWorker(publisher, nil).ProcessOnce(s.ctx)

	events := publisher.snapshot()
	s.Require().Len(events, 2)
	s.Equal(string(kafka.EventTypeOrderCreated), events[0].EventType)
	s.Equal(string(kafka.EventTypeOrderCompleted), events[1].EventType)
	s.Zero(s.pending())

	var completed struct {
		Status  string `json:"status"`
		OwnerID string `json:"owner_id"`
		ActorID string `json:"actor_id"`
		Invoice struct {
			ID    string  `json:"id"`
			Total float64 `json:"total"`
			Items []struct {
				Quantity int `json:"quantity"`
			} `json:"items"`
		} `json:"invoice"`
	}
	s.Require().NoError(json.Unmarshal(events[1].Payload, &completed))
	s.Equal("COMPLETED", completed.Status)
	s.Equal("client-1", completed.OwnerID)
	s.Equal(inv.ID, completed.Invoice.ID)
	s.InDelta(25.0, completed.Invoice.Total, 0.001)
	s.Require().Len(completed.Invoice.Items, 1)
	s.Equal(2, completed.Invoice.Items[0].Quantity)
}

func (s *OrderEventsTestSuite) TestRejectedOrderLeavesNoEvent() {
	_, err := s.orders.Create(s.ctx, s.client, []domain.LineRequest{{ProductID: "p-1", Quantity: 11}})
	s.Require().Error(err)
	s.ErrorIs(err, domain.ErrInsufficientStock)

	s.Zero(s.pending())
	product, err := s.store.Products().Get(s.ctx, "p-1")
	s.Require().NoError(err)
	s.Equal(10, product.Stock)
}

func (s *OrderEventsTestSuite) TestUndeliverableEventGoesToDLQ() {
	inv, err := s.orders.Create(s.ctx, s.client, []domain.LineRequest{{ProductID: "p-1", Quantity: 1}})
	s.Require().NoError(err)

	publisher := &recordingPublisher{err: errors.New("broker not available")}
	dlq := &recordingPublisher{}
	s.newWorker(publisher, dlq).ProcessOnce(s.ctx)

	s.Equal(2, publisher.attempts())
	s.Zero(s.pending(), "failed message must leave the pending backlog")

	dead := dlq.snapshot()
	s.Require().Len(dead, 1)
	s.Equal(inv.ID, dead[0].AggregateID)

	var payload struct {
		OutboxID     string          `json:"outbox_id"`
		PublishError string          `json:"publish_error"`
		Payload      json.RawMessage `json:"payload"`
	}
	s.Require().NoError(json.Unmarshal(dead[0].Payload, &payload))
	s.Equal(dead[0].ID, payload.OutboxID)
	s.Contains(payload.PublishError, "broker not available")
	s.NotEmpty(payload.Payload)
}

type recordingPublisher struct {
	mu     sync.Mutex
	err    error
	calls  int
	events []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) snapshot() []domain.OutboxMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OutboxMessage(nil), p.events...)
}

func (p *recordingPublisher) attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
