package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	seq        int64
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// outboxRepository: outbox поверх общего Store, участвует в транзакциях заказа.
type outboxRepository struct {
	sc scope
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его с идентификатором.
func (r outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	err := r.sc.write(func() (func(), error) {
		s := r.sc.s
		now := time.Now().UTC()
		s.outbox[msg.ID] = &outboxRecord{
			msg:       msg,
			seq:       s.nextSeq(),
			status:    outboxStatusPending,
			createdAt: now,
			updatedAt: now,
		}
		return func() { delete(s.outbox, msg.ID) }, nil
	})
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	return msg, nil
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке постановки.
func (r outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	var pending []*outboxRecord
	r.sc.read(func() {
		for _, rec := range r.sc.s.outbox {
			if rec.status == outboxStatusPending {
				cp := *rec
				pending = append(pending, &cp)
			}
		}
	})
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	if len(pending) > limit {
		pending = pending[:limit]
	}
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result, nil
}

func (r outboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	r.sc.read(func() {
		for _, rec := range r.sc.s.outbox {
			if rec.status != outboxStatusPending {
				continue
			}
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.createdAt
			}
		}
	})
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusFailed)
}

func (r outboxRepository) markStatus(id, status string) error {
	return r.sc.write(func() (func(), error) {
		rec, ok := r.sc.s.outbox[id]
		if !ok {
			return nil, domain.ErrOutboxPublish
		}
		prev := *rec
		rec.status = status
		rec.attemptCnt++
		rec.updatedAt = time.Now().UTC()
		return func() { *rec = prev }, nil
	})
}

var _ domain.OutboxRepository = outboxRepository{}
