package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

// Дополнительные заголовки, по которым потребитель находит заказ без разбора тела.
const (
	HeaderOrderID  = "x-order-id"
	HeaderOutboxID = "x-outbox-id"
)

// Envelope: то, что лежит в value сообщения Kafka для любого события outbox.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

func newEnvelope(event domain.OutboxMessage, now time.Time) Envelope {
	return Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   now,
	}
}

// DecodeDeadLetter разбирает сообщение из DLQ topic.
func DecodeDeadLetter(value []byte) (domain.DeadLetter, error) {
	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("decode dlq envelope: %w", err)
	}
	if len(envelope.Payload) == 0 {
		return domain.DeadLetter{}, errors.New("dlq envelope has no payload")
	}

	var letter domain.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("decode dead letter: %w", err)
	}
	// Старые записи могли не дублировать поля конверта.
	if letter.OutboxID == "" {
		letter.OutboxID = envelope.ID
	}
	if letter.AggregateType == "" {
		letter.AggregateType = envelope.AggregateType
	}
	if letter.AggregateID == "" {
		letter.AggregateID = envelope.AggregateID
	}
	if letter.EventType == "" {
		letter.EventType = envelope.EventType
	}
	return letter, nil
}

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	// sourceTopic непустой только у DLQ-паблишера.
	sourceTopic string
	now         func() time.Time
}

// NewOutboxPublisher создаёт паблишер событий заказов.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic, now: utcNow}
}

// NewDeadLetterPublisher создаёт паблишер для DLQ. Каждое сообщение получает
// заголовки с исходным topic, временем отказа и причиной.
func NewDeadLetterPublisher(producer *Producer, dlqTopic, sourceTopic string) *OutboxTopicPublisher {
	if dlqTopic == "" {
		dlqTopic = TopicDeadLetterQueue
	}
	if sourceTopic == "" {
		sourceTopic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: dlqTopic, sourceTopic: sourceTopic, now: utcNow}
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

// Publish оборачивает сообщение в конверт; ключ партиционирования равен id заказа,
// поэтому события одного заказа читаются в порядке записи.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := newEnvelope(event, p.now())
	headers := map[string]string{
		HeaderEventType: event.EventType,
		HeaderOutboxID:  event.ID,
	}
	if event.AggregateType == AggregateOrder && event.AggregateID != "" {
		headers[HeaderOrderID] = event.AggregateID
	}
	if p.sourceTopic != "" {
		p.deadLetterHeaders(headers, event, envelope.PublishedAt)
	}

	return p.producer.PublishEvent(ctx, p.topic, key, envelope, headers)
}

func (p *OutboxTopicPublisher) deadLetterHeaders(headers map[string]string, event domain.OutboxMessage, now time.Time) {
	headers[HeaderOriginalTopic] = p.sourceTopic
	headers[HeaderFailedAt] = now.Format(time.RFC3339Nano)

	var letter domain.DeadLetter
	if err := json.Unmarshal(event.Payload, &letter); err != nil {
		return
	}
	if !letter.FailedAt.IsZero() {
		headers[HeaderFailedAt] = letter.FailedAt.Format(time.RFC3339Nano)
	}
	if letter.PublishError != "" {
		headers[HeaderErrorMessage] = letter.PublishError
	}
	if letter.Attempts > 0 {
		headers[HeaderRetryCount] = strconv.Itoa(letter.Attempts)
	}
}

func utcNow() time.Time { return time.Now().UTC() }

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
