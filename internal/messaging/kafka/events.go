package kafka

import "time"

// EventType определяет тип события заказа.
type EventType string

const (
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderUpdated   EventType = "order.updated"
	EventTypeOrderCancelled EventType = "order.cancelled"
	EventTypeOrderCompleted EventType = "order.completed"
)

// AggregateOrder: aggregate_type для событий заказа в outbox.
const AggregateOrder = "order"

// Topics для Kafka
const (
	TopicOrderEvents     = "inventory.order.events"
	TopicDeadLetterQueue = "inventory.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// OrderEvent: полезная нагрузка события заказа. Invoice сериализуется как есть.
type OrderEvent struct {
	EventType EventType `json:"event_type"`
	OrderID   string    `json:"order_id"`
	OwnerID   string    `json:"owner_id"`
	Status    string    `json:"status"`
	ActorID   string    `json:"actor_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Invoice   any       `json:"invoice,omitempty"`
}

// NewOrderEvent создает новое событие заказа.
func NewOrderEvent(eventType EventType, orderID, ownerID, status string, invoice any) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		OwnerID:   ownerID,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Invoice:   invoice,
	}
}
