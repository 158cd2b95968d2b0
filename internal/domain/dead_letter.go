package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// DeadLetter: событие, которое не удалось доставить за отведённые попытки.
// Payload хранит исходное тело события без изменений.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	Attempts      int             `json:"attempts,omitempty"`
	FailedAt      time.Time       `json:"dlq_published_at"`
}

// NewDeadLetter фиксирует причину отказа для сообщения outbox.
func NewDeadLetter(msg OutboxMessage, publishErr error, attempts int, failedAt time.Time) DeadLetter {
	letter := DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		Attempts:      attempts,
		FailedAt:      failedAt.UTC(),
	}
	if publishErr != nil {
		letter.PublishError = publishErr.Error()
	}
	return letter
}

// Message собирает OutboxMessage, которое можно опубликовать повторно.
func (d DeadLetter) Message() (OutboxMessage, error) {
	if len(d.Payload) == 0 || string(d.Payload) == "null" {
		return OutboxMessage{}, errors.New("dead letter does not contain the original event")
	}
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}, nil
}
