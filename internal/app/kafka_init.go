package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/inventory/internal/messaging/kafka"
)

// eventRelay: подключение к Kafka и паблишеры событий заказов поверх него.
type eventRelay struct {
	producer    *kafka.Producer
	events      *kafka.OutboxTopicPublisher
	deadLetters *kafka.OutboxTopicPublisher
}

// newEventRelay подключается к брокерам из cfg. Пустой список брокеров даёт nil, nil:
// сервис работает без Kafka, события копятся в outbox.
func newEventRelay(cfg Config, logger *log.Entry) (*eventRelay, error) {
	brokers := kafka.ParseBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithFields(log.Fields{
		"brokers":   brokers,
		"topic":     cfg.KafkaTopic,
		"dlq_topic": cfg.KafkaDLQTopic,
	}).Info("kafka producer initialized")

	return &eventRelay{
		producer:    producer,
		events:      kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		deadLetters: kafka.NewDeadLetterPublisher(producer, cfg.KafkaDLQTopic, cfg.KafkaTopic),
	}, nil
}

func (r *eventRelay) close(logger *log.Entry) {
	if r == nil || r.producer == nil {
		return
	}
	if err := r.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
