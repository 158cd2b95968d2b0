package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/inventory/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/inventory/internal/service/auth"
	"github.com/vladislavdragonenkov/inventory/internal/service/idempotency"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	JWTSecret string
	JWTTTL    time.Duration

	// KafkaBrokers: список через запятую. Пустой выключает outbox worker.
	KafkaBrokers  string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
	OutboxMaxAttempts   int
	OutboxRetryDelay    time.Duration
	OutboxMaxPending    int
	OutboxMaxPendingAge time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	// IdempotencyProcessingTimeout: через сколько ключ в processing освобождается.
	IdempotencyProcessingTimeout time.Duration

	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64

	SeedDemoData bool
}

// DefaultConfig возвращает настройки для локального запуска на memory-хранилище.
// JWTSecret намеренно пуст: его задаёт окружение.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		JWTTTL: auth.DefaultTokenTTL,

		KafkaTopic:    kafka.TopicOrderEvents,
		KafkaDLQTopic: kafka.TopicDeadLetterQueue,

		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
		OutboxRetryDelay:    50 * time.Millisecond,
		OutboxMaxPending:    1000,
		OutboxMaxPendingAge: 5 * time.Minute,

		IdempotencyTTL:               idempotency.DefaultTTL,
		IdempotencyCleanupInterval:   10 * time.Minute,
		IdempotencyCleanupBatchSize:  500,
		IdempotencyProcessingTimeout: 5 * time.Minute,

		OTLPInsecure:     true,
		TraceSampleRatio: 1,

		SeedDemoData: true,
	}
}

// Validate проверяет то, без чего сервис не стартует.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage driver requires a DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("trace sample ratio must be within [0, 1], got %v", c.TraceSampleRatio))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
