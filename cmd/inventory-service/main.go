package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/inventory/internal/app"
	"github.com/vladislavdragonenkov/inventory/internal/version"
)

const (
	envHTTPAddr                    = "INVENTORY_HTTP_ADDR"
	envMetricsAddr                 = "INVENTORY_METRICS_ADDR"
	envStorageDriver               = "INVENTORY_STORAGE_DRIVER"
	envPostgresDSN                 = "INVENTORY_POSTGRES_DSN"
	envPostgresAutoMigrate         = "INVENTORY_POSTGRES_AUTO_MIGRATE"
	envJWTSecret                   = "INVENTORY_JWT_SECRET"
	envJWTTTL                      = "INVENTORY_JWT_TTL"
	envKafkaBrokers                = "INVENTORY_KAFKA_BROKERS"
	envKafkaTopic                  = "INVENTORY_KAFKA_TOPIC"
	envKafkaDLQTopic               = "INVENTORY_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval          = "INVENTORY_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "INVENTORY_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "INVENTORY_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "INVENTORY_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "INVENTORY_OUTBOX_MAX_PENDING"
	envOutboxMaxPendingAge         = "INVENTORY_OUTBOX_MAX_PENDING_AGE"
	envIdempotencyTTL              = "INVENTORY_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "INVENTORY_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "INVENTORY_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envIdempotencyProcessing       = "INVENTORY_IDEMPOTENCY_PROCESSING_TIMEOUT"
	envOTLPEndpoint                = "INVENTORY_OTLP_ENDPOINT"
	envOTLPInsecure                = "INVENTORY_OTLP_INSECURE"
	envTraceSampleRatio            = "INVENTORY_TRACE_SAMPLE_RATIO"
	envSeedDemoData                = "INVENTORY_SEED_DEMO_DATA"
	envLogLevel                    = "INVENTORY_LOG_LEVEL"
	envLogFormat                   = "INVENTORY_LOG_FORMAT"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	format, _ := lookup(envLogFormat)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level := log.InfoLevel
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		if parsed, err := log.ParseLevel(strings.TrimSpace(raw)); err == nil {
			level = parsed
		} else {
			log.WithError(err).Warn("invalid log level, using info")
		}
	}
	log.SetLevel(level)
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не роняют старт: остаётся default, а причина попадает в warnings.
func readConfigFromEnv(lookup envLookup) (app.Config, []error) {
	cfg := app.DefaultConfig()
	var warnings []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDur := func(v time.Duration) bool { return v > 0 }
	nonNegativeDur := func(v time.Duration) bool { return v >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	str(envJWTSecret, &cfg.JWTSecret)
	duration(envJWTTTL, &cfg.JWTTTL, positiveDur, "must be > 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaTopic, &cfg.KafkaTopic)
	str(envKafkaDLQTopic, &cfg.KafkaDLQTopic)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDur, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDur, "must be >= 0")
	integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0")
	duration(envOutboxMaxPendingAge, &cfg.OutboxMaxPendingAge, nonNegativeDur, "must be >= 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDur, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDur, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")
	duration(envIdempotencyProcessing, &cfg.IdempotencyProcessingTimeout, positiveDur, "must be > 0")

	str(envOTLPEndpoint, &cfg.OTLPEndpoint)
	boolean(envOTLPInsecure, &cfg.OTLPInsecure)
	if v, ok := lookup(envTraceSampleRatio); ok {
		ratio, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Errorf("%s: %w", envTraceSampleRatio, err))
		case ratio < 0 || ratio > 1:
			warnings = append(warnings, fmt.Errorf("%s: must be within [0, 1]", envTraceSampleRatio))
		default:
			cfg.TraceSampleRatio = ratio
		}
	}

	// Демо-данные по умолчанию только для memory: в postgres их нужно включить явно.
	cfg.SeedDemoData = cfg.StorageDriver == app.StorageDriverMemory
	boolean(envSeedDemoData, &cfg.SeedDemoData)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

func main() {
	setupLogger(os.LookupEnv)
	gin.SetMode(gin.ReleaseMode)

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.WithError(w).Warn("переменная окружения проигнорирована")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Current().LogFields()).WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_enabled":  cfg.KafkaBrokers != "",
	}).Info("запускаем inventory service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("inventory service остановлен")
}
