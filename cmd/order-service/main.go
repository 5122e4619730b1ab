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

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/forwarder/internal/app"
	"github.com/vladislavdragonenkov/forwarder/internal/version"
)

const (
	envGRPCAddr                    = "KS_GRPC_ADDR"
	envHTTPAddr                    = "KS_HTTP_ADDR"
	envMetricsAddr                 = "KS_METRICS_ADDR"
	envLogLevel                    = "KS_LOG_LEVEL"
	envStorageDriver               = "KS_STORAGE_DRIVER"
	envPostgresDSN                 = "KS_POSTGRES_DSN"
	envPostgresAutoMigrate         = "KS_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxConns            = "KS_POSTGRES_MAX_CONNS"
	envRedisAddr                   = "KS_REDIS_ADDR"
	envKafkaBrokers                = "KS_KAFKA_BROKERS"
	envKafkaEventsTopic            = "KS_KAFKA_EVENTS_TOPIC"
	envKafkaAutomationTopic        = "KS_KAFKA_AUTOMATION_TOPIC"
	envKafkaAutomationGroup        = "KS_KAFKA_AUTOMATION_GROUP"
	envKafkaDLQTopic               = "KS_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval          = "KS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "KS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "KS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "KS_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "KS_OUTBOX_MAX_PENDING"
	envIdempotencyCleanupInterval  = "KS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "KS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envLinkFreshness               = "KS_LINK_FRESHNESS"
	envJWTSecret                   = "KS_JWT_SECRET"
	envJWTTokenTTL                 = "KS_JWT_TOKEN_TTL"
	envAdminUser                   = "KS_ADMIN_USER"
	envAdminPassword               = "KS_ADMIN_PASSWORD"
	envValidateRateLimit           = "KS_VALIDATE_RATE_LIMIT"
	envValidateRateBurst           = "KS_VALIDATE_RATE_BURST"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Warnf("invalid %s, using info", envLogLevel)
			return
		}
		log.SetLevel(level)
	}
}

// readConfigFromEnv собирает конфигурацию поверх значений по умолчанию.
// Некорректные значения не применяются и возвращаются как предупреждения.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string
	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}

	strs := []struct {
		key   string
		dst   *string
		lower bool
	}{
		{envGRPCAddr, &cfg.GRPCAddr, false},
		{envHTTPAddr, &cfg.HTTPAddr, false},
		{envMetricsAddr, &cfg.MetricsAddr, false},
		{envStorageDriver, &cfg.StorageDriver, true},
		{envPostgresDSN, &cfg.PostgresDSN, false},
		{envRedisAddr, &cfg.RedisAddr, false},
		{envKafkaBrokers, &cfg.KafkaBrokers, false},
		{envKafkaEventsTopic, &cfg.KafkaEventsTopic, false},
		{envKafkaAutomationTopic, &cfg.KafkaAutomationTopic, false},
		{envKafkaAutomationGroup, &cfg.KafkaAutomationGroup, false},
		{envKafkaDLQTopic, &cfg.KafkaDLQTopic, false},
		{envJWTSecret, &cfg.JWTSecret, false},
		{envAdminUser, &cfg.AdminUser, false},
		{envAdminPassword, &cfg.AdminPassword, false},
	}
	for _, s := range strs {
		raw, ok := lookup(s.key)
		if !ok {
			continue
		}
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if s.lower {
			value = strings.ToLower(value)
		}
		*s.dst = value
	}

	if raw, ok := lookup(envPostgresAutoMigrate); ok {
		if v, err := parseBool(raw); err != nil {
			warn(envPostgresAutoMigrate, raw, err)
		} else {
			cfg.PostgresAutoMigrate = v
		}
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	ints := []struct {
		key   string
		dst   *int
		valid func(int) bool
		msg   string
	}{
		{envPostgresMaxConns, &cfg.PostgresMaxConns, positive, "must be > 0"},
		{envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0"},
		{envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0"},
		{envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0"},
		{envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0"},
		{envValidateRateBurst, &cfg.ValidateRateBurst, positive, "must be > 0"},
	}
	for _, i := range ints {
		raw, ok := lookup(i.key)
		if !ok {
			continue
		}
		v, err := parseInt(raw, i.valid, i.msg)
		if err != nil {
			warn(i.key, raw, err)
			continue
		}
		*i.dst = v
	}

	positiveDur := func(v time.Duration) bool { return v > 0 }
	durations := []struct {
		key   string
		dst   *time.Duration
		valid func(time.Duration) bool
		msg   string
	}{
		{envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDur, "must be > 0"},
		{envOutboxRetryDelay, &cfg.OutboxRetryDelay, func(v time.Duration) bool { return v >= 0 }, "must be >= 0"},
		{envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDur, "must be > 0"},
		{envLinkFreshness, &cfg.LinkFreshness, positiveDur, "must be > 0"},
		{envJWTTokenTTL, &cfg.JWTTokenTTL, positiveDur, "must be > 0"},
	}
	for _, d := range durations {
		raw, ok := lookup(d.key)
		if !ok {
			continue
		}
		v, err := parseDuration(raw, d.valid, d.msg)
		if err != nil {
			warn(d.key, raw, err)
			continue
		}
		*d.dst = v
	}

	if raw, ok := lookup(envValidateRateLimit); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		switch {
		case err != nil:
			warn(envValidateRateLimit, raw, err)
		case v < 0:
			warn(envValidateRateLimit, raw, errors.New("must be >= 0"))
		default:
			cfg.ValidateRateLimit = v
		}
	}

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, msg string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(v) {
		return 0, errors.New(msg)
	}
	return v, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, msg string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(v) {
		return 0, errors.New(msg)
	}
	return v, nil
}

func main() {
	setupLogger(os.LookupEnv)
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":        version.GetVersion(),
		"grpc_addr":      cfg.GRPCAddr,
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_enabled":  cfg.KafkaBrokers != "",
		"redis_enabled":  cfg.RedisAddr != "",
	}).Info("запускаем forwarder")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("forwarder остановлен")
}
