package app

import (
	"time"

	"github.com/vladislavdragonenkov/forwarder/internal/messaging/kafka"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
// Все поля скалярные: конфигурации сравниваются через ==.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int
	RedisAddr           string

	// KafkaBrokers — список брокеров через запятую; пустая строка отключает Kafka.
	KafkaBrokers         string
	KafkaEventsTopic     string
	KafkaAutomationTopic string
	KafkaAutomationGroup string
	KafkaDLQTopic        string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending — порог backlog, после которого readiness сообщает degraded; 0 отключает проверку.
	OutboxMaxPending int

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	LinkFreshness time.Duration

	JWTSecret         string
	JWTTokenTTL       time.Duration
	AdminUser         string
	AdminPassword     string
	ValidateRateLimit float64
	ValidateRateBurst int
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешней инфраструктуры.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    25,

		KafkaEventsTopic:     kafka.TopicOrderEvents,
		KafkaAutomationTopic: kafka.TopicAutomationEvents,
		KafkaAutomationGroup: "forwarder-automation",
		KafkaDLQTopic:        kafka.TopicDeadLetterQueue,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   500 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		LinkFreshness: 24 * time.Hour,

		JWTTokenTTL:       12 * time.Hour,
		ValidateRateLimit: 5,
		ValidateRateBurst: 10,
	}
}
