package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/forwarder/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/forwarder/internal/service/lifecycle"
)

// splitBrokers разбирает список брокеров через запятую, отбрасывая пустые элементы.
func splitBrokers(brokers string) []string {
	var out []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}
	return out
}

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// startAutomationConsumer подписывает движок на topic автоматических обновлений статусов.
// Без брокеров или producer для DLQ возвращает nil.
func startAutomationConsumer(ctx context.Context, cfg Config, engine *lifecycle.Engine, dlq *kafka.Producer, logger *log.Entry) *kafka.Consumer {
	brokerList := splitBrokers(cfg.KafkaBrokers)
	if len(brokerList) == 0 || strings.TrimSpace(cfg.KafkaAutomationTopic) == "" {
		return nil
	}

	consumerLogger := logger.WithField("component", "automation-consumer")
	options := []kafka.ConsumerOption{kafka.WithConsumerLogger(consumerLogger)}
	if dlq != nil {
		options = append(options, kafka.WithDLQ(dlq, cfg.KafkaDLQTopic))
	}

	consumer, err := kafka.NewConsumer(
		brokerList,
		cfg.KafkaAutomationGroup,
		[]string{cfg.KafkaAutomationTopic},
		kafka.NewAutomationHandler(engine, consumerLogger),
		options...,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create automation consumer, automation updates are disabled")
		return nil
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start automation consumer")
		_ = consumer.Stop()
		return nil
	}
	return consumer
}

// stopConsumer останавливает consumer если он не nil.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop automation consumer")
	}
}
