package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 500 * time.Millisecond
)

// ErrPermanent помечает ошибки, которые повтор не исправит (битый JSON, неизвестный заказ).
var ErrPermanent = errors.New("permanent message failure")

// Permanent оборачивает err так, что consumer сразу отправит сообщение в DLQ.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// MessageHandler обрабатывает одно сообщение.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDLQ включает отправку необработанных сообщений в topic.
func WithDLQ(producer *Producer, topic string) ConsumerOption {
	return func(c *Consumer) {
		c.dlqProducer = producer
		if topic != "" {
			c.dlqTopic = topic
		}
	}
}

// WithMaxRetries задаёт число повторов после первой неудачной попытки.
func WithMaxRetries(n int) ConsumerOption {
	return func(c *Consumer) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay задаёт паузу между повторами.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Consumer читает consumer group, повторяет временные ошибки и уводит остальное в DLQ.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	dlqTopic    string
	maxRetries  int
	retryDelay  time.Duration
}

// NewConsumer подключается к consumer group.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return newConsumer(group, topics, handler, options...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		consumer:   group,
		topics:     topics,
		handler:    handler,
		logger:     log.WithField("component", "kafka-consumer"),
		dlqTopic:   TopicDeadLetterQueue,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Start запускает чтение в фоне и возвращается сразу.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume завершается при каждом rebalance, поэтому вызываем его в цикле.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает consumer group и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения партиции по одному, сохраняя порядок.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessage(session.Context(), message); err != nil {
				if session.Context().Err() != nil {
					return nil
				}
				// Следующий MarkMessage закоммитил бы offset поверх упавшего сообщения,
				// поэтому claim закрывается: Start перезапустит Consume, и партиция
				// читается заново с последнего закоммиченного offset.
				c.logger.WithError(err).WithFields(fields).Error("message processing failed after all retries, releasing claim")
				return fmt.Errorf("consume %s/%d@%d: %w", message.Topic, message.Partition, message.Offset, err)
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage повторяет обработку до maxRetries раз, затем отправляет сообщение в DLQ.
// nil означает, что offset можно закоммитить.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempts := 0
	var err error
	for {
		attempts++
		err = c.handler(ctx, message)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) || attempts > c.maxRetries {
			break
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"attempt":     attempts,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")

		if waitErr := c.wait(ctx); waitErr != nil {
			return waitErr
		}
	}

	if c.dlqProducer == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(message, err, attempts); dlqErr != nil {
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithError(err).WithFields(log.Fields{
		"topic":    message.Topic,
		"attempts": attempts,
	}).Warn("message sent to DLQ")
	return nil
}

func (c *Consumer) wait(ctx context.Context) error {
	if c.retryDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error, attempts int) error {
	failedAt := time.Now().UTC()
	letter := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      processingErr.Error(),
		FailedAt:          failedAt,
		Attempts:          attempts,
	}
	headers := map[string]string{
		HeaderRetryCount:    strconv.Itoa(retryCount(message) + attempts),
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  processingErr.Error(),
		HeaderFailedAt:      failedAt.Format(time.RFC3339),
	}
	return c.dlqProducer.PublishWithHeaders(c.dlqTopic, string(message.Key), letter, headers)
}

// retryCount читает число попыток из заголовка; сообщения, переигранные из DLQ, его сохраняют.
func retryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		if count, err := strconv.Atoi(string(header.Value)); err == nil {
			return count
		}
	}
	return 0
}
