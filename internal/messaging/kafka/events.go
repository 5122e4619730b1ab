package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Topics по умолчанию.
const (
	TopicOrderEvents      = "forwarder.order.events"
	TopicAutomationEvents = "forwarder.automation.events"
	TopicDeadLetterQueue  = "forwarder.dlq"
)

// Kafka headers сообщений, отправленных в DLQ.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OutboxEnvelope — формат события заказа в topic.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// AutomationEvent — входящее обновление статуса от перевозчика или платёжного шлюза.
type AutomationEvent struct {
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	Source     string    `json:"source,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	OccurredAt time.Time `json:"occurred_at,omitempty"`
}

// DeadLetter — сообщение, которое не удалось обработать.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	Attempts          int       `json:"attempts"`
}

// ParseAutomationEvent разбирает AutomationEvent из сообщения.
func ParseAutomationEvent(message *sarama.ConsumerMessage) (*AutomationEvent, error) {
	var event AutomationEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal automation event: %w", err)
	}
	return &event, nil
}

// ParseOutboxEnvelope разбирает событие заказа из topic.
func ParseOutboxEnvelope(message *sarama.ConsumerMessage) (*OutboxEnvelope, error) {
	var envelope OutboxEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox envelope: %w", err)
	}
	return &envelope, nil
}
