package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

// OutboxTopicPublisher публикует события заказа из outbox в Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для outbox. Ключ сообщения — номер заказа,
// поэтому события одного заказа попадают в одну партицию по порядку.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	return p.producer.PublishWithHeaders(p.topic, key, OutboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   time.Now().UTC(),
	}, map[string]string{"event-type": event.EventType})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
