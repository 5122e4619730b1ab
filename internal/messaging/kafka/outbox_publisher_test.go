package kafka

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			t.Errorf("unexpected topic %s", msg.Topic)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var envelope OutboxEnvelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.AggregateID != "KS-25-000123" || envelope.EventType != "order.status_changed" {
			t.Errorf("unexpected envelope %+v", envelope)
		}
		if string(envelope.Payload) != `{"status":"confirmed"}` {
			t.Errorf("payload not passed through: %s", envelope.Payload)
		}
		return nil
	})

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
	publisher := NewOutboxPublisher(producer, "")

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "KS-25-000123",
		EventType:     "order.status_changed",
		Payload:       []byte(`{"status":"confirmed"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
	publisher := NewOutboxPublisher(producer, TopicOrderEvents)

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: "order",
		AggregateID:   "KS-25-000234",
		EventType:     "order.created",
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}
