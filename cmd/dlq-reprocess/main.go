package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/forwarder/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "KS_KAFKA_BROKERS"
)

// config — параметры переигрывания DLQ.
// originFilter ограничивает переигрывание письмами из одного исходного topic,
// например только автоматическими обновлениями статусов.
type config struct {
	brokers      []string
	sourceTopic  string
	targetTopic  string
	originFilter string
	limit        int
	execute      bool
	fromNewest   bool
	idleTimeout  time.Duration
}

type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers []sarama.RecordHeader
}

// outboxDeadLetter — полезная нагрузка, которую outbox worker кладёт в DLQ.
type outboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return a.consumer.ConsumePartition(topic, partition, offset)
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig(args []string, lookup func(string) (string, bool)) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic for outbox events without original topic")
	fs.StringVar(&cfg.originFilter, "origin", "", "replay only letters whose original topic matches")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	fs.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw, _ = lookup(envKafkaBrokers)
	}

	cfg.brokers = parseBrokers(brokersRaw)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.originFilter = strings.TrimSpace(cfg.originFilter)
	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case cfg.sourceTopic == "":
		return config{}, errors.New("source-topic is required")
	case cfg.targetTopic == "":
		return config{}, errors.New("target-topic is required")
	case cfg.targetTopic == cfg.sourceTopic:
		return config{}, errors.New("target-topic must differ from source-topic")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"origin":       cfg.originFilter,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	_, err = runReplay(ctx, cfg, client, consumer, producer)
	return err
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) (replayStats, error) {
	var total replayStats
	if client == nil || consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}
		stats, err := processPartition(ctx, consumer, client, producer, cfg, partition, cfg.limit-total.processed)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return total, nil
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayProducer,
	cfg config,
	partition int32,
	limit int,
) (replayStats, error) {
	var stats replayStats

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.fromNewest && newest-int64(limit) > oldest {
		startOffset = newest - int64(limit)
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(cfg.idleTimeout)

			stats.processed++
			fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}

			replay, ok, err := extractReplayMessage(msg, cfg.targetTopic)
			switch {
			case err != nil:
				stats.skipped++
				log.WithError(err).WithFields(fields).Warn("skip malformed dlq message")
			case !ok, cfg.originFilter != "" && replay.topic != cfg.originFilter:
				stats.skipped++
			case cfg.execute:
				if err := publishReplay(producer, replay); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
				stats.replayed++
			default:
				fields["target_topic"] = replay.topic
				fields["key"] = replay.key
				log.WithFields(fields).Info("dlq replay candidate")
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}

	return stats, nil
}

func publishReplay(producer replayProducer, msg replayMessage) error {
	if producer == nil {
		return errors.New("producer is nil")
	}

	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Headers:   msg.headers,
		Timestamp: time.Now().UTC(),
	})
	return err
}

// extractReplayMessage восстанавливает исходное сообщение из письма DLQ.
// Письма consumer'а возвращаются в исходный topic с сохранением счётчика попыток;
// события outbox заново оборачиваются в конверт и уходят в defaultTopic.
// ok=false означает, что формат письма не распознан.
func extractReplayMessage(msg *sarama.ConsumerMessage, defaultTopic string) (replayMessage, bool, error) {
	var letter kafka.DeadLetter
	if err := json.Unmarshal(msg.Value, &letter); err == nil && letter.OriginalValue != "" {
		topic := strings.TrimSpace(letter.OriginalTopic)
		if topic == "" {
			topic = defaultTopic
		}
		var headers []sarama.RecordHeader
		for _, header := range msg.Headers {
			if header != nil && string(header.Key) == kafka.HeaderRetryCount {
				headers = append(headers, sarama.RecordHeader{Key: header.Key, Value: header.Value})
			}
		}
		return replayMessage{
			topic:   topic,
			key:     letter.OriginalKey,
			value:   []byte(letter.OriginalValue),
			headers: headers,
		}, true, nil
	}

	var envelope kafka.OutboxEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, false, nil
	}

	var dead outboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return replayMessage{}, false, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(dead.Payload) == 0 {
		return replayMessage{}, false, errors.New("outbox dlq payload does not contain original event payload")
	}

	replay := kafka.OutboxEnvelope{
		ID:            firstNonEmpty(dead.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, envelope.EventType),
		Payload:       dead.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	return replayMessage{
		topic: defaultTopic,
		key:   firstNonEmpty(replay.AggregateID, replay.ID),
		value: encoded,
		headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(replay.EventType)},
		},
	}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
