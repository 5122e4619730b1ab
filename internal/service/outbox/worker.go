package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
	"github.com/vladislavdragonenkov/forwarder/internal/metrics"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	Metrics        *metrics.OutboxMetrics
	DLQPublisher   domain.OutboxPublisher
	Clock          func() time.Time
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithMetrics включает метрики публикации и backlog.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(opts *WorkerOptions) {
		opts.Metrics = m
	}
}

// WithDLQPublisher задаёт publisher для событий, которые не удалось опубликовать.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *WorkerOptions) {
		opts.Clock = clock
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток публикации перед failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт начальную паузу; дальше она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.RetryBaseDelay = delay
	}
}

// Summary — итог одного цикла опроса.
type Summary struct {
	Pulled int
	Sent   int
	Failed int
}

// Worker переносит события заказов из outbox в брокер.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlqPublisher   domain.OutboxPublisher
	logger         *log.Entry
	metrics        *metrics.OutboxMetrics
	now            func() time.Time
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}

	return &Worker{
		repo:           repo,
		publisher:      publisher,
		dlqPublisher:   opts.DLQPublisher,
		logger:         logger,
		metrics:        opts.Metrics,
		now:            clock,
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
	}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce публикует один батч pending-событий.
// Событие, не опубликованное за maxAttempts, помечается failed и уходит в DLQ, если он задан.
func (w *Worker) ProcessOnce(ctx context.Context) Summary {
	var summary Summary
	if ctx.Err() != nil {
		return summary
	}

	events, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return summary
	}
	summary.Pulled = len(events)

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}

		fields := log.Fields{
			"outbox_id":  event.ID,
			"order_id":   event.AggregateID,
			"event_type": event.EventType,
		}

		if err := w.publishWithRetry(ctx, event); err != nil {
			if ctx.Err() != nil {
				break
			}
			summary.Failed++
			w.metrics.RecordPublish("failed")
			w.logger.WithError(err).WithFields(fields).Error("outbox publish failed after retries")

			if dlqErr := w.publishToDLQ(event, err); dlqErr != nil {
				w.metrics.RecordPublish("dlq_failed")
				w.logger.WithError(dlqErr).WithFields(fields).Warn("failed to publish to DLQ")
			}
			if markErr := w.repo.MarkFailed(event.ID); markErr != nil {
				w.logger.WithError(markErr).WithFields(fields).Warn("failed to mark outbox as failed")
			}
			continue
		}

		summary.Sent++
		if err := w.repo.MarkSent(event.ID); err != nil {
			w.logger.WithError(err).WithFields(fields).Warn("failed to mark outbox as sent")
		}
	}

	w.refreshBacklog()
	if summary.Pulled > 0 {
		w.logger.WithFields(log.Fields{
			"pulled": summary.Pulled,
			"sent":   summary.Sent,
			"failed": summary.Failed,
		}).Debug("outbox batch processed")
	}
	return summary
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.publisher.Publish(event)
		if err == nil {
			w.metrics.RecordPublish("sent")
			return nil
		}
		lastErr = err
		w.metrics.RecordPublish("retry_error")

		if attempt == w.maxAttempts {
			break
		}

		delay := w.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", domain.ErrOutboxPublish, w.maxAttempts, lastErr)
}

func (w *Worker) refreshBacklog() {
	if w.metrics == nil {
		return
	}

	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetBacklog(stats.PendingCount, age)
}

// retryBackoff: base, 2*base, 4*base... не больше maxRetryDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

type deadLetterPayload struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

func (w *Worker) publishToDLQ(event domain.OutboxMessage, publishErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(deadLetterPayload{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		PublishError:   publishErr.Error(),
		DLQPublishedAt: w.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dlqEvent := domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
	}
	if err := w.dlqPublisher.Publish(dlqEvent); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
