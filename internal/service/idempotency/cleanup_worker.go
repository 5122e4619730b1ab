package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/forwarder/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	cleanupTarget           = "idempotency"
)

// ExpiredDeleter удаляет до limit записей с ttl <= before и возвращает их число.
type ExpiredDeleter interface {
	DeleteExpired(before time.Time, limit int) (int, error)
}

// CleanupOptions задает параметры воркера очистки idempotency ключей.
type CleanupOptions struct {
	Logger    *log.Entry
	Metrics   *metrics.CleanupMetrics
	Clock     func() time.Time
	Interval  time.Duration
	BatchSize int
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Logger = logger
	}
}

// WithMetrics включает метрики очистки.
func WithMetrics(m *metrics.CleanupMetrics) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Clock = clock
	}
}

// WithInterval задает интервал между cleanup-циклами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задает размер batch для одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.BatchSize = batchSize
	}
}

// CleanupWorker периодически удаляет просроченные idempotency записи.
type CleanupWorker struct {
	repo      ExpiredDeleter
	logger    *log.Entry
	metrics   *metrics.CleanupMetrics
	now       func() time.Time
	interval  time.Duration
	batchSize int
}

// NewCleanupWorker создает воркер очистки idempotency ключей.
func NewCleanupWorker(repo ExpiredDeleter, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}

	return &CleanupWorker{
		repo:      repo,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       clock,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	w.cleanup(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, w.now())
	if errors.Is(err, context.Canceled) {
		return
	}
	w.metrics.RecordRun(cleanupTarget, deleted, err)
	if err != nil {
		w.logger.WithError(err).Warn("idempotency cleanup run failed")
		return
	}
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("idempotency cleanup completed")
	}
}

// DeleteExpired удаляет все записи с ttl <= before порциями batchSize.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}

	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		deleted, err := w.repo.DeleteExpired(before, w.batchSize)
		if err != nil {
			return totalDeleted, err
		}

		totalDeleted += deleted
		w.metrics.RecordDeleted(cleanupTarget, deleted)

		if deleted < w.batchSize {
			return totalDeleted, nil
		}
	}
}
