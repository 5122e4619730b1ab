package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics описывает публикацию событий заказа из outbox.
type OutboxMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	oldestPendingAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox-воркера.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OutboxMetrics{
		publishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "forwarder_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"}),
		pendingRecords: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "forwarder_outbox_pending_records",
			Help: "Current number of pending order events in the outbox.",
		}),
		oldestPendingAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "forwarder_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}),
	}
}

// RecordPublish фиксирует попытку публикации: sent, retry_error, failed, dlq_failed.
func (m *OutboxMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер очереди и возраст самого старого события.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.pendingRecords.Set(float64(pending))
	m.oldestPendingAge.Set(oldestAge.Seconds())
}

// CleanupMetrics описывает периодическое удаление просроченных записей.
type CleanupMetrics struct {
	runs        *prometheus.CounterVec
	deleted     *prometheus.CounterVec
	lastDeleted *prometheus.GaugeVec
}

// NewCleanupMetrics регистрирует метрики cleanup-воркеров; target различает хранилища.
func NewCleanupMetrics(registerer prometheus.Registerer) *CleanupMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CleanupMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "forwarder_cleanup_runs_total",
			Help: "Total number of cleanup runs grouped by target and result.",
		}, []string{"target", "result"}),
		deleted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "forwarder_cleanup_deleted_total",
			Help: "Total number of deleted expired records by target.",
		}, []string{"target"}),
		lastDeleted: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "forwarder_cleanup_last_deleted",
			Help: "Number of records deleted during the last cleanup run.",
		}, []string{"target"}),
	}
}

// RecordRun фиксирует завершённый цикл очистки.
func (m *CleanupMetrics) RecordRun(target string, deleted int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.runs.WithLabelValues(target, "error").Inc()
		return
	}
	m.runs.WithLabelValues(target, "ok").Inc()
	m.lastDeleted.WithLabelValues(target).Set(float64(deleted))
}

// RecordDeleted увеличивает счётчик удалённых записей.
func (m *CleanupMetrics) RecordDeleted(target string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.WithLabelValues(target).Add(float64(n))
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		return alreadyRegistered[prometheus.Gauge](err, opts.Name)
	}
	return collector
}

func registerGaugeVec(registerer prometheus.Registerer, opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	collector := prometheus.NewGaugeVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		return alreadyRegistered[*prometheus.GaugeVec](err, opts.Name)
	}
	return collector
}
