package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleMetrics содержит метрики движка заказов и валидатора ссылок.
type LifecycleMetrics struct {
	ordersCreated prometheus.Counter
	transitions   *prometheus.CounterVec
	refundUpdates *prometheus.CounterVec

	validations  *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	overrides    prometheus.Counter

	operationDuration *prometheus.HistogramVec
	outboxEnqueued    prometheus.Counter
}

// NewLifecycleMetrics регистрирует метрики в DefaultRegisterer.
func NewLifecycleMetrics() *LifecycleMetrics {
	return NewLifecycleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewLifecycleMetricsWithRegisterer нужен тестам с изолированным registry.
func NewLifecycleMetricsWithRegisterer(registerer prometheus.Registerer) *LifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LifecycleMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "forwarder_orders_created_total",
			Help: "Total number of orders created",
		}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "forwarder_order_transitions_total",
			Help: "Total number of order status transitions by target status and method",
		}, []string{"status", "method"}),
		refundUpdates: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "forwarder_refund_updates_total",
			Help: "Total number of refund sub-state changes by resulting status",
		}, []string{"status"}),
		validations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "forwarder_link_validations_total",
			Help: "Total number of link validations by risk level and support flag",
		}, []string{"risk_level", "supported"}),
		cacheLookups: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "forwarder_link_cache_lookups_total",
			Help: "Link validation cache lookups grouped by result",
		}, []string{"result"}),
		overrides: registerCounter(registerer, prometheus.CounterOpts{
			Name: "forwarder_link_overrides_total",
			Help: "Total number of admin overrides recorded for links",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "forwarder_engine_operation_duration_seconds",
			Help:    "Duration of order engine operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"operation", "result"}),
		outboxEnqueued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "forwarder_outbox_enqueued_total",
			Help: "Total number of order events written to the outbox",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		return alreadyRegistered[prometheus.Counter](err, opts.Name)
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		return alreadyRegistered[*prometheus.CounterVec](err, opts.Name)
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		return alreadyRegistered[*prometheus.HistogramVec](err, opts.Name)
	}
	return collector
}

// alreadyRegistered возвращает ранее зарегистрированный коллектор того же типа
// или паникует, как MustRegister.
func alreadyRegistered[T prometheus.Collector](err error, name string) T {
	are, ok := err.(prometheus.AlreadyRegisteredError)
	if !ok {
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
	}
	return existing
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *LifecycleMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordTransition фиксирует переход заказа в статус.
func (m *LifecycleMetrics) RecordTransition(status, method string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status, method).Inc()
}

// RecordRefundUpdate фиксирует изменение статуса возврата.
func (m *LifecycleMetrics) RecordRefundUpdate(status string) {
	if m == nil {
		return
	}
	m.refundUpdates.WithLabelValues(status).Inc()
}

// RecordValidation фиксирует результат классификации ссылки.
func (m *LifecycleMetrics) RecordValidation(riskLevel string, supported bool) {
	if m == nil {
		return
	}
	label := "false"
	if supported {
		label = "true"
	}
	m.validations.WithLabelValues(riskLevel, label).Inc()
}

// RecordCacheLookup фиксирует обращение к кешу: hit, miss, stale или error.
func (m *LifecycleMetrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordOverride увеличивает счётчик ручных решений по ссылкам.
func (m *LifecycleMetrics) RecordOverride() {
	if m == nil {
		return
	}
	m.overrides.Inc()
}

// RecordOperation записывает длительность операции движка.
func (m *LifecycleMetrics) RecordOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operationDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// RecordOutboxEnqueued увеличивает счётчик событий, записанных в outbox.
func (m *LifecycleMetrics) RecordOutboxEnqueued() {
	if m == nil {
		return
	}
	m.outboxEnqueued.Inc()
}
