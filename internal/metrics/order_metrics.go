package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций над заказом для метки result.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// OrderMetrics содержит метрики жизненного цикла заказа и остатков.
type OrderMetrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	insufficientStock prometheus.Counter
	stockAdjustments  *prometheus.CounterVec
	outboxEnqueued    prometheus.Counter
}

// NewOrderMetrics регистрирует метрики в default registry.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer нужен тестам с изолированным registry.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		operations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_orders_total",
			Help: "Total number of order lifecycle operations by outcome",
		}, []string{"operation", "result"})),
		operationDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inventory_order_operation_duration_seconds",
			Help:    "Duration of order lifecycle operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"})),
		insufficientStock: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_stock_insufficient_total",
			Help: "Total number of stock decrements rejected for insufficient stock",
		})),
		stockAdjustments: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_stock_adjustments_total",
			Help: "Total number of stock adjustments by direction",
		}, []string{"direction"})),
		outboxEnqueued: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_outbox_enqueued_total",
			Help: "Total number of order events written to outbox",
		})),
	}
}

// register регистрирует коллектор; при повторной регистрации возвращает уже существующий.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// ObserveOperation фиксирует исход и длительность операции.
func (m *OrderMetrics) ObserveOperation(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordInsufficientStock увеличивает счётчик отказов по остатку.
func (m *OrderMetrics) RecordInsufficientStock() {
	if m == nil {
		return
	}
	m.insufficientStock.Inc()
}

// RecordStockAdjustment: direction = "increase" | "decrease".
func (m *OrderMetrics) RecordStockAdjustment(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.stockAdjustments.WithLabelValues(direction).Add(float64(n))
}

// RecordOutboxEnqueued увеличивает счётчик записанных в outbox событий.
func (m *OrderMetrics) RecordOutboxEnqueued() {
	if m == nil {
		return
	}
	m.outboxEnqueued.Inc()
}
