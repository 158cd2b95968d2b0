package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestOrderMetrics_ObserveOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.ObserveOperation("create", ResultSuccess, 10*time.Millisecond)
	m.ObserveOperation("create", ResultSuccess, 20*time.Millisecond)
	m.ObserveOperation("create", ResultRejected, time.Millisecond)

	if got := counterValue(t, m.operations.WithLabelValues("create", ResultSuccess)); got != 2 {
		t.Fatalf("expected 2 successful creates, got %f", got)
	}
	if got := counterValue(t, m.operations.WithLabelValues("create", ResultRejected)); got != 1 {
		t.Fatalf("expected 1 rejected create, got %f", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "inventory_order_operation_duration_seconds" {
			found = true
			if got := f.GetMetric()[0].GetHistogram().GetSampleCount(); got != 3 {
				t.Fatalf("expected 3 duration samples, got %d", got)
			}
		}
	}
	if !found {
		t.Fatal("duration histogram not registered")
	}
}

func TestOrderMetrics_StockCounters(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordInsufficientStock()
	m.RecordStockAdjustment("decrease", 3)
	m.RecordStockAdjustment("decrease", 0)
	m.RecordOutboxEnqueued()

	if got := counterValue(t, m.insufficientStock); got != 1 {
		t.Fatalf("expected 1 insufficient stock, got %f", got)
	}
	if got := counterValue(t, m.stockAdjustments.WithLabelValues("decrease")); got != 3 {
		t.Fatalf("expected decrease=3, got %f", got)
	}
	if got := counterValue(t, m.outboxEnqueued); got != 1 {
		t.Fatalf("expected 1 enqueued, got %f", got)
	}
}

func TestOrderMetrics_NilSafe(t *testing.T) {
	var m *OrderMetrics
	m.ObserveOperation("create", ResultSuccess, time.Millisecond)
	m.RecordInsufficientStock()
	m.RecordStockAdjustment("increase", 1)
	m.RecordOutboxEnqueued()

	var h *HTTPMetrics
	h.Observe("GET", "/x", 200, time.Millisecond)
}

func TestRegister_ReturnsExistingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewOrderMetricsWithRegisterer(reg)
	second := NewOrderMetricsWithRegisterer(reg)

	first.RecordInsufficientStock()
	if got := counterValue(t, second.insufficientStock); got != 1 {
		t.Fatalf("expected shared collector, got %f", got)
	}
}

func TestHTTPMetrics_Observe(t *testing.T) {
	m := NewHTTPMetricsWithRegisterer(prometheus.NewRegistry())

	m.Observe("POST", "/api/orders", 201, 5*time.Millisecond)
	m.Observe("GET", "", 404, time.Millisecond)

	if got := counterValue(t, m.requests.WithLabelValues("POST", "/api/orders", "201")); got != 1 {
		t.Fatalf("expected 1 request, got %f", got)
	}
	if got := counterValue(t, m.requests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Fatalf("expected unmatched route label, got %f", got)
	}
}
