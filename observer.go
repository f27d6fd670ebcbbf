package pgadapter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer reports adapter operations to Prometheus. Each adapter can share
// one Observer across session-bound copies.
type Observer struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewObserver creates the operation metrics and registers them with reg.
//
// Metrics:
//   - pgadapter_operations_total{operation, class, status}
//   - pgadapter_operation_duration_seconds{operation}
func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgadapter_operations_total",
				Help: "Total number of storage operations by outcome",
			},
			[]string{"operation", "class", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgadapter_operation_duration_seconds",
				Help:    "Duration of storage operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
	reg.MustRegister(o.operationsTotal, o.operationDuration)
	return o
}

// observe records one finished operation. Used internally by every adapter
// entry point; a nil receiver is a no-op so unwired adapters pay nothing.
func (o *Observer) observe(operation, class string, start time.Time, err error) {
	if o == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	o.operationsTotal.WithLabelValues(operation, class, status).Inc()
	o.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
