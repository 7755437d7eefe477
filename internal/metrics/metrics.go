// Package metrics exports Prometheus metrics for the workflow service.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace   = "coauthor"
	opLabel     = "op"
	resultLabel = "result"
)

// Metrics holds the collectors the service reports to.
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal    *prometheus.CounterVec
	operationSeconds   *prometheus.HistogramVec
	documentsPublished prometheus.Counter
}

// NewMetrics creates a new instance of Metrics with its own registry.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	return &Metrics{
		registry: reg,
		operationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "operations_total",
			Help:      "The total number of workflow operations by result.",
		}, []string{opLabel, resultLabel}),
		operationSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "operation_seconds",
			Help:      "The time taken by workflow operations, including persistence.",
			Buckets:   prometheus.DefBuckets,
		}, []string{opLabel}),
		documentsPublished: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "published_total",
			Help:      "The total number of published document versions.",
		}),
	}, nil
}

// ObserveOperation records one workflow operation. result is a short error
// code, or "ok".
func (m *Metrics) ObserveOperation(op, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operationsTotal.With(prometheus.Labels{opLabel: op, resultLabel: result}).Inc()
	m.operationSeconds.With(prometheus.Labels{opLabel: op}).Observe(elapsed.Seconds())
}

func (m *Metrics) AddPublished() {
	if m == nil {
		return
	}
	m.documentsPublished.Inc()
}

// Registry returns the registry of Prometheus.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
