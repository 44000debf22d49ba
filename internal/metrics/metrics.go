// Package metrics exports admission and HTTP metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "enrollment"

// Metrics implements service.Recorder on Prometheus collectors. Offering ids
// are not used as labels.
type Metrics struct {
	admissions   *prometheus.CounterVec
	cancels      prometheus.Counter
	batchSize    prometheus.Histogram
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors on reg, reusing any already registered under
// the same names. A nil reg means the default registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Admission attempts by outcome.",
		}, []string{"outcome"}),
		cancels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Enrollments canceled.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Distinct offerings per batch request.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	var err error
	if m.admissions, err = register(reg, m.admissions); err != nil {
		return nil, err
	}
	if m.cancels, err = register(reg, m.cancels); err != nil {
		return nil, err
	}
	if m.batchSize, err = register(reg, m.batchSize); err != nil {
		return nil, err
	}
	if m.httpDuration, err = register(reg, m.httpDuration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

func (m *Metrics) RecordAdmission(_ context.Context, _ int64, outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCancel(context.Context, int64) {
	if m == nil {
		return
	}
	m.cancels.Inc()
}

func (m *Metrics) RecordBatch(_ context.Context, size int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(size))
}

// ObserveRequest records one HTTP request. route is the matched pattern, not
// the raw path.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
