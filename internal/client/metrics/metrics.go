// Package metrics exports engine telemetry to Prometheus. A nil *Recorder is
// valid and records nothing.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"

	ReasonOrphan  = "orphan"
	ReasonReclaim = "reclaim"
)

type Recorder struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	uploadedBytes prometheus.Counter
	cacheRemovals *prometheus.CounterVec
	inflight      prometheus.Gauge
}

// New registers the engine metrics on reg (the default registerer when nil).
// Registering twice on the same registry reuses the existing collectors.
func New(namespace string, reg prometheus.Registerer) (*Recorder, error) {
	if namespace == "" {
		namespace = "mediasync"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of engine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes of media successfully uploaded.",
		}),
		cacheRemovals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_files_removed_total",
			Help:      "Cache files removed by the janitor.",
		}, []string{"reason"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uploads_in_flight",
			Help:      "Uploads currently transferring.",
		}),
	}

	var err error
	if r.operations, err = register(reg, r.operations); err != nil {
		return nil, err
	}
	if r.duration, err = register(reg, r.duration); err != nil {
		return nil, err
	}
	if r.uploadedBytes, err = register(reg, r.uploadedBytes); err != nil {
		return nil, err
	}
	if r.cacheRemovals, err = register(reg, r.cacheRemovals); err != nil {
		return nil, err
	}
	if r.inflight, err = register(reg, r.inflight); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// ObserveOperation records one finished operation.
func (r *Recorder) ObserveOperation(op string, d time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	r.operations.WithLabelValues(op, outcome).Inc()
	r.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (r *Recorder) AddUploadedBytes(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.uploadedBytes.Add(float64(n))
}

func (r *Recorder) AddCacheRemovals(reason string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.cacheRemovals.WithLabelValues(reason).Add(float64(n))
}

// UploadStarted increments the in-flight gauge; the returned func undoes it.
func (r *Recorder) UploadStarted() func() {
	if r == nil {
		return func() {}
	}
	r.inflight.Inc()
	return r.inflight.Dec
}
