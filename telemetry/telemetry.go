// Package telemetry exposes coordinator measurements as Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/veggerby/ignition"
)

// Sink records per-signal and aggregate measurements. It implements
// ignition.MetricsSink; register it with a Config and its metrics with a
// prometheus.Registerer.
type Sink struct {
	signalDuration *prometheus.HistogramVec
	signalTotal    *prometheus.CounterVec
	runDuration    prometheus.Histogram
	runTotal       *prometheus.CounterVec
}

// NewSink creates a sink and registers its metrics with reg.
func NewSink(reg prometheus.Registerer) (*Sink, error) {
	s := &Sink{
		signalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ignition",
			Name:      "signal_duration_seconds",
			Help:      "Wall-clock duration of signal execution by terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"signal", "status"}),
		signalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ignition",
			Name:      "signals_total",
			Help:      "Count of signal terminal classifications.",
		}, []string{"signal", "status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ignition",
			Name:      "run_duration_seconds",
			Help:      "Total wall-clock duration of coordination runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ignition",
			Name:      "runs_total",
			Help:      "Count of coordination runs by terminal state.",
		}, []string{"state"}),
	}

	for _, c := range []prometheus.Collector{s.signalDuration, s.signalTotal, s.runDuration, s.runTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ObserveSignal implements ignition.MetricsSink.
func (s *Sink) ObserveSignal(name string, status ignition.Status, duration time.Duration) {
	s.signalDuration.WithLabelValues(name, status.String()).Observe(duration.Seconds())
	s.signalTotal.WithLabelValues(name, status.String()).Inc()
}

// ObserveRun implements ignition.MetricsSink.
func (s *Sink) ObserveRun(state ignition.State, duration time.Duration) {
	s.runDuration.Observe(duration.Seconds())
	s.runTotal.WithLabelValues(state.String()).Inc()
}

var _ ignition.MetricsSink = (*Sink)(nil)
