package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/veggerby/ignition"
)

// CoordinatorCollector is a custom prometheus.Collector that samples a
// coordinator's live state at scrape time.
type CoordinatorCollector struct {
	coord *ignition.Coordinator

	inFlight *prometheus.Desc
	state    *prometheus.Desc
	health   *prometheus.Desc
}

// NewCoordinatorCollector builds a collector for the given coordinator.
func NewCoordinatorCollector(coord *ignition.Coordinator) *CoordinatorCollector {
	return &CoordinatorCollector{
		coord: coord,
		inFlight: prometheus.NewDesc(
			"ignition_signals_in_flight",
			"Number of signals currently executing.",
			nil, nil,
		),
		state: prometheus.NewDesc(
			"ignition_coordinator_state",
			"Coordinator lifecycle state (one sample per state, value 1 for the current one).",
			[]string{"state"}, nil,
		),
		health: prometheus.NewDesc(
			"ignition_healthy",
			"1 when the run is terminal and fully healthy, 0 otherwise.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *CoordinatorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inFlight
	ch <- c.state
	ch <- c.health
}

// Collect implements prometheus.Collector.
func (c *CoordinatorCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(c.coord.InFlight()))

	current := c.coord.State()
	for _, s := range []ignition.State{
		ignition.StateNotStarted,
		ignition.StateRunning,
		ignition.StateCompleted,
		ignition.StateFailed,
		ignition.StateTimedOut,
	} {
		v := 0.0
		if s == current {
			v = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, s.String())
	}

	healthy := 0.0
	if c.coord.HealthCheck() == ignition.HealthHealthy {
		healthy = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.health, prometheus.GaugeValue, healthy)
}

var _ prometheus.Collector = (*CoordinatorCollector)(nil)
