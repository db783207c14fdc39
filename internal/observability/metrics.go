// Package observability holds the control plane's prometheus instrumentation.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/me/subarray/pkg/model"
)

// Metrics aggregates the control plane's counters and gauges. A nil
// *Metrics is valid and records nothing, so tests can omit it.
type Metrics struct {
	commands       *prometheus.CounterVec
	fanouts        *prometheus.CounterVec
	droppedBatches *prometheus.CounterVec
	obsState       *prometheus.GaugeVec
}

// New registers the metric families with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subarray_commands_total",
			Help: "Lifecycle commands processed, by command and result code.",
		}, []string{"command", "result"}),
		fanouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subarray_model_fanout_total",
			Help: "Model-update entries applied to the fleet, by model type.",
		}, []string{"model"}),
		droppedBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subarray_model_batches_dropped_total",
			Help: "Duplicate model documents dropped as no-ops, by model type.",
		}, []string{"model"}),
		obsState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "subarray_obs_state",
			Help: "Current observation state, numerically encoded.",
		}, []string{"subarray"}),
	}
	reg.MustRegister(m.commands, m.fanouts, m.droppedBatches, m.obsState)
	return m
}

// RecordCommand counts one lifecycle command result. result is "ok" or the
// error code.
func (m *Metrics) RecordCommand(command, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, result).Inc()
}

// RecordFanout counts one applied model-update entry.
func (m *Metrics) RecordFanout(modelType string) {
	if m == nil {
		return
	}
	m.fanouts.WithLabelValues(modelType).Inc()
}

// RecordDroppedBatch counts one duplicate model document dropped.
func (m *Metrics) RecordDroppedBatch(modelType string) {
	if m == nil {
		return
	}
	m.droppedBatches.WithLabelValues(modelType).Inc()
}

// SetObsState publishes a subarray's current state.
func (m *Metrics) SetObsState(subarrayID int, st model.ObsState) {
	if m == nil {
		return
	}
	m.obsState.WithLabelValues(strconv.Itoa(subarrayID)).Set(float64(st.Ordinal()))
}
