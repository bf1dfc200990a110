// SPDX-License-Identifier: MPL-2.0

// Package metrics collects probe and resolution counters for one installer
// run and writes them in the Prometheus text format, so a node exporter
// textfile collector can pick them up after the run.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters of a single run. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	probes        *prometheus.CounterVec
	probeAttempts prometheus.Counter
	resolutions   *prometheus.CounterVec
	steps         *prometheus.CounterVec
}

// New creates a Metrics backed by a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpi",
			Name:      "image_probes_total",
			Help:      "Image availability probes by outcome.",
		}, []string{"outcome"}),
		probeAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpi",
			Name:      "image_probe_attempts_total",
			Help:      "Registry round trips issued by the prober, including retries.",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpi",
			Name:      "image_resolutions_total",
			Help:      "Resolved image variables by source (primary, fallback, default).",
		}, []string{"source"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpi",
			Name:      "installer_steps_total",
			Help:      "Installer steps by result (completed, skipped, failed).",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.probes, m.probeAttempts, m.resolutions, m.steps)
	return m
}

// ProbeFinished counts one probe with its final outcome.
func (m *Metrics) ProbeFinished(outcome string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(outcome).Inc()
}

// ProbeAttempt counts one registry round trip.
func (m *Metrics) ProbeAttempt() {
	if m == nil {
		return
	}
	m.probeAttempts.Inc()
}

// Resolved counts one resolved variable by source.
func (m *Metrics) Resolved(source string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(source).Inc()
}

// Step counts one installer step by result.
func (m *Metrics) Step(result string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(result).Inc()
}

// Count returns the current value of the counter name (without the rtpi_
// namespace) whose single label equals label. An empty label selects an
// unlabelled counter. Unknown counters read as zero.
func (m *Metrics) Count(name, label string) float64 {
	if m == nil {
		return 0
	}
	families, err := m.registry.Gather()
	if err != nil {
		return 0
	}
	for _, mf := range families {
		if mf.GetName() != "rtpi_"+name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := metric.GetLabel()
			if (label == "" && len(labels) == 0) || (len(labels) == 1 && labels[0].GetValue() == label) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

// WriteFile writes all counters to path in the Prometheus text format. The
// file is replaced atomically.
func (m *Metrics) WriteFile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
