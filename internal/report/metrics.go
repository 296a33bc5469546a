// SPDX-License-Identifier: MPL-2.0

package report

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/invowk/pyfreeze/internal/modgraph"
)

// Metrics writes build metrics in the node exporter textfile format.
type Metrics struct {
	path string

	registry *prometheus.Registry
	nodes    *prometheus.GaugeVec
	edges    prometheus.Gauge
	findings *prometheus.GaugeVec
	duration prometheus.Gauge
}

// NewMetrics returns a sink writing to path.
func NewMetrics(path string) *Metrics {
	m := &Metrics{
		path:     path,
		registry: prometheus.NewRegistry(),
		nodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pyfreeze_nodes_total",
				Help: "Number of module graph nodes by kind.",
			},
			[]string{"kind"},
		),
		edges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pyfreeze_edges_total",
			Help: "Number of module graph edges.",
		}),
		findings: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pyfreeze_findings_total",
				Help: "Number of findings by code.",
			},
			[]string{"code"},
		),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pyfreeze_build_duration_seconds",
			Help: "Wall time of the last graph build.",
		}),
	}
	m.registry.MustRegister(m.nodes, m.edges, m.findings, m.duration)
	return m
}

// Registry exposes the collectors, e.g. to add scanner statistics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Report(_ context.Context, result *modgraph.Result) error {
	m.nodes.Reset()
	m.findings.Reset()
	for kind, count := range result.CountByKind() {
		m.nodes.WithLabelValues(kind.String()).Set(float64(count))
	}
	for _, f := range result.Findings {
		m.findings.WithLabelValues(f.Code).Inc()
	}
	m.edges.Set(float64(len(result.Graph.Edges())))
	m.duration.Set(result.Duration.Seconds())

	if err := prometheus.WriteToTextfile(m.path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
