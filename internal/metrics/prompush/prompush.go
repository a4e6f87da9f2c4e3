// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// It adapts the generic metrics.Backend interface to Prometheus by creating
// CounterVec and SummaryVec collectors on first use of each metric name and
// pushing the registry to a Pushgateway on Flush. Batch jobs like csvflow
// exit quickly, so a push model fits better than a scrape endpoint.
//
// All Prometheus-specific dependencies live here so the rest of the project
// depends only on metrics.Backend.
package prompush

import (
	"fmt"
	"sort"
	"sync"

	"csvflow/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	mu        sync.Mutex
	counters  map[string]*prometheus.CounterVec
	summaries map[string]*prometheus.SummaryVec
}

// NewBackend constructs a Pushgateway backend. jobName is the Pushgateway
// "job" grouping key; gatewayURL is the base URL of the gateway.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "csvflow"
	}
	return &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		counters:   map[string]*prometheus.CounterVec{},
		summaries:  map[string]*prometheus.SummaryVec{},
	}, nil
}

// labelKeys returns the sorted label names; Prometheus vectors need a stable
// label-name set per metric.
func labelKeys(labels metrics.Labels) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	b.mu.Lock()
	cv, ok := b.counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: name, Help: "csvflow counter " + name},
			labelKeys(labels),
		)
		if err := b.reg.Register(cv); err != nil {
			b.mu.Unlock()
			return
		}
		b.counters[name] = cv
	}
	b.mu.Unlock()
	cv.With(prometheus.Labels(labels)).Add(delta)
}

// ObserveHistogram implements metrics.Backend with a summary, matching the
// quantile-oriented dashboards this project uses.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	b.mu.Lock()
	sv, ok := b.summaries[name]
	if !ok {
		sv = prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       name,
				Help:       "csvflow summary " + name,
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
			labelKeys(labels),
		)
		if err := b.reg.Register(sv); err != nil {
			b.mu.Unlock()
			return
		}
		b.summaries[name] = sv
	}
	b.mu.Unlock()
	sv.With(prometheus.Labels(labels)).Observe(value)
}

// Flush pushes the whole registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push()
}
