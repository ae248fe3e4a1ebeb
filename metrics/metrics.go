// Copyright 2025 The go-lucid Authors
// This file is part of the go-lucid library.
//
// The go-lucid library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-lucid library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-lucid library. If not, see <http://www.gnu.org/licenses/>.

// Package metrics wraps the process-wide prometheus registry. Components
// create their instruments through the GetOrRegister-style constructors so
// repeated construction (tests, restarts) never double-registers.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lucid"

var (
	mu         sync.Mutex
	registry   = prometheus.NewRegistry()
	collectors = make(map[string]prometheus.Collector)
)

// Registry exposes the process registry; the metrics shell gathers from it.
func Registry() *prometheus.Registry { return registry }

// Handler returns an HTTP handler serving the registry in the prometheus
// exposition format. Mounting it is the outer shell's choice.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// NewCounter registers (or returns the existing) counter
// lucid_<subsystem>_<name>.
func NewCounter(subsystem, name, help string) prometheus.Counter {
	mu.Lock()
	defer mu.Unlock()
	key := "counter/" + subsystem + "/" + name
	if c, ok := collectors[key]; ok {
		return c.(prometheus.Counter)
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
	registry.MustRegister(c)
	collectors[key] = c
	return c
}

// NewGauge registers (or returns the existing) gauge
// lucid_<subsystem>_<name>.
func NewGauge(subsystem, name, help string) prometheus.Gauge {
	mu.Lock()
	defer mu.Unlock()
	key := "gauge/" + subsystem + "/" + name
	if g, ok := collectors[key]; ok {
		return g.(prometheus.Gauge)
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
	registry.MustRegister(g)
	collectors[key] = g
	return g
}

// NewHistogram registers (or returns the existing) histogram
// lucid_<subsystem>_<name> with default buckets.
func NewHistogram(subsystem, name, help string) prometheus.Histogram {
	mu.Lock()
	defer mu.Unlock()
	key := "histogram/" + subsystem + "/" + name
	if h, ok := collectors[key]; ok {
		return h.(prometheus.Histogram)
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
	registry.MustRegister(h)
	collectors[key] = h
	return h
}
