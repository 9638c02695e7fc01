/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Enabled indicates whether metrics collection is enabled.
// Set it once at startup via SetEnabled(), before Init().
var Enabled bool

// Counter is satisfied by prometheus.Counter and by the noop counter
type Counter interface {
	Inc()
	Add(float64)
}

// CounterVec is a labelled Counter family
type CounterVec interface {
	WithLabelValues(labels ...string) Counter
}

// Histogram is satisfied by prometheus.Histogram and by the noop histogram
type Histogram interface {
	Observe(float64)
}

// Gauge is satisfied by prometheus.Gauge and by the noop gauge
type Gauge interface {
	Set(float64)
}

// GaugeVec is a labelled Gauge family
type GaugeVec interface {
	WithLabelValues(labels ...string) Gauge
}

// Noop implementations, always safe to call

type noopCounter struct{}

func (noopCounter) Inc()        {}
func (noopCounter) Add(float64) {}

type noopCounterVec struct{}

func (noopCounterVec) WithLabelValues(...string) Counter { return noopCounter{} }

type noopHistogram struct{}

func (noopHistogram) Observe(float64) {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

type noopGaugeVec struct{}

func (noopGaugeVec) WithLabelValues(...string) Gauge { return noopGauge{} }

// counterVecWrapper adapts prometheus.CounterVec to CounterVec
type counterVecWrapper struct {
	*prometheus.CounterVec
}

func (c *counterVecWrapper) WithLabelValues(labels ...string) Counter {
	return c.CounterVec.WithLabelValues(labels...)
}

// gaugeVecWrapper adapts prometheus.GaugeVec to GaugeVec
type gaugeVecWrapper struct {
	*prometheus.GaugeVec
}

func (g *gaugeVecWrapper) WithLabelValues(labels ...string) Gauge {
	return g.GaugeVec.WithLabelValues(labels...)
}

// IsEnabled returns whether metrics collection is enabled
func IsEnabled() bool {
	return Enabled
}

// SetEnabled sets whether metrics collection is enabled.
// This must be called before Init() for proper effect.
func SetEnabled(e bool) {
	Enabled = e
}

func newCounterVec(opts prometheus.CounterOpts, labelNames []string) CounterVec {
	if Enabled {
		return &counterVecWrapper{prometheus.NewCounterVec(opts, labelNames)}
	}
	return noopCounterVec{}
}

func newCounter(opts prometheus.CounterOpts) Counter {
	if Enabled {
		return prometheus.NewCounter(opts)
	}
	return noopCounter{}
}

func newHistogram(opts prometheus.HistogramOpts) Histogram {
	if Enabled {
		return prometheus.NewHistogram(opts)
	}
	return noopHistogram{}
}

func newGauge(opts prometheus.GaugeOpts) Gauge {
	if Enabled {
		return prometheus.NewGauge(opts)
	}
	return noopGauge{}
}

func newGaugeVec(opts prometheus.GaugeOpts, labelNames []string) GaugeVec {
	if Enabled {
		return &gaugeVecWrapper{prometheus.NewGaugeVec(opts, labelNames)}
	}
	return noopGaugeVec{}
}

// register adds a real collector to the registry; noop values are skipped
func register(v any) {
	if !Enabled {
		return
	}
	var c prometheus.Collector
	switch m := v.(type) {
	case *counterVecWrapper:
		c = m.CounterVec
	case *gaugeVecWrapper:
		c = m.GaugeVec
	case prometheus.Collector:
		c = m
	default:
		return
	}
	if err := registry.Register(c); err != nil {
		// Already registered or other error - ignore
		return
	}
}
