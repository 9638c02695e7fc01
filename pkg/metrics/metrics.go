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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "relay_connector"
)

var (
	once     sync.Once
	registry *prometheus.Registry

	ConnectionState        GaugeVec
	ReconnectAttemptsTotal Counter
	HeartbeatTimeoutsTotal Counter
	FramesReceivedTotal    CounterVec

	WebhooksTotal          CounterVec
	HandlerDurationSeconds Histogram
	FallbackRequestsTotal  CounterVec

	Up Gauge
)

// initMetrics initializes all metric variables.
// This must be called after SetEnabled() to ensure proper noop behavior when disabled.
func initMetrics() {
	ConnectionState = newGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Relay session lifecycle state (1=current, 0=not current)",
		},
		[]string{"state"},
	)

	ReconnectAttemptsTotal = newCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnect attempts",
		},
	)

	HeartbeatTimeoutsTotal = newCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_timeouts_total",
			Help:      "Total number of sessions closed for missing pings",
		},
	)

	FramesReceivedTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of frames received from the relay",
		},
		[]string{"type"},
	)

	WebhooksTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Total number of webhook deliveries by path and outcome",
		},
		[]string{"path", "outcome"},
	)

	HandlerDurationSeconds = newHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Duration of webhook handler invocations",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	FallbackRequestsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_requests_total",
			Help:      "Total number of HTTP fallback requests by response status",
		},
		[]string{"status"},
	)

	Up = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "Whether the connector process is running",
		},
	)
}

func initRegistry() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	register(ConnectionState)
	register(ReconnectAttemptsTotal)
	register(HeartbeatTimeoutsTotal)
	register(FramesReceivedTotal)
	register(WebhooksTotal)
	register(HandlerDurationSeconds)
	register(FallbackRequestsTotal)
	register(Up)

	Up.Set(1)
}

// Init initializes the metrics registry with all collectors.
// This must be called after SetEnabled() has been called.
func Init() *prometheus.Registry {
	once.Do(func() {
		initMetrics()

		if !Enabled {
			registry = prometheus.NewRegistry()
			return
		}
		initRegistry()
	})

	return registry
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return Init()
	}
	return registry
}

// Recorder reports relay client events into the package metrics. The zero
// value is ready to use once Init has run.
type Recorder struct{}

// NewRecorder initializes the metrics (if not yet done) and returns a recorder
func NewRecorder() *Recorder {
	Init()
	return &Recorder{}
}

// StateChanged moves the connection state gauge from one state to another
func (Recorder) StateChanged(from, to string) {
	if from != "" {
		ConnectionState.WithLabelValues(from).Set(0)
	}
	ConnectionState.WithLabelValues(to).Set(1)
}

// ReconnectAttempt counts a scheduled reconnect
func (Recorder) ReconnectAttempt() {
	ReconnectAttemptsTotal.Inc()
}

// HeartbeatTimeout counts a liveness failure
func (Recorder) HeartbeatTimeout() {
	HeartbeatTimeoutsTotal.Inc()
}

// FrameReceived counts a received frame by type tag
func (Recorder) FrameReceived(frameType string) {
	FramesReceivedTotal.WithLabelValues(frameType).Inc()
}

// WebhookDelivered counts a delivery outcome and observes the handler duration
func (Recorder) WebhookDelivered(path, outcome string, d time.Duration) {
	WebhooksTotal.WithLabelValues(path, outcome).Inc()
	if d > 0 {
		HandlerDurationSeconds.Observe(d.Seconds())
	}
}
