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

// Package heartbeat detects silently dead relay sessions.
package heartbeat

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TimeoutMultiplier is how many intervals may pass without a ping before the
// session is considered dead
const TimeoutMultiplier = 3

// ErrTimeout is returned by Run when no ping arrived within the timeout window
var ErrTimeout = errors.New("heartbeat timeout")

// Monitor tracks the time of the last ping received from the relay. Run
// checks it on every interval and invokes the timeout callback once the
// window is exceeded. The monitor never reconnects by itself.
type Monitor struct {
	interval  time.Duration
	timeout   time.Duration
	lastBeat  atomic.Int64 // unix nanos of the last ping
	onTimeout func()
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Monitor
type Option func(*Monitor)

// WithLogger sets the logger used for timeout warnings
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a monitor checking every interval. onTimeout is called at most
// once per Run, typically to force the transport closed.
func New(interval time.Duration, onTimeout func(), opts ...Option) *Monitor {
	m := &Monitor{
		interval:  interval,
		timeout:   TimeoutMultiplier * interval,
		onTimeout: onTimeout,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.Touch()
	return m
}

// Touch records a ping received now
func (m *Monitor) Touch() {
	m.lastBeat.Store(m.now().UnixNano())
}

// LastBeat returns the time of the last recorded ping
func (m *Monitor) LastBeat() time.Time {
	return time.Unix(0, m.lastBeat.Load())
}

// Timeout returns the liveness window
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// Expired reports whether the liveness window has been exceeded
func (m *Monitor) Expired() bool {
	return m.now().Sub(m.LastBeat()) > m.timeout
}

// Run blocks until ctx is cancelled (returns nil) or the liveness window is
// exceeded (calls onTimeout and returns ErrTimeout).
func (m *Monitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !m.Expired() {
				continue
			}

			m.logger.Warn("Heartbeat timeout detected",
				zap.Duration("time_since_last_heartbeat", m.now().Sub(m.LastBeat())),
				zap.Duration("timeout", m.timeout),
			)
			if m.onTimeout != nil {
				m.onTimeout()
			}
			return ErrTimeout
		}
	}
}
