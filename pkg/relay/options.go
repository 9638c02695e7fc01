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

package relay

import (
	"time"

	"github.com/shadstoneofficial/webhook-relay/pkg/backoff"
	"github.com/shadstoneofficial/webhook-relay/pkg/transport"
	"go.uber.org/zap"
)

// Recorder receives client events for metrics. metrics.Recorder implements it.
type Recorder interface {
	StateChanged(from, to string)
	ReconnectAttempt()
	HeartbeatTimeout()
	FrameReceived(frameType string)
	WebhookDelivered(path, outcome string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) StateChanged(string, string)                    {}
func (nopRecorder) ReconnectAttempt()                              {}
func (nopRecorder) HeartbeatTimeout()                              {}
func (nopRecorder) FrameReceived(string)                           {}
func (nopRecorder) WebhookDelivered(string, string, time.Duration) {}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the client logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces the websocket dialer
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithJitter replaces the backoff jitter source
func WithJitter(j backoff.JitterSource) Option {
	return func(c *Client) {
		if j != nil {
			c.backoff.Jitter = j
		}
	}
}

// WithClock replaces time.Now for frame timestamps and heartbeat checks
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRecorder reports client events to r
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}
