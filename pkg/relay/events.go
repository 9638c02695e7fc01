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
	"context"
	"encoding/json"
	"time"

	"github.com/shadstoneofficial/webhook-relay/pkg/protocol"
	"github.com/tidwall/gjson"
)

// Result is what a webhook handler asks the client to do with a delivery
type Result int

const (
	// Ack confirms the delivery. It is the zero value.
	Ack Result = iota
	// NoAck withholds the acknowledgment so the relay redelivers the event
	NoAck
)

// String returns the string representation of the result
func (r Result) String() string {
	switch r {
	case Ack:
		return "ack"
	case NoAck:
		return "no_ack"
	default:
		return "unknown"
	}
}

// WebhookHandler processes one delivered event. Returning a non-nil error
// (or panicking) withholds the acknowledgment and reports a *HandlerError.
type WebhookHandler func(ctx context.Context, event WebhookEvent) (Result, error)

// WebhookEvent is one delivery attempt handed to the application
type WebhookEvent struct {
	ID        string
	Timestamp int64 // relay clock, milliseconds
	Signature string
	Payload   json.RawMessage
}

// EventType returns the payload's "event" discriminator, or "" if absent
func (e WebhookEvent) EventType() string {
	return gjson.GetBytes(e.Payload, "event").String()
}

// Data returns the raw payload "data" member, or nil if absent
func (e WebhookEvent) Data() json.RawMessage {
	res := gjson.GetBytes(e.Payload, "data")
	if !res.Exists() {
		return nil
	}
	return json.RawMessage(res.Raw)
}

// Decode unmarshals the payload into v
func (e WebhookEvent) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

func newWebhookEvent(f protocol.Webhook) WebhookEvent {
	return WebhookEvent{
		ID:        f.ID,
		Timestamp: f.Timestamp,
		Signature: f.Signature,
		Payload:   f.Payload,
	}
}

// ConnectionInfo is passed to the connected callback after authentication
type ConnectionInfo struct {
	WebhookURL string
	SessionID  string
	Timestamp  int64
}

// DisconnectInfo describes why a session ended
type DisconnectInfo struct {
	Reason  string
	Message string

	// ReconnectAfter is the relay's requested delay before the next handshake.
	// Nil when the relay did not ask for one.
	ReconnectAfter *time.Duration
}

func newDisconnectInfo(f protocol.Disconnect) DisconnectInfo {
	info := DisconnectInfo{
		Reason:  f.Reason,
		Message: f.Message,
	}
	if info.Reason == "" {
		info.Reason = "unknown"
	}
	if f.ReconnectAfterMs != nil && *f.ReconnectAfterMs > 0 {
		d := time.Duration(*f.ReconnectAfterMs) * time.Millisecond
		info.ReconnectAfter = &d
	}
	return info
}

// ReconnectInfo describes a scheduled reconnect attempt
type ReconnectInfo struct {
	Attempt     int
	MaxAttempts *int // nil when unbounded
	Delay       time.Duration
}
