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

// Package protocol defines the JSON frames exchanged with the relay over the
// streaming transport.
package protocol

import "encoding/json"

// Version is the protocol version announced in the auth frame
const Version = "1.0.0"

// Frame type tags
const (
	TypeAuth        = "auth"
	TypeAuthSuccess = "auth_success"
	TypeAuthError   = "auth_error"
	TypeWebhook     = "webhook"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeAck         = "ack"
	TypeError       = "error"
	TypeDisconnect  = "disconnect"
)

// Kind identifies a relay -> client frame variant
type Kind int

const (
	// KindUnknown is any frame whose type tag is not recognized
	KindUnknown Kind = iota
	KindAuthSuccess
	KindAuthError
	KindWebhook
	KindPing
	KindError
	KindDisconnect
)

// String returns the wire type tag of the kind
func (k Kind) String() string {
	switch k {
	case KindAuthSuccess:
		return TypeAuthSuccess
	case KindAuthError:
		return TypeAuthError
	case KindWebhook:
		return TypeWebhook
	case KindPing:
		return TypePing
	case KindError:
		return TypeError
	case KindDisconnect:
		return TypeDisconnect
	default:
		return "unknown"
	}
}

// Frame is a decoded relay -> client frame. The set of implementations is
// closed: AuthSuccess, AuthError, Webhook, Ping, Error, Disconnect and Unknown.
type Frame interface {
	Kind() Kind
	frame()
}

// AuthSuccess is sent by the relay once the api key has been accepted
type AuthSuccess struct {
	WebhookURL string `json:"webhook_url"`
	SessionID  string `json:"session_id"`
	Timestamp  int64  `json:"timestamp"`
}

// AuthError is sent by the relay when the api key is rejected
type AuthError struct {
	Message string `json:"message"`
}

// Webhook carries one delivery attempt
type Webhook struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Signature string          `json:"signature"`
	Payload   json.RawMessage `json:"payload"`
}

// Ping is the relay heartbeat
type Ping struct{}

// Error is a relay-originated error notification
type Error struct {
	Message string `json:"message"`
}

// Disconnect announces a server-initiated session end
type Disconnect struct {
	Reason           string `json:"reason"`
	Message          string `json:"message,omitempty"`
	ReconnectAfterMs *int64 `json:"reconnect_after_ms,omitempty"`
}

// Unknown is any frame with an unrecognized or missing type tag
type Unknown struct {
	Type string
	Raw  []byte
}

func (AuthSuccess) Kind() Kind { return KindAuthSuccess }
func (AuthError) Kind() Kind   { return KindAuthError }
func (Webhook) Kind() Kind     { return KindWebhook }
func (Ping) Kind() Kind        { return KindPing }
func (Error) Kind() Kind       { return KindError }
func (Disconnect) Kind() Kind  { return KindDisconnect }
func (Unknown) Kind() Kind     { return KindUnknown }

func (AuthSuccess) frame() {}
func (AuthError) frame()   {}
func (Webhook) frame()     {}
func (Ping) frame()        {}
func (Error) frame()       {}
func (Disconnect) frame()  {}
func (Unknown) frame()     {}

// AuthFrame authenticates the client at the start of a session
type AuthFrame struct {
	Type    string `json:"type"`
	APIKey  string `json:"api_key"`
	Version string `json:"version"`
}

// PongFrame answers a ping
type PongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// AckFrame confirms a webhook delivery
type AckFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// NewAuth builds the auth frame for apiKey
func NewAuth(apiKey string) AuthFrame {
	return AuthFrame{Type: TypeAuth, APIKey: apiKey, Version: Version}
}

// NewPong builds a pong frame stamped with timestampMs
func NewPong(timestampMs int64) PongFrame {
	return PongFrame{Type: TypePong, Timestamp: timestampMs}
}

// NewAck builds an ack frame for the delivery id
func NewAck(id string, timestampMs int64) AckFrame {
	return AckFrame{Type: TypeAck, ID: id, Timestamp: timestampMs}
}
