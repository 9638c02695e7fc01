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
	"errors"
	"fmt"

	"github.com/shadstoneofficial/webhook-relay/pkg/heartbeat"
	"github.com/shadstoneofficial/webhook-relay/pkg/transport"
)

var (
	// ErrAuthenticationFailed matches any *AuthenticationError
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrAuthTimeout is returned when the relay does not answer the auth frame in time
	ErrAuthTimeout = errors.New("timed out waiting for auth response")

	// ErrTransportClosed marks network-level session termination
	ErrTransportClosed = transport.ErrClosed

	// ErrHeartbeatTimeout marks a session closed for missing pings
	ErrHeartbeatTimeout = heartbeat.ErrTimeout

	// ErrHandlerFailed matches any *HandlerError
	ErrHandlerFailed = errors.New("webhook handler failed")

	// ErrSignatureInvalid rejects a fallback delivery whose signature does not verify
	ErrSignatureInvalid = errors.New("invalid webhook signature")

	// ErrMalformedDelivery rejects a fallback delivery that cannot be parsed
	ErrMalformedDelivery = errors.New("malformed webhook delivery")

	// ErrNotAcknowledged is returned by the fallback path when the handler asked for redelivery
	ErrNotAcknowledged = errors.New("webhook not acknowledged")

	// ErrRetriesExhausted is returned once the reconnect bound has been reached
	ErrRetriesExhausted = errors.New("max reconnect attempts reached")

	// ErrAlreadyConnecting is returned by Connect while another Connect is running
	ErrAlreadyConnecting = errors.New("client is already connecting")
)

// AuthenticationError is the relay's rejection of the api key
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return ErrAuthenticationFailed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrAuthenticationFailed, e.Message)
}

// Is reports whether target is ErrAuthenticationFailed
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}

// HandlerError wraps a failure of the application webhook handler
type HandlerError struct {
	EventID string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s for event %s: %v", ErrHandlerFailed, e.EventID, e.Err)
}

// Unwrap exposes both ErrHandlerFailed and the handler's own error
func (e *HandlerError) Unwrap() []error {
	return []error{ErrHandlerFailed, e.Err}
}

// ServerError is an error notification sent by the relay
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "relay error"
	}
	return "relay error: " + e.Message
}

// sessionEnd ends the receive loop when the relay announces a disconnect
type sessionEnd struct {
	info DisconnectInfo
}

func (e *sessionEnd) Error() string {
	return "relay requested disconnect: " + e.info.Reason
}
