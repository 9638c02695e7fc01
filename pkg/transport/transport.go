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

// Package transport owns the duplex connection to the relay. It moves raw
// frames in both directions and knows nothing about the relay protocol.
package transport

import (
	"context"
	"errors"
)

// Close codes used when the client ends a session
const (
	CloseNormal      = 1000
	CloseGoingAway   = 1001
	CloseNoHeartbeat = 4000
)

// ErrClosed is returned by Send and Receive once the session has ended,
// whether closed locally or by the peer
var ErrClosed = errors.New("transport closed")

// Session is one open duplex connection to the relay.
//
// Send may be called concurrently with Receive. Receive must only be called
// from a single goroutine. Close is idempotent and unblocks a pending Receive.
type Session interface {
	// Send writes one frame
	Send(ctx context.Context, frame []byte) error

	// Receive blocks until the next frame arrives or the session ends
	Receive() ([]byte, error)

	// Close terminates the session with the given close code and reason
	Close(code int, reason string) error
}

// Dialer opens sessions to the relay
type Dialer interface {
	Dial(ctx context.Context, url string) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, url string) (Session, error)

// Dial calls f(ctx, url)
func (f DialerFunc) Dial(ctx context.Context, url string) (Session, error) {
	return f(ctx, url)
}
