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

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	closeWriteTimeout       = time.Second
)

// WebSocketConfig configures the websocket dialer
type WebSocketConfig struct {
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	InsecureSkipVerify bool
	Header             http.Header
}

// WebSocketDialer dials relay sessions with gorilla/websocket
type WebSocketDialer struct {
	config WebSocketConfig
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer, filling in default timeouts
func NewWebSocketDialer(cfg WebSocketConfig) *WebSocketDialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	return &WebSocketDialer{
		config: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify,
			},
		},
	}
}

// Dial opens a websocket session to url
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Session, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, d.config.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return NewWebSocketSession(conn, d.config.WriteTimeout), nil
}

// WebSocketSession implements Session on top of a gorilla/websocket connection
type WebSocketSession struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex // serialises all conn writes
	mu      sync.Mutex
	closed  bool
}

// NewWebSocketSession wraps an established connection
func NewWebSocketSession(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketSession {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WebSocketSession{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// Send writes frame as a text message
func (s *WebSocketSession) Send(ctx context.Context, frame []byte) error {
	if s.isClosed() {
		return ErrClosed
	}

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if s.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}

// Receive returns the payload of the next text or binary message
func (s *WebSocketSession) Receive() ([]byte, error) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close frame and closes the connection. Calling it more than
// once is a no-op.
func (s *WebSocketSession) Close(code int, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	closeMsg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(closeWriteTimeout))
	return s.conn.Close()
}

func (s *WebSocketSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
