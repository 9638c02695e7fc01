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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shadstoneofficial/webhook-relay/pkg/config"
	"github.com/shadstoneofficial/webhook-relay/pkg/transport"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const (
	testAPIKey = "sk_test_123"
	testURL    = "ws://relay.test/ws"
	frameWait  = 2 * time.Second
)

var (
	errDialRefused = errors.New("connection refused")
	fixedNow       = time.UnixMilli(1700000000000)
)

// fakeSession is an in-memory transport session driven by the test
type fakeSession struct {
	incoming  chan []byte
	sent      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	closeCode atomic.Int32
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		incoming: make(chan []byte, 64),
		sent:     make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (s *fakeSession) Send(_ context.Context, frame []byte) error {
	select {
	case <-s.closed:
		return transport.ErrClosed
	default:
	}
	s.sent <- append([]byte(nil), frame...)
	return nil
}

func (s *fakeSession) Receive() ([]byte, error) {
	// Queued frames are delivered before the close is observed
	select {
	case f := <-s.incoming:
		return f, nil
	default:
	}
	select {
	case f := <-s.incoming:
		return f, nil
	case <-s.closed:
		return nil, fmt.Errorf("%w: session closed", transport.ErrClosed)
	}
}

func (s *fakeSession) Close(code int, _ string) error {
	s.closeOnce.Do(func() {
		s.closeCode.Store(int32(code))
		close(s.closed)
	})
	return nil
}

// push queues a frame from the relay
func (s *fakeSession) push(t *testing.T, frame any) {
	t.Helper()
	var data []byte
	switch f := frame.(type) {
	case string:
		data = []byte(f)
	case []byte:
		data = f
	default:
		var err error
		data, err = json.Marshal(f)
		require.NoError(t, err)
	}
	s.incoming <- data
}

// next waits for the next frame the client sent
func (s *fakeSession) next(t *testing.T) []byte {
	t.Helper()
	select {
	case f := <-s.sent:
		return f
	case <-time.After(frameWait):
		t.Fatal("timed out waiting for a frame from the client")
		return nil
	}
}

// expectType waits for the next sent frame and checks its type tag
func (s *fakeSession) expectType(t *testing.T, typ string) gjson.Result {
	t.Helper()
	f := s.next(t)
	res := gjson.ParseBytes(f)
	require.Equal(t, typ, res.Get("type").String(), "unexpected frame %s", f)
	return res
}

func (s *fakeSession) waitClosed(t *testing.T) int {
	t.Helper()
	select {
	case <-s.closed:
		return int(s.closeCode.Load())
	case <-time.After(frameWait):
		t.Fatal("timed out waiting for the session to close")
		return 0
	}
}

// authenticate consumes the auth frame and answers with auth_success
func (s *fakeSession) authenticate(t *testing.T, sessionID string) {
	t.Helper()
	s.expectType(t, "auth")
	s.push(t, map[string]any{
		"type":        "auth_success",
		"webhook_url": "https://relay.test/hooks/" + sessionID,
		"session_id":  sessionID,
		"timestamp":   1000,
	})
}

// fakeDialer hands out queued sessions; a nil entry fails the dial
type fakeDialer struct {
	queue chan *fakeSession
	dials atomic.Int32
}

func newFakeDialer(sessions ...*fakeSession) *fakeDialer {
	d := &fakeDialer{queue: make(chan *fakeSession, 64)}
	for _, s := range sessions {
		d.queue <- s
	}
	return d
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (transport.Session, error) {
	d.dials.Add(1)
	select {
	case s := <-d.queue:
		if s == nil {
			return nil, errDialRefused
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// events captures every callback the client fires
type events struct {
	connected    chan ConnectionInfo
	disconnected chan DisconnectInfo
	reconnecting chan ReconnectInfo
	errs         chan error
	webhooks     chan WebhookEvent
}

func newEvents() *events {
	return &events{
		connected:    make(chan ConnectionInfo, 16),
		disconnected: make(chan DisconnectInfo, 16),
		reconnecting: make(chan ReconnectInfo, 16),
		errs:         make(chan error, 16),
		webhooks:     make(chan WebhookEvent, 16),
	}
}

func (e *events) register(c *Client) {
	c.OnConnected(func(info ConnectionInfo) { e.connected <- info })
	c.OnDisconnected(func(info DisconnectInfo) { e.disconnected <- info })
	c.OnReconnecting(func(info ReconnectInfo) { e.reconnecting <- info })
	c.OnError(func(err error) { e.errs <- err })
}

func receive[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(frameWait):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func testRelayConfig() config.RelayConfig {
	return config.RelayConfig{
		URL:               testURL,
		APIKey:            testAPIKey,
		ReconnectDelay:    20 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		AuthTimeout:       time.Second,
		HandshakeTimeout:  time.Second,
	}
}

// newTestClient builds a client on a fake dialer with a fixed clock and
// midpoint jitter, so backoff delays equal the capped exponential value
func newTestClient(t *testing.T, cfg config.RelayConfig, dialer transport.Dialer, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithDialer(dialer),
		WithClock(func() time.Time { return fixedNow }),
		WithJitter(func() float64 { return 0.5 }),
	}
	c, err := NewClient(cfg, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

// startClient runs Connect in the background and returns its result channel
func startClient(t *testing.T, c *Client) chan error {
	t.Helper()
	result := make(chan error, 1)
	go func() {
		result <- c.Connect(context.Background())
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), frameWait)
		defer cancel()
		_ = c.Disconnect(ctx)
	})
	return result
}

func intPtr(i int) *int { return &i }

// fakeRecorder keeps every observation the client reports
type fakeRecorder struct {
	mu          sync.Mutex
	transitions []string
	frames      []string
	deliveries  []string
	reconnects  int
	timeouts    int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{}
}

func (r *fakeRecorder) StateChanged(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+">"+to)
}

func (r *fakeRecorder) ReconnectAttempt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnects++
}

func (r *fakeRecorder) HeartbeatTimeout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts++
}

func (r *fakeRecorder) FrameReceived(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, kind)
}

func (r *fakeRecorder) WebhookDelivered(path, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, path+"/"+outcome)
}
