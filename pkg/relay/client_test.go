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
	"errors"
	"testing"
	"time"

	"github.com/shadstoneofficial/webhook-relay/pkg/backoff"
	"github.com/shadstoneofficial/webhook-relay/pkg/config"
	"github.com/shadstoneofficial/webhook-relay/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Authenticated, "authenticated"},
		{Active, "active"},
		{Reconnecting, "reconnecting"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestNewClient(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		c, err := NewClient(config.RelayConfig{URL: testURL, APIKey: testAPIKey})
		require.NoError(t, err)

		assert.Equal(t, config.DefaultReconnectDelay, c.cfg.ReconnectDelay)
		assert.Equal(t, config.DefaultHeartbeatInterval, c.cfg.HeartbeatInterval)
		assert.Equal(t, config.DefaultAuthTimeout, c.cfg.AuthTimeout)
		assert.Equal(t, config.DefaultHandshakeTimeout, c.cfg.HandshakeTimeout)
		require.NotNil(t, c.cfg.AutoReconnect)
		assert.True(t, c.cfg.AutoReconnectEnabled(), "auto-reconnect is on unless disabled")
		assert.Nil(t, c.cfg.MaxReconnectAttempts)
		assert.Equal(t, Disconnected, c.State())
		assert.False(t, c.IsConnected())
		assert.NotNil(t, c.dialer)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		c, err := NewClient(config.RelayConfig{
			URL:            testURL,
			APIKey:         testAPIKey,
			AutoReconnect:  config.Bool(false),
			ReconnectDelay: time.Second,
		})
		require.NoError(t, err)

		assert.False(t, c.cfg.AutoReconnectEnabled())
		assert.Equal(t, time.Second, c.cfg.ReconnectDelay)
	})

	t.Run("requires url", func(t *testing.T) {
		_, err := NewClient(config.RelayConfig{APIKey: testAPIKey})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "relay.url")
	})

	t.Run("requires api key", func(t *testing.T) {
		_, err := NewClient(config.RelayConfig{URL: testURL})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "relay.api_key")
	})
}

func TestClient_AuthSuccessActivatesSession(t *testing.T) {
	s := newFakeSession()
	c := newTestClient(t, testRelayConfig(), newFakeDialer(s))
	ev := newEvents()
	ev.register(c)
	result := startClient(t, c)

	auth := s.expectType(t, "auth")
	assert.Equal(t, testAPIKey, auth.Get("api_key").String())
	assert.Equal(t, "1.0.0", auth.Get("version").String())

	s.push(t, `{"type":"auth_success","webhook_url":"https://x/y","session_id":"s1","timestamp":1000}`)

	info := receive(t, ev.connected, "connected callback")
	assert.Equal(t, ConnectionInfo{WebhookURL: "https://x/y", SessionID: "s1", Timestamp: 1000}, info)

	require.Eventually(t, c.IsConnected, frameWait, 5*time.Millisecond)
	sess := c.Session()
	assert.Equal(t, Active, sess.State)
	assert.Equal(t, "s1", sess.SessionID)
	assert.Equal(t, "https://x/y", sess.WebhookURL)
	assert.Equal(t, 0, sess.ReconnectAttempt)
	assert.True(t, sess.LastHeartbeat.Equal(fixedNow))
	assert.Equal(t, "https://x/y", c.WebhookURL())

	ctx, cancel := context.WithTimeout(context.Background(), frameWait)
	defer cancel()
	require.NoError(t, c.Disconnect(ctx))

	assert.Equal(t, transport.CloseNormal, s.waitClosed(t))
	assert.NoError(t, receive(t, result, "Connect to return"))
	assert.Equal(t, Disconnected, c.State())
	assert.Empty(t, c.WebhookURL())
	assert.Empty(t, ev.disconnected, "explicit disconnect does not fire the disconnected callback")
}

func TestClient_ConnectTwice(t *testing.T) {
	s := newFakeSession()
	c := newTestClient(t, testRelayConfig(), newFakeDialer(s))
	startClient(t, c)

	s.expectType(t, "auth")
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnecting)
}

func TestClient_DisconnectIdempotent(t *testing.T) {
	c := newTestClient(t, testRelayConfig(), newFakeDialer())

	ctx := context.Background()
	require.NoError(t, c.Disconnect(ctx))
	require.NoError(t, c.Disconnect(ctx))
	assert.Equal(t, Disconnected, c.State())
}

func TestClient_ContextCancelStopsConnect(t *testing.T) {
	c := newTestClient(t, testRelayConfig(), newFakeDialer())

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- c.Connect(ctx) }()

	// The dialer blocks until the context is cancelled
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := receive(t, result, "Connect to return")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Disconnected, c.State())
}

func TestClient_AuthErrorWithoutAutoReconnect(t *testing.T) {
	cfg := testRelayConfig()
	cfg.AutoReconnect = config.Bool(false)

	s := newFakeSession()
	c := newTestClient(t, cfg, newFakeDialer(s))
	ev := newEvents()
	ev.register(c)
	result := startClient(t, c)

	s.expectType(t, "auth")
	s.push(t, `{"type":"auth_error","message":"invalid api key"}`)

	err := receive(t, result, "Connect to return")
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid api key", authErr.Message)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	assert.ErrorIs(t, receive(t, ev.errs, "error callback"), ErrAuthenticationFailed)
	assert.Equal(t, Disconnected, c.State())
	s.waitClosed(t)
	assert.Empty(t, ev.reconnecting)
}

func TestClient_AuthTimeout(t *testing.T) {
	cfg := testRelayConfig()
	cfg.AutoReconnect = config.Bool(false)
	cfg.AuthTimeout = 30 * time.Millisecond

	s := newFakeSession()
	c := newTestClient(t, cfg, newFakeDialer(s))
	result := startClient(t, c)

	s.expectType(t, "auth")

	err := receive(t, result, "Connect to return")
	assert.ErrorIs(t, err, ErrAuthTimeout)
	s.waitClosed(t)
}

func TestClient_UnexpectedHandshakeFrame(t *testing.T) {
	cfg := testRelayConfig()
	cfg.AutoReconnect = config.Bool(false)

	s := newFakeSession()
	c := newTestClient(t, cfg, newFakeDialer(s))
	result := startClient(t, c)

	s.expectType(t, "auth")
	s.push(t, `{"type":"ping"}`)

	err := receive(t, result, "Connect to return")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected ping frame")
	assert.NotErrorIs(t, err, ErrAuthenticationFailed)
}

func TestClient_TransportClosedTriggersReconnect(t *testing.T) {
	s1, s2 := newFakeSession(), newFakeSession()
	c := newTestClient(t, testRelayConfig(), newFakeDialer(s1, s2))
	ev := newEvents()
	ev.register(c)
	startClient(t, c)

	s1.authenticate(t, "s1")
	receive(t, ev.connected, "first connected callback")

	// Relay drops the connection
	_ = s1.Close(1006, "abnormal closure")

	dis := receive(t, ev.disconnected, "disconnected callback")
	assert.Equal(t, ReasonConnectionClosed, dis.Reason)
	assert.Nil(t, dis.ReconnectAfter)

	rec := receive(t, ev.reconnecting, "reconnecting callback")
	assert.Equal(t, 1, rec.Attempt)
	assert.Nil(t, rec.MaxAttempts)
	assert.GreaterOrEqual(t, rec.Delay, 16*time.Millisecond)
	assert.LessOrEqual(t, rec.Delay, 24*time.Millisecond)

	// Counter stays at 1 through the next handshake until auth succeeds
	s2.expectType(t, "auth")
	assert.Equal(t, 1, c.Session().ReconnectAttempt)
	assert.Empty(t, c.Session().SessionID)

	s2.push(t, `{"type":"auth_success","webhook_url":"https://x/2","session_id":"s2","timestamp":2000}`)
	info := receive(t, ev.connected, "second connected callback")
	assert.Equal(t, "s2", info.SessionID)

	require.Eventually(t, c.IsConnected, frameWait, 5*time.Millisecond)
	assert.Equal(t, 0, c.Session().ReconnectAttempt)
}

func TestClient_ServerDisconnectUsesRequestedDelay(t *testing.T) {
	cfg := testRelayConfig()
	cfg.ReconnectDelay = time.Hour // the backoff value would never elapse

	s1, s2 := newFakeSession(), newFakeSession()
	c := newTestClient(t, cfg, newFakeDialer(s1, s2), WithJitter(func() float64 { return 1 }))
	ev := newEvents()
	ev.register(c)
	startClient(t, c)

	s1.authenticate(t, "s1")
	receive(t, ev.connected, "connected callback")

	s1.push(t, `{"type":"disconnect","reason":"maintenance","message":"deploying","reconnect_after_ms":150}`)

	dis := receive(t, ev.disconnected, "disconnected callback")
	disconnectedAt := time.Now()
	assert.Equal(t, "maintenance", dis.Reason)
	assert.Equal(t, "deploying", dis.Message)
	require.NotNil(t, dis.ReconnectAfter)
	assert.Equal(t, 150*time.Millisecond, *dis.ReconnectAfter)
	assert.Equal(t, transport.CloseNormal, s1.waitClosed(t))

	rec := receive(t, ev.reconnecting, "reconnecting callback")
	assert.Equal(t, 1, rec.Attempt)
	assert.Equal(t, 150*time.Millisecond, rec.Delay)

	s2.expectType(t, "auth")
	assert.GreaterOrEqual(t, time.Since(disconnectedAt), 140*time.Millisecond)
}

func TestClient_AttemptCounterResetsOnlyOnAuthSuccess(t *testing.T) {
	s1, s2 := newFakeSession(), newFakeSession()
	// dial failure, then an auth rejection, then success
	c := newTestClient(t, testRelayConfig(), newFakeDialer(nil, s1, s2))
	ev := newEvents()
	ev.register(c)
	startClient(t, c)

	assert.ErrorIs(t, receive(t, ev.errs, "dial error"), errDialRefused)
	rec := receive(t, ev.reconnecting, "first reconnect")
	assert.Equal(t, 1, rec.Attempt)
	assert.Equal(t, 20*time.Millisecond, rec.Delay)

	s1.expectType(t, "auth")
	s1.push(t, `{"type":"auth_error","message":"try again"}`)
	assert.ErrorIs(t, receive(t, ev.errs, "auth error"), ErrAuthenticationFailed)
	rec = receive(t, ev.reconnecting, "second reconnect")
	assert.Equal(t, 2, rec.Attempt)
	assert.Equal(t, 40*time.Millisecond, rec.Delay)

	s2.expectType(t, "auth")
	assert.Equal(t, 2, c.Session().ReconnectAttempt)

	s2.push(t, `{"type":"auth_success","webhook_url":"https://x/y","session_id":"s2","timestamp":1}`)
	receive(t, ev.connected, "connected callback")
	assert.Equal(t, 0, c.Session().ReconnectAttempt)

	// Nothing else during the session touches the counter
	s2.push(t, `{"type":"error","message":"noise"}`)
	receive(t, ev.errs, "server error")
	s2.push(t, `{"type":"ping"}`)
	s2.expectType(t, "pong")
	assert.Equal(t, 0, c.Session().ReconnectAttempt)
}

func TestClient_RetriesExhausted(t *testing.T) {
	cfg := testRelayConfig()
	cfg.MaxReconnectAttempts = intPtr(2)

	dialer := newFakeDialer(nil, nil, nil, nil)
	c := newTestClient(t, cfg, dialer)
	ev := newEvents()
	ev.register(c)
	result := startClient(t, c)

	err := receive(t, result, "Connect to return")
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, Disconnected, c.State())
	assert.Equal(t, int32(3), dialer.dials.Load())

	for i := 1; i <= 2; i++ {
		rec := receive(t, ev.reconnecting, "reconnecting callback")
		assert.Equal(t, i, rec.Attempt)
		require.NotNil(t, rec.MaxAttempts)
		assert.Equal(t, 2, *rec.MaxAttempts)
	}
	assert.Empty(t, ev.reconnecting)

	var last error
	for len(ev.errs) > 0 {
		last = <-ev.errs
	}
	assert.ErrorIs(t, last, ErrRetriesExhausted)
}

func TestClient_ZeroRetriesStopsAfterFirstFailure(t *testing.T) {
	cfg := testRelayConfig()
	cfg.MaxReconnectAttempts = intPtr(0)

	c := newTestClient(t, cfg, newFakeDialer(nil))
	ev := newEvents()
	ev.register(c)

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Empty(t, ev.reconnecting)
}

func TestClient_DisconnectInterruptsBackoff(t *testing.T) {
	cfg := testRelayConfig()
	cfg.ReconnectDelay = time.Hour

	c := newTestClient(t, cfg, newFakeDialer(nil))
	ev := newEvents()
	ev.register(c)
	result := startClient(t, c)

	rec := receive(t, ev.reconnecting, "reconnecting callback")
	assert.Equal(t, backoff.MaxDelay, rec.Delay)
	require.Eventually(t, func() bool { return c.State() == Reconnecting }, frameWait, 5*time.Millisecond)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), frameWait)
	defer cancel()
	require.NoError(t, c.Disconnect(ctx))

	assert.NoError(t, receive(t, result, "Connect to return"))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Disconnected, c.State())
}

func TestClient_SessionEndWithoutAutoReconnect(t *testing.T) {
	cfg := testRelayConfig()
	cfg.AutoReconnect = config.Bool(false)

	s := newFakeSession()
	dialer := newFakeDialer(s)
	c := newTestClient(t, cfg, dialer)
	ev := newEvents()
	ev.register(c)
	result := startClient(t, c)

	s.authenticate(t, "s1")
	receive(t, ev.connected, "connected callback")
	_ = s.Close(1006, "gone")

	assert.Equal(t, ReasonConnectionClosed, receive(t, ev.disconnected, "disconnected callback").Reason)
	assert.NoError(t, receive(t, result, "Connect to return"))
	assert.Equal(t, Disconnected, c.State())
	assert.Equal(t, int32(1), dialer.dials.Load())
	assert.Empty(t, ev.reconnecting)
}

func TestClient_HeartbeatTimeoutClosesTransport(t *testing.T) {
	cfg := testRelayConfig()
	cfg.AutoReconnect = config.Bool(false)
	cfg.HeartbeatInterval = 20 * time.Millisecond

	s := newFakeSession()
	// Real clock so the liveness window can elapse
	c, err := NewClient(cfg, WithDialer(newFakeDialer(s)))
	require.NoError(t, err)
	ev := newEvents()
	ev.register(c)
	result := startClient(t, c)

	s.authenticate(t, "s1")
	receive(t, ev.connected, "connected callback")

	assert.Equal(t, transport.CloseNoHeartbeat, s.waitClosed(t))

	hbErr := receive(t, ev.errs, "heartbeat error")
	assert.ErrorIs(t, hbErr, ErrHeartbeatTimeout)

	dis := receive(t, ev.disconnected, "disconnected callback")
	assert.Equal(t, ReasonHeartbeatTimeout, dis.Reason)
	assert.Equal(t, hbErr.Error(), dis.Message)
	assert.NoError(t, receive(t, result, "Connect to return"))
}

func TestClient_PingAnsweredWithPong(t *testing.T) {
	s := newFakeSession()
	c := newTestClient(t, testRelayConfig(), newFakeDialer(s))
	startClient(t, c)
	s.authenticate(t, "s1")

	s.push(t, `{"type":"ping"}`)
	pong := s.expectType(t, "pong")
	assert.Equal(t, fixedNow.UnixMilli(), pong.Get("timestamp").Int())
	assert.True(t, c.Session().LastHeartbeat.Equal(fixedNow))
}

func TestClient_UnknownFramesAreInert(t *testing.T) {
	s := newFakeSession()
	c := newTestClient(t, testRelayConfig(), newFakeDialer(s))
	ev := newEvents()
	ev.register(c)
	startClient(t, c)

	s.authenticate(t, "s1")
	receive(t, ev.connected, "connected callback")
	require.Eventually(t, c.IsConnected, frameWait, 5*time.Millisecond)
	before := c.Session()

	s.push(t, `{"type":"mystery","data":1}`)
	s.push(t, `{"no_type":true}`)
	s.push(t, `{"type":"ping"}`)

	// Frames are handled in order, so the pong proves the unknown frames were processed
	s.expectType(t, "pong")
	assert.Equal(t, before, c.Session())
	assert.Empty(t, ev.errs)
	assert.Empty(t, ev.disconnected)
}

func TestClient_MalformedFrameReported(t *testing.T) {
	s := newFakeSession()
	c := newTestClient(t, testRelayConfig(), newFakeDialer(s))
	ev := newEvents()
	ev.register(c)
	startClient(t, c)
	s.authenticate(t, "s1")

	s.push(t, `{not json`)
	s.push(t, `{"type":"webhook","timestamp":1}`)
	s.push(t, `{"type":"ping"}`)
	s.expectType(t, "pong")

	assert.Len(t, ev.errs, 2)
	assert.Equal(t, Active, c.State())
}

func TestClient_ServerErrorReported(t *testing.T) {
	s := newFakeSession()
	c := newTestClient(t, testRelayConfig(), newFakeDialer(s))
	ev := newEvents()
	ev.register(c)
	startClient(t, c)
	s.authenticate(t, "s1")

	s.push(t, `{"type":"error","message":"rate limited"}`)

	err := receive(t, ev.errs, "error callback")
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "rate limited", serverErr.Message)
	assert.Equal(t, "relay error: rate limited", err.Error())
}

func TestClient_RecorderSeesLifecycle(t *testing.T) {
	rec := newFakeRecorder()
	s := newFakeSession()
	c := newTestClient(t, testRelayConfig(), newFakeDialer(s), WithRecorder(rec))
	c.OnWebhook(func(context.Context, WebhookEvent) (Result, error) { return Ack, nil })
	startClient(t, c)

	s.authenticate(t, "s1")
	s.push(t, `{"type":"webhook","id":"evt_1","timestamp":1,"signature":"","payload":{}}`)
	s.expectType(t, "ack")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"disconnected>connecting", "connecting>authenticated", "authenticated>active"}, rec.transitions)
	assert.Equal(t, []string{"auth_success", "webhook"}, rec.frames)
	assert.Equal(t, []string{"stream/acked"}, rec.deliveries)
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	herr := &HandlerError{EventID: "evt_1", Err: errors.New("boom")}
	assert.ErrorIs(t, herr, ErrHandlerFailed)
	assert.Contains(t, herr.Error(), "evt_1")

	assert.ErrorIs(t, ErrTransportClosed, transport.ErrClosed)
	assert.Equal(t, "authentication failed", (&AuthenticationError{}).Error())
	assert.Equal(t, "relay requested disconnect: maintenance", (&sessionEnd{info: DisconnectInfo{Reason: "maintenance"}}).Error())
}

func TestClient_MinimalConfigReconnects(t *testing.T) {
	cfg := config.RelayConfig{URL: testURL, APIKey: testAPIKey, ReconnectDelay: 20 * time.Millisecond}

	s1, s2 := newFakeSession(), newFakeSession()
	c := newTestClient(t, cfg, newFakeDialer(s1, s2))
	ev := newEvents()
	ev.register(c)
	startClient(t, c)

	s1.authenticate(t, "s1")
	receive(t, ev.connected, "connected callback")
	_ = s1.Close(1006, "gone")

	assert.Equal(t, 1, receive(t, ev.reconnecting, "reconnecting callback").Attempt)
	s2.expectType(t, "auth")
}

func TestClient_AttemptCounterCarriesAcrossConnect(t *testing.T) {
	t.Run("after disconnect during backoff", func(t *testing.T) {
		cfg := testRelayConfig()
		cfg.ReconnectDelay = time.Hour

		c := newTestClient(t, cfg, newFakeDialer(nil, nil))
		ev := newEvents()
		ev.register(c)

		result := startClient(t, c)
		assert.Equal(t, 1, receive(t, ev.reconnecting, "first reconnect").Attempt)

		ctx, cancel := context.WithTimeout(context.Background(), frameWait)
		defer cancel()
		require.NoError(t, c.Disconnect(ctx))
		require.NoError(t, receive(t, result, "Connect to return"))
		assert.Equal(t, 1, c.Session().ReconnectAttempt)

		startClient(t, c)
		assert.Equal(t, 2, receive(t, ev.reconnecting, "reconnect after second Connect").Attempt)
	})

	t.Run("after exhaustion", func(t *testing.T) {
		cfg := testRelayConfig()
		cfg.MaxReconnectAttempts = intPtr(1)

		dialer := newFakeDialer(nil, nil, nil)
		c := newTestClient(t, cfg, dialer)
		ev := newEvents()
		ev.register(c)

		require.ErrorIs(t, c.Connect(context.Background()), ErrRetriesExhausted)
		assert.Equal(t, 1, c.Session().ReconnectAttempt)
		receive(t, ev.reconnecting, "only reconnect")

		err := c.Connect(context.Background())
		require.ErrorIs(t, err, ErrRetriesExhausted)
		assert.Contains(t, err.Error(), "(1 attempts)")
		assert.Equal(t, int32(3), dialer.dials.Load())
		assert.Empty(t, ev.reconnecting, "the bound still applies without a successful auth")
	})
}

func TestClient_DisconnectFromCallback(t *testing.T) {
	tests := []struct {
		name    string
		install func(c *Client, stop func())
		trigger func(t *testing.T, s *fakeSession)
	}{
		{
			name: "webhook handler",
			install: func(c *Client, stop func()) {
				c.OnWebhook(func(context.Context, WebhookEvent) (Result, error) {
					stop()
					return Ack, nil
				})
			},
			trigger: func(t *testing.T, s *fakeSession) {
				s.authenticate(t, "s1")
				s.push(t, `{"type":"webhook","id":"evt_1","timestamp":1,"payload":{}}`)
			},
		},
		{
			name: "connected callback",
			install: func(c *Client, stop func()) {
				c.OnConnected(func(ConnectionInfo) { stop() })
			},
			trigger: func(t *testing.T, s *fakeSession) {
				s.authenticate(t, "s1")
			},
		},
		{
			name: "disconnected callback",
			install: func(c *Client, stop func()) {
				c.OnDisconnected(func(DisconnectInfo) { stop() })
			},
			trigger: func(t *testing.T, s *fakeSession) {
				s.authenticate(t, "s1")
				s.push(t, `{"type":"disconnect","reason":"maintenance"}`)
			},
		},
		{
			name: "error callback",
			install: func(c *Client, stop func()) {
				c.OnError(func(error) { stop() })
			},
			trigger: func(t *testing.T, s *fakeSession) {
				s.authenticate(t, "s1")
				s.push(t, `{"type":"error","message":"stop"}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeSession()
			dialer := newFakeDialer(s)
			c := newTestClient(t, testRelayConfig(), dialer)

			stopped := make(chan error, 1)
			tt.install(c, func() { stopped <- c.Disconnect(context.Background()) })
			result := startClient(t, c)

			tt.trigger(t, s)

			assert.NoError(t, receive(t, stopped, "Disconnect to return inside the callback"))
			assert.NoError(t, receive(t, result, "Connect to return"))
			assert.Equal(t, Disconnected, c.State())
			assert.Equal(t, int32(1), dialer.dials.Load(), "no reconnect after a requested stop")
		})
	}
}
