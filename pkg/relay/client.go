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

// Package relay keeps a persistent session to a webhook relay, hands each
// delivered event to the application and acknowledges it according to the
// handler's outcome.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shadstoneofficial/webhook-relay/pkg/backoff"
	"github.com/shadstoneofficial/webhook-relay/pkg/config"
	"github.com/shadstoneofficial/webhook-relay/pkg/heartbeat"
	"github.com/shadstoneofficial/webhook-relay/pkg/protocol"
	"github.com/shadstoneofficial/webhook-relay/pkg/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State represents the session lifecycle state
type State int

const (
	// Disconnected state - initial and terminal
	Disconnected State = iota
	// Connecting state - dialing and waiting for the auth response
	Connecting
	// Authenticated state - auth accepted, session not yet streaming
	Authenticated
	// Active state - receiving frames, heartbeat running
	Active
	// Reconnecting state - waiting out the delay before the next handshake
	Reconnecting
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Active:
		return "active"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Disconnect reasons produced by the client itself. Server-initiated
// disconnects carry the relay's own reason.
const (
	ReasonConnectionClosed = "connection_closed"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
)

// Session is a snapshot of the live connection context
type Session struct {
	State            State
	SessionID        string
	WebhookURL       string
	ReconnectAttempt int
	LastHeartbeat    time.Time // zero until the first auth success
}

type callbacks struct {
	webhook      WebhookHandler
	connected    func(ConnectionInfo)
	disconnected func(DisconnectInfo)
	reconnecting func(ReconnectInfo)
	err          func(error)
}

// Client manages the streaming session to the relay
type Client struct {
	cfg      config.RelayConfig
	logger   *zap.Logger
	dialer   transport.Dialer
	backoff  *backoff.Calculator
	now      func() time.Time
	recorder Recorder

	cbMu sync.RWMutex
	cb   callbacks

	connecting    atomic.Bool
	inCallback    atomic.Int32 // callbacks currently running
	lastHeartbeat atomic.Int64 // unix nanos of the last ping

	mu         sync.Mutex // protects the fields below
	state      State
	sessionID  string
	webhookURL string
	attempt    int
	conn       transport.Session
	cancel     context.CancelFunc
	done       chan struct{}
	stopped    bool
}

// NewClient creates a relay client. Unset fields of cfg take the values of
// config.Default(), so auto-reconnect is on unless explicitly disabled. URL
// and API key are required.
func NewClient(cfg config.RelayConfig, opts ...Option) (*Client, error) {
	defaults := config.Default().Relay
	if cfg.AutoReconnect == nil {
		cfg.AutoReconnect = defaults.AutoReconnect
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaults.ReconnectDelay
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaults.AuthTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relay configuration: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		logger:   zap.NewNop(),
		backoff:  backoff.NewCalculator(cfg.ReconnectDelay),
		now:      time.Now,
		recorder: nopRecorder{},
		state:    Disconnected,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.dialer == nil {
		c.dialer = transport.NewWebSocketDialer(transport.WebSocketConfig{
			HandshakeTimeout:   cfg.HandshakeTimeout,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		})
	}

	if cfg.InsecureSkipVerify {
		c.logger.Debug("TLS certificate verification disabled (insecure_skip_verify=true)")
	}

	return c, nil
}

// OnWebhook registers the delivery handler. The last registration wins.
func (c *Client) OnWebhook(h WebhookHandler) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cb.webhook = h
}

// OnConnected registers the callback fired after each successful authentication
func (c *Client) OnConnected(fn func(ConnectionInfo)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cb.connected = fn
}

// OnDisconnected registers the callback fired when an established session ends
func (c *Client) OnDisconnected(fn func(DisconnectInfo)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cb.disconnected = fn
}

// OnReconnecting registers the callback fired before each reconnect delay
func (c *Client) OnReconnecting(fn func(ReconnectInfo)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cb.reconnecting = fn
}

// OnError registers the callback receiving relay, handler and lifecycle errors
func (c *Client) OnError(fn func(error)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cb.err = fn
}

func (c *Client) callbacks() callbacks {
	c.cbMu.RLock()
	defer c.cbMu.RUnlock()
	return c.cb
}

// Connect opens the session and blocks until it ends for good: after
// Disconnect (nil), when ctx is cancelled (ctx.Err()), when the reconnect
// bound is reached (ErrRetriesExhausted) or, with auto-reconnect disabled,
// when the single session ends. An auth_error answer with auto-reconnect
// disabled returns an *AuthenticationError.
//
// The reconnect attempt counter carries over between calls; only a
// successful authentication resets it.
func (c *Client) Connect(ctx context.Context) error {
	if !c.connecting.CompareAndSwap(false, true) {
		return ErrAlreadyConnecting
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.stopped = false
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	defer func() {
		cancel()
		c.connecting.Store(false)
		close(done)
	}()

	c.logger.Info("Starting relay client",
		zap.String("url", c.cfg.URL),
		zap.Bool("auto_reconnect", c.cfg.AutoReconnectEnabled()),
	)

	return c.run(runCtx)
}

// Disconnect stops the client: no further reconnects, the running session
// (or backoff sleep) is cancelled and awaited, and the transport is closed
// with a normal close frame. Calling it more than once is a no-op.
//
// Called from inside a callback, Disconnect only requests the stop and
// returns without waiting; Connect returns once the callback has finished.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	alreadyStopped := c.stopped
	c.stopped = true
	cancel, done, conn := c.cancel, c.done, c.conn
	c.mu.Unlock()

	if !alreadyStopped {
		c.logger.Info("Disconnecting from relay")
	}

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		// Unblocks the receive loop
		_ = conn.Close(transport.CloseNormal, "client disconnect")
	}

	if c.inCallback.Load() > 0 {
		// The session cannot finish while this callback is still running
		return nil
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.setState(Disconnected)
	return nil
}

// State returns the current lifecycle state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the session is streaming
func (c *Client) IsConnected() bool {
	return c.State() == Active
}

// WebhookURL returns the delivery URL assigned by the relay, or ""
func (c *Client) WebhookURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webhookURL
}

// Session returns a snapshot of the session context
func (c *Client) Session() Session {
	c.mu.Lock()
	s := Session{
		State:            c.state,
		SessionID:        c.sessionID,
		WebhookURL:       c.webhookURL,
		ReconnectAttempt: c.attempt,
	}
	c.mu.Unlock()

	if ns := c.lastHeartbeat.Load(); ns > 0 {
		s.LastHeartbeat = time.Unix(0, ns)
	}
	return s
}

// run is the connection loop. Each iteration performs one handshake and, on
// success, serves the session until it ends.
func (c *Client) run(ctx context.Context) error {
	for {
		if c.shouldStop(ctx) {
			return c.finish(ctx)
		}

		var reconnectAfter *time.Duration

		conn, err := c.handshake(ctx)
		if err != nil {
			if c.shouldStop(ctx) {
				return c.finish(ctx)
			}

			c.logger.Warn("Relay handshake failed",
				zap.Error(err),
				zap.Int("reconnect_attempt", c.Session().ReconnectAttempt),
			)
			c.reportError(err)

			if !c.cfg.AutoReconnectEnabled() {
				c.setState(Disconnected)
				return err
			}
		} else {
			info := c.serve(ctx, conn)
			c.clearConn()

			if c.shouldStop(ctx) {
				return c.finish(ctx)
			}

			c.logger.Info("Relay session ended",
				zap.String("reason", info.Reason),
				zap.String("message", info.Message),
			)
			c.fireDisconnected(info)
			if c.shouldStop(ctx) {
				return c.finish(ctx)
			}

			if !c.cfg.AutoReconnectEnabled() {
				c.setState(Disconnected)
				c.resetSession()
				return nil
			}
			reconnectAfter = info.ReconnectAfter
		}

		if err := c.waitBeforeRetry(ctx, reconnectAfter); err != nil {
			return err
		}
	}
}

// handshake dials the relay, authenticates and returns the open session
func (c *Client) handshake(ctx context.Context) (transport.Session, error) {
	c.setState(Connecting)
	c.resetSession()

	log := c.logger.With(zap.String("attempt_id", uuid.NewString()))
	log.Info("Connecting to relay",
		zap.String("url", c.cfg.URL),
		zap.Int("reconnect_attempt", c.Session().ReconnectAttempt),
	)

	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}
	c.setConn(conn)

	resp, err := c.authenticate(ctx, conn)
	if err != nil {
		_ = conn.Close(transport.CloseNormal, "authentication failed")
		c.clearConn()
		return nil, err
	}

	c.mu.Lock()
	c.sessionID = resp.SessionID
	c.webhookURL = resp.WebhookURL
	c.attempt = 0
	c.mu.Unlock()
	c.lastHeartbeat.Store(c.now().UnixNano())
	c.setState(Authenticated)

	log.Info("Authenticated with relay",
		zap.String("session_id", resp.SessionID),
		zap.String("webhook_url", resp.WebhookURL),
	)

	if fn := c.callbacks().connected; fn != nil {
		c.runCallback(func() {
			fn(ConnectionInfo{
				WebhookURL: resp.WebhookURL,
				SessionID:  resp.SessionID,
				Timestamp:  resp.Timestamp,
			})
		})
	}

	return conn, nil
}

type receiveResult struct {
	raw []byte
	err error
}

// authenticate sends the auth frame and waits for exactly one response frame
func (c *Client) authenticate(ctx context.Context, conn transport.Session) (protocol.AuthSuccess, error) {
	data, err := protocol.Encode(protocol.NewAuth(c.cfg.APIKey))
	if err != nil {
		return protocol.AuthSuccess{}, err
	}
	if err := conn.Send(ctx, data); err != nil {
		return protocol.AuthSuccess{}, fmt.Errorf("failed to send auth frame: %w", err)
	}

	// Buffered so the reader exits once the caller closes the transport
	received := make(chan receiveResult, 1)
	go func() {
		raw, err := conn.Receive()
		received <- receiveResult{raw: raw, err: err}
	}()

	timer := time.NewTimer(c.cfg.AuthTimeout)
	defer timer.Stop()

	var r receiveResult
	select {
	case r = <-received:
	case <-timer.C:
		return protocol.AuthSuccess{}, fmt.Errorf("%w after %s", ErrAuthTimeout, c.cfg.AuthTimeout)
	case <-ctx.Done():
		return protocol.AuthSuccess{}, ctx.Err()
	}
	if r.err != nil {
		return protocol.AuthSuccess{}, fmt.Errorf("failed to read auth response: %w", r.err)
	}

	frame, err := protocol.Decode(r.raw)
	c.recorder.FrameReceived(frame.Kind().String())
	if err != nil {
		return protocol.AuthSuccess{}, fmt.Errorf("failed to decode auth response: %w", err)
	}

	switch f := frame.(type) {
	case protocol.AuthSuccess:
		return f, nil
	case protocol.AuthError:
		return protocol.AuthSuccess{}, &AuthenticationError{Message: f.Message}
	default:
		return protocol.AuthSuccess{}, fmt.Errorf("unexpected %s frame while waiting for auth response", frame.Kind())
	}
}

// serve runs the receive loop and the heartbeat monitor until either ends
// the session, and reports why it ended
func (c *Client) serve(ctx context.Context, conn transport.Session) DisconnectInfo {
	var timedOut atomic.Bool
	monitor := heartbeat.New(c.cfg.HeartbeatInterval, func() {
		timedOut.Store(true)
		_ = conn.Close(transport.CloseNoHeartbeat, "heartbeat timeout")
	}, heartbeat.WithLogger(c.logger), heartbeat.WithClock(c.now))

	c.setState(Active)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	g.Go(func() error {
		return c.receiveLoop(gctx, conn, monitor)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close(transport.CloseNormal, "session ended")
		return nil
	})

	err := g.Wait()

	var end *sessionEnd
	switch {
	case timedOut.Load():
		c.recorder.HeartbeatTimeout()
		hbErr := fmt.Errorf("%w: no ping received within %s", ErrHeartbeatTimeout, monitor.Timeout())
		c.reportError(hbErr)
		return DisconnectInfo{
			Reason:  ReasonHeartbeatTimeout,
			Message: hbErr.Error(),
		}
	case errors.As(err, &end):
		return end.info
	default:
		info := DisconnectInfo{Reason: ReasonConnectionClosed}
		if err != nil {
			info.Message = err.Error()
		}
		return info
	}
}

// receiveLoop feeds frames to the dispatcher in arrival order. It only
// returns with a non-nil error.
func (c *Client) receiveLoop(ctx context.Context, conn transport.Session, monitor *heartbeat.Monitor) error {
	for {
		raw, err := conn.Receive()
		if err != nil {
			if errors.Is(err, ErrTransportClosed) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrTransportClosed, err)
		}

		if err := c.dispatch(ctx, conn, monitor, raw); err != nil {
			return err
		}
	}
}

// waitBeforeRetry counts the attempt and sleeps for the server-requested
// delay or the backoff delay. The sleep ends early when ctx is cancelled.
func (c *Client) waitBeforeRetry(ctx context.Context, reconnectAfter *time.Duration) error {
	bound := c.cfg.MaxReconnectAttempts

	c.mu.Lock()
	if bound != nil && c.attempt >= *bound {
		attempts := c.attempt
		c.mu.Unlock()

		err := fmt.Errorf("%w (%d attempts)", ErrRetriesExhausted, attempts)
		c.logger.Error("Giving up reconnecting to relay", zap.Error(err))
		c.reportError(err)
		c.setState(Disconnected)
		c.resetSession()
		return err
	}
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	delay := c.backoff.Next(attempt)
	if reconnectAfter != nil {
		delay = *reconnectAfter
	}

	c.setState(Reconnecting)
	c.recorder.ReconnectAttempt()

	fields := []zap.Field{
		zap.Int("attempt", attempt),
		zap.Duration("retry_delay", delay),
		zap.Bool("server_requested", reconnectAfter != nil),
	}
	if bound != nil {
		fields = append(fields, zap.Int("max_attempts", *bound))
	}
	c.logger.Info("Reconnecting to relay", fields...)

	if fn := c.callbacks().reconnecting; fn != nil {
		info := ReconnectInfo{Attempt: attempt, Delay: delay}
		if bound != nil {
			m := *bound
			info.MaxAttempts = &m
		}
		c.runCallback(func() { fn(info) })
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		// The loop head settles the state
	}
	return nil
}

func (c *Client) shouldStop(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped || ctx.Err() != nil
}

// finish settles in Disconnected when the loop is told to stop
func (c *Client) finish(ctx context.Context) error {
	c.setState(Disconnected)
	c.resetSession()

	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()

	if stopped {
		c.logger.Info("Disconnected from relay")
		return nil
	}
	return ctx.Err()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		c.logger.Debug("Relay state changed",
			zap.String("from", prev.String()),
			zap.String("to", s.String()),
		)
		c.recorder.StateChanged(prev.String(), s.String())
	}
}

func (c *Client) setConn(conn transport.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Client) clearConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = nil
}

// resetSession drops the relay-assigned identifiers. The attempt counter is
// only reset by a successful authentication.
func (c *Client) resetSession() {
	c.mu.Lock()
	c.sessionID = ""
	c.webhookURL = ""
	c.mu.Unlock()
	c.lastHeartbeat.Store(0)
}

func (c *Client) fireDisconnected(info DisconnectInfo) {
	if fn := c.callbacks().disconnected; fn != nil {
		c.runCallback(func() { fn(info) })
	}
}

func (c *Client) reportError(err error) {
	if fn := c.callbacks().err; fn != nil {
		c.runCallback(func() { fn(err) })
	}
}

// runCallback marks fn as running application code so that a Disconnect
// issued from inside it does not wait on the loop that is calling it
func (c *Client) runCallback(fn func()) {
	c.inCallback.Add(1)
	defer c.inCallback.Add(-1)
	fn()
}
