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

	"github.com/shadstoneofficial/webhook-relay/pkg/heartbeat"
	"github.com/shadstoneofficial/webhook-relay/pkg/protocol"
	"github.com/shadstoneofficial/webhook-relay/pkg/transport"
	"go.uber.org/zap"
)

// dispatch routes one frame of an active session. A non-nil return ends the
// session.
func (c *Client) dispatch(ctx context.Context, conn transport.Session, monitor *heartbeat.Monitor, raw []byte) error {
	frame, err := protocol.Decode(raw)
	c.recorder.FrameReceived(frame.Kind().String())
	if err != nil {
		c.logger.Warn("Dropping malformed frame",
			zap.Error(err),
			zap.Int("frame_length", len(raw)),
		)
		c.reportError(err)
		return nil
	}

	switch f := frame.(type) {
	case protocol.Webhook:
		c.deliver(ctx, conn, f)
	case protocol.Ping:
		c.handlePing(ctx, conn, monitor)
	case protocol.Error:
		c.logger.Error("Relay reported an error", zap.String("message", f.Message))
		c.reportError(&ServerError{Message: f.Message})
	case protocol.Disconnect:
		info := newDisconnectInfo(f)
		c.logger.Warn("Relay requested disconnect",
			zap.String("reason", info.Reason),
			zap.String("message", info.Message),
		)
		return &sessionEnd{info: info}
	case protocol.AuthSuccess, protocol.AuthError:
		c.logger.Debug("Ignoring auth response outside of handshake", zap.Stringer("type", f.Kind()))
	case protocol.Unknown:
		c.logger.Warn("Received unknown frame type", zap.String("type", f.Type))
	default:
		c.logger.Warn("Unhandled frame", zap.Stringer("type", frame.Kind()))
	}
	return nil
}

// handlePing records the heartbeat and answers with a pong
func (c *Client) handlePing(ctx context.Context, conn transport.Session, monitor *heartbeat.Monitor) {
	now := c.now()
	monitor.Touch()
	c.lastHeartbeat.Store(now.UnixNano())

	data, err := protocol.Encode(protocol.NewPong(now.UnixMilli()))
	if err != nil {
		c.logger.Error("Failed to encode pong", zap.Error(err))
		return
	}
	if err := conn.Send(ctx, data); err != nil {
		c.logger.Warn("Failed to send pong", zap.Error(err))
	}
}
