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
	"fmt"
	"time"

	"github.com/shadstoneofficial/webhook-relay/pkg/protocol"
	"github.com/shadstoneofficial/webhook-relay/pkg/transport"
	"go.uber.org/zap"
)

// Delivery paths and outcomes reported to the Recorder
const (
	pathStream   = "stream"
	pathFallback = "fallback"

	outcomeAcked      = "acked"
	outcomeAccepted   = "accepted"
	outcomeSuppressed = "suppressed"
	outcomeFailed     = "failed"
	outcomeUnhandled  = "unhandled"
	outcomeRejected   = "rejected"
)

// deliver hands a streamed event to the handler and acks per its outcome
func (c *Client) deliver(ctx context.Context, conn transport.Session, f protocol.Webhook) {
	event := newWebhookEvent(f)
	log := c.logger.With(zap.String("event_id", event.ID))
	log.Debug("Received webhook", zap.String("event", event.EventType()))

	handler := c.callbacks().webhook
	if handler == nil {
		log.Warn("No webhook handler registered, acknowledging event")
		c.recorder.WebhookDelivered(pathStream, outcomeUnhandled, 0)
		c.ack(ctx, conn, event.ID)
		return
	}

	var (
		result Result
		err    error
	)
	start := time.Now()
	c.runCallback(func() {
		result, err = invoke(ctx, handler, event)
	})
	elapsed := time.Since(start)

	if err != nil {
		herr := &HandlerError{EventID: event.ID, Err: err}
		log.Error("Webhook handler failed, withholding acknowledgment", zap.Error(err))
		c.recorder.WebhookDelivered(pathStream, outcomeFailed, elapsed)
		c.reportError(herr)
		return
	}

	if result == NoAck {
		log.Debug("Handler declined the event, withholding acknowledgment")
		c.recorder.WebhookDelivered(pathStream, outcomeSuppressed, elapsed)
		return
	}

	c.recorder.WebhookDelivered(pathStream, outcomeAcked, elapsed)
	c.ack(ctx, conn, event.ID)
}

// ack sends the acknowledgment frame for id
func (c *Client) ack(ctx context.Context, conn transport.Session, id string) {
	data, err := protocol.Encode(protocol.NewAck(id, c.now().UnixMilli()))
	if err != nil {
		c.logger.Error("Failed to encode ack", zap.Error(err))
		return
	}
	if err := conn.Send(ctx, data); err != nil {
		c.logger.Warn("Failed to send ack", zap.String("event_id", id), zap.Error(err))
	}
}

// invoke calls the handler, converting a panic into an error
func invoke(ctx context.Context, handler WebhookHandler, event WebhookEvent) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = NoAck
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, event)
}
