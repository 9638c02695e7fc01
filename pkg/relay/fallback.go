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
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shadstoneofficial/webhook-relay/pkg/signature"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Headers carried by HTTP fallback deliveries
const (
	HeaderSignature = "X-Relay-Signature"
	HeaderTimestamp = "X-Relay-Timestamp"
)

// HandleHTTPWebhook processes a delivery the relay posted over HTTP instead
// of the streaming session. The signature covers the whole request body and
// is keyed with the API key. The handler runs synchronously; its outcome is
// the return value:
//
//   - nil: accepted (also when no handler is registered)
//   - ErrSignatureInvalid: rejected, handler not invoked
//   - ErrMalformedDelivery: body or timestamp unusable
//   - *HandlerError: handler failed or panicked
//   - ErrNotAcknowledged: handler returned NoAck
func (c *Client) HandleHTTPWebhook(ctx context.Context, body []byte, headers http.Header) error {
	sig := headers.Get(HeaderSignature)
	ts := strings.TrimSpace(headers.Get(HeaderTimestamp))

	if !signature.Verify(body, ts, sig, c.cfg.APIKey) {
		c.logger.Warn("Invalid HTTP webhook signature")
		c.recorder.WebhookDelivered(pathFallback, outcomeRejected, 0)
		return ErrSignatureInvalid
	}

	timestamp, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		c.recorder.WebhookDelivered(pathFallback, outcomeRejected, 0)
		return fmt.Errorf("%w: invalid timestamp %q", ErrMalformedDelivery, ts)
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		c.recorder.WebhookDelivered(pathFallback, outcomeRejected, 0)
		return fmt.Errorf("%w: body is not a JSON object", ErrMalformedDelivery)
	}

	event := WebhookEvent{
		ID:        parsed.Get("id").String(),
		Timestamp: timestamp,
		Signature: sig,
		Payload:   json.RawMessage("{}"),
	}
	if p := parsed.Get("payload"); p.Exists() {
		event.Payload = json.RawMessage(p.Raw)
	}

	log := c.logger.With(zap.String("event_id", event.ID))

	handler := c.callbacks().webhook
	if handler == nil {
		log.Warn("No webhook handler registered, accepting HTTP webhook")
		c.recorder.WebhookDelivered(pathFallback, outcomeUnhandled, 0)
		return nil
	}

	start := time.Now()
	result, err := invoke(ctx, handler, event)
	elapsed := time.Since(start)

	if err != nil {
		herr := &HandlerError{EventID: event.ID, Err: err}
		log.Error("HTTP webhook handler error", zap.Error(err))
		c.recorder.WebhookDelivered(pathFallback, outcomeFailed, elapsed)
		c.reportError(herr)
		return herr
	}

	if result == NoAck {
		c.recorder.WebhookDelivered(pathFallback, outcomeSuppressed, elapsed)
		return ErrNotAcknowledged
	}

	c.recorder.WebhookDelivered(pathFallback, outcomeAccepted, elapsed)
	return nil
}
