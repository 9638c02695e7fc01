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

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformedFrame is returned when a frame is not valid JSON or a known
// frame type has fields of the wrong shape
var ErrMalformedFrame = errors.New("malformed frame")

// PeekType returns the type tag of a raw frame without decoding the rest of it
func PeekType(raw []byte) string {
	return gjson.GetBytes(raw, "type").String()
}

// Decode parses a raw relay frame into its variant. Frames that cannot be
// decoded come back as Unknown together with an error wrapping
// ErrMalformedFrame; unrecognized type tags come back as Unknown with a nil
// error.
func Decode(raw []byte) (Frame, error) {
	if !gjson.ValidBytes(raw) {
		return Unknown{Raw: raw}, fmt.Errorf("%w: invalid JSON", ErrMalformedFrame)
	}

	typ := PeekType(raw)
	switch typ {
	case TypeAuthSuccess:
		var f AuthSuccess
		return decodeInto(typ, raw, &f)
	case TypeAuthError:
		var f AuthError
		return decodeInto(typ, raw, &f)
	case TypeWebhook:
		var f Webhook
		frame, err := decodeInto(typ, raw, &f)
		if err != nil {
			return frame, err
		}
		if f.ID == "" {
			return Unknown{Type: typ, Raw: raw}, fmt.Errorf("%w: webhook frame missing id", ErrMalformedFrame)
		}
		return f, nil
	case TypePing:
		return Ping{}, nil
	case TypeError:
		var f Error
		return decodeInto(typ, raw, &f)
	case TypeDisconnect:
		var f Disconnect
		return decodeInto(typ, raw, &f)
	default:
		return Unknown{Type: typ, Raw: raw}, nil
	}
}

// decodeInto unmarshals raw into dst and returns the dereferenced variant
func decodeInto[T Frame](typ string, raw []byte, dst *T) (Frame, error) {
	if err := json.Unmarshal(raw, dst); err != nil {
		return Unknown{Type: typ, Raw: raw}, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, typ, err)
	}
	return *dst, nil
}

// Encode marshals an outgoing frame
func Encode(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}
