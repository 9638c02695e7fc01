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

// Package signature verifies the HMAC-SHA256 signatures the relay attaches to
// deliveries made over the HTTP fallback path.
//
// The signed content is "{timestamp}.{body}" where body is the payload encoded
// as compact ASCII JSON: no insignificant whitespace and every non-ASCII
// character written as a lowercase \uXXXX escape (UTF-16 surrogate pairs above
// U+FFFF). Key order is whatever the payload already carries; it is never
// re-sorted.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Prefix is the scheme marker carried by the x-relay-signature header
const Prefix = "sha256="

// Canonicalize returns the compact JSON encoding of payload with all
// insignificant whitespace removed and non-ASCII characters escaped.
func Canonicalize(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return nil, fmt.Errorf("signature: payload is not valid JSON: %w", err)
	}
	return escapeNonASCII(buf.Bytes()), nil
}

// escapeNonASCII rewrites every multi-byte UTF-8 sequence as \uXXXX. In valid
// JSON such bytes only occur inside strings, so the document keeps its meaning.
func escapeNonASCII(b []byte) []byte {
	i := bytes.IndexFunc(b, func(r rune) bool { return r >= utf8.RuneSelf })
	if i < 0 {
		return b
	}

	out := make([]byte, 0, len(b)+16)
	out = append(out, b[:i]...)
	for i < len(b) {
		if b[i] < utf8.RuneSelf {
			out = append(out, b[i])
			i++
			continue
		}

		r, size := utf8.DecodeRune(b[i:])
		i += size
		if r > 0xFFFF {
			hi, lo := utf16.EncodeRune(r)
			out = fmt.Appendf(out, `\u%04x\u%04x`, hi, lo)
			continue
		}
		out = fmt.Appendf(out, `\u%04x`, r)
	}
	return out
}

// Compute returns the lowercase hex HMAC-SHA256 digest of "{timestamp}.{body}"
func Compute(payload []byte, timestamp, secret string) (string, error) {
	body, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Sign returns the header value ("sha256=<hex>") the relay would send for payload
func Sign(payload []byte, timestamp, secret string) (string, error) {
	digest, err := Compute(payload, timestamp, secret)
	if err != nil {
		return "", err
	}
	return Prefix + digest, nil
}

// Verify reports whether received is a valid signature of payload at timestamp
// under secret. The optional "sha256=" prefix is stripped before a
// constant-time comparison. Malformed input fails verification; Verify never
// panics.
func Verify(payload []byte, timestamp, received, secret string) bool {
	if secret == "" || timestamp == "" {
		return false
	}

	received = strings.TrimPrefix(strings.TrimSpace(received), Prefix)
	if received == "" {
		return false
	}

	expected, err := Compute(payload, timestamp, secret)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}
