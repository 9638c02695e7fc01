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

// Package backoff computes reconnect delays: exponential growth from a base
// delay, capped, with symmetric jitter.
package backoff

import (
	"math/rand/v2"
	"time"
)

const (
	// MaxDelay caps the exponential part of the delay
	MaxDelay = 30 * time.Second

	// JitterFraction is the symmetric jitter applied to the capped delay (±20%)
	JitterFraction = 0.2
)

// JitterSource returns a value in [0, 1). Inject a fixed source to make Delay deterministic.
type JitterSource func() float64

// DefaultJitter draws from math/rand/v2.
func DefaultJitter() float64 {
	return rand.Float64()
}

// Capped returns min(base * 2^(attempt-1), MaxDelay) without jitter.
// Attempts below 1 are treated as 1.
func Capped(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= MaxDelay {
			return MaxDelay
		}
	}
	if delay > MaxDelay {
		delay = MaxDelay
	}
	return delay
}

// Delay calculates the reconnect delay for the given 1-indexed attempt.
// The result lies in [0.8*d, 1.2*d] where d = Capped(attempt, base).
func Delay(attempt int, base time.Duration, jitter JitterSource) time.Duration {
	d := Capped(attempt, base)
	if jitter == nil {
		jitter = DefaultJitter
	}

	u := jitter()
	// Clamp misbehaving sources so the bound always holds
	if u < 0 {
		u = 0
	}
	if u > 1 {
		u = 1
	}

	offset := time.Duration(float64(d) * JitterFraction * (2*u - 1))
	return d + offset
}

// Calculator holds the base delay and jitter source used by the reconnect loop
type Calculator struct {
	Base   time.Duration
	Jitter JitterSource
}

// NewCalculator creates a Calculator with the default jitter source
func NewCalculator(base time.Duration) *Calculator {
	return &Calculator{
		Base:   base,
		Jitter: DefaultJitter,
	}
}

// Next returns the delay before the given attempt
func (c *Calculator) Next(attempt int) time.Duration {
	return Delay(attempt, c.Base, c.Jitter)
}
