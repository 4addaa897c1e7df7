// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fwflash

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior for operations outside the packet
// protocol, such as opening a port. The protocol itself never backs off; its
// only retry is the CRC budget in Transport.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (0 = single attempt)
	MaxAttempts int
	// InitialBackoff is the delay after the first failure
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts
	MaxBackoff time.Duration
	// BackoffMultiplier grows the delay after each failure
	BackoffMultiplier float64
	// Jitter adds up to this fraction of the delay at random
	Jitter float64
	// RetryTimeout bounds all attempts together
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      5 * time.Second,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// RetryWithConfig calls fn until it succeeds, fails with an error that
// IsRetryable rejects, or the attempts or RetryTimeout run out. The last
// error is returned.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 0 {
		return fn()
	}

	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	var lastErr error
	backoff := config.InitialBackoff
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
		if attempt == config.MaxAttempts {
			break
		}

		sleep := jittered(backoff, config.Jitter)
		Debugf("attempt %d/%d failed: %v; retrying in %v", attempt, config.MaxAttempts, err, sleep)
		if !sleepContext(ctx, sleep) {
			return lastErr
		}
		backoff = nextBackoff(backoff, config)
	}
	return lastErr
}

// sleepContext waits for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(backoff time.Duration, config *RetryConfig) time.Duration {
	next := time.Duration(float64(backoff) * config.BackoffMultiplier)
	if config.MaxBackoff > 0 && next > config.MaxBackoff {
		return config.MaxBackoff
	}
	return next
}

func jittered(base time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return base
	}
	//nolint:gosec // jitter does not need a cryptographic source
	return base + time.Duration(rand.Float64()*factor*float64(base))
}
