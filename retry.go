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

package leia

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior for callers that want to reissue
// failed operations. Device operations never retry by themselves.
type RetryConfig struct {
	// ShouldRetry decides whether an error is worth another attempt (IsRetryable when nil)
	ShouldRetry func(error) bool
	// OnRetry, when set, is called after a failed attempt and before the backoff sleep
	OnRetry func(attempt int, err error, wait time.Duration)
	// MaxAttempts is the maximum number of attempts (0 = no retry)
	MaxAttempts int
	// InitialBackoff is the sleep after the first failure
	InitialBackoff time.Duration
	// MaxBackoff caps the sleep between attempts
	MaxBackoff time.Duration
	// BackoffMultiplier grows the sleep after every failure
	BackoffMultiplier float64
	// Jitter adds up to Jitter*sleep of random delay (0.0-1.0)
	Jitter float64
	// RetryTimeout bounds all attempts together (0 = no bound)
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the policy for reissuing a failed command.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultOperationRetries,
		InitialBackoff:    OperationInitialBackoff,
		MaxBackoff:        OperationMaxBackoff,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      OperationRetryTimeout,
	}
}

// ConnectionRetryConfig returns the policy ConnectDevice uses for the first
// handshake. Unlike DefaultRetryConfig it also retries ErrLinkNotReady.
func ConnectionRetryConfig() *RetryConfig {
	return &RetryConfig{
		ShouldRetry:       isConnectRetryable,
		MaxAttempts:       DefaultConnectionRetries,
		InitialBackoff:    ConnectionInitialBackoff,
		MaxBackoff:        ConnectionMaxBackoff,
		BackoffMultiplier: ConnectionBackoffMultiplier,
		Jitter:            ConnectionJitter,
		RetryTimeout:      ConnectionRetryTimeout,
	}
}

// isConnectRetryable accepts a failed resync on a freshly opened port, which
// is usually the USB CDC bridge dropping the first bytes.
func isConnectRetryable(err error) bool {
	if IsRetryable(err) {
		return true
	}
	var te *TransportError
	return errors.Is(err, ErrLinkNotReady) && !(errors.As(err, &te) && te.Type == ErrorTypePermanent)
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// RetryWithConfig runs fn until it succeeds, returns an error ShouldRetry
// rejects, runs out of attempts or ctx ends. The last error is returned.
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
	shouldRetry := config.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	var lastErr error
	wait := config.InitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry context cancelled: %w", err)
		}

		err := fn()
		if err == nil || !shouldRetry(err) || attempt >= config.MaxAttempts {
			return err
		}
		lastErr = err

		sleep := withJitter(wait, config.Jitter)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, sleep)
		}
		Debugf("retry: attempt %d failed, sleeping %v: %v", attempt, sleep, err)
		if !sleepContext(ctx, sleep) {
			return lastErr
		}
		wait = config.nextBackoff(wait)
	}
}

// Retry runs a value-returning operation under the given policy; see RetryWithConfig.
func Retry[T any](ctx context.Context, config *RetryConfig, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := RetryWithConfig(ctx, config, func() error {
		var err error
		result, err = op(ctx)
		return err
	})
	return result, err
}

// nextBackoff grows wait by the multiplier, capped at MaxBackoff.
func (c *RetryConfig) nextBackoff(wait time.Duration) time.Duration {
	return min(time.Duration(float64(wait)*c.BackoffMultiplier), c.MaxBackoff)
}

// withJitter adds a uniform random delay in [0, factor*d).
func withJitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*factor*float64(d)) //nolint:gosec // backoff jitter
}

// sleepContext sleeps for d and reports false if ctx ended first.
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
