// Copyright (c) 2026 John Earle
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

// Package retry wraps a unit of work in a bounded retry policy. The
// pipeline uses a single retry on transient connection loss only; remote
// mail sessions rarely recover past one retry and unbounded retry risks
// cascading load during an outage.
package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/bcem/mailgate/internal/mail"
)

// Policy describes how failures are retried.
type Policy struct {
	// MaxRetries is the number of re-attempts after the first failure.
	MaxRetries int

	// Backoff is the base delay before a re-attempt; the actual delay
	// is jittered by ±50%.
	Backoff time.Duration

	// Retryable decides whether an error is eligible. Nil means only
	// transient connection loss.
	Retryable func(error) bool
}

// Default is the pipeline policy: one retry, one second base backoff,
// transient connection loss only.
func Default() Policy {
	return Policy{MaxRetries: 1, Backoff: time.Second}
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return mail.IsTransient(err)
}

func (p Policy) delay() time.Duration {
	if p.Backoff <= 0 {
		return 0
	}
	// ±50% jitter
	f := 0.5 + rand.Float64()
	return time.Duration(float64(p.Backoff) * f)
}

// Do runs fn under the policy and returns its result. Non-retryable
// errors propagate immediately; retryable ones are re-attempted up to
// MaxRetries times, then the last error propagates.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying after transient failure",
				"attempt", attempt,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.delay()):
			}
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !p.retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

// Do0 runs a unit of work without a result value.
func Do0(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
