// Copyright 2025 Kadir Pekel
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

// Package retry implements the per-attempt timeout and retry engine
// (spec §2 component F, §4.7 Retry/Timeout Engine), built on
// github.com/cenkalti/backoff/v4 — the backoff library declared across
// the pack (codeready-toolchain-tarsy, haasonsaas-nexus, kadirpekel-hector
// all carry a cenkalti/backoff dependency).
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kadirpekel/agentcore/pkg/agenterrors"
)

// Policy configures one step's retry behavior (spec §4.7).
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// 1 means "no retry".
	MaxAttempts int

	// AttemptTimeout bounds each individual attempt; zero means no
	// per-attempt timeout.
	AttemptTimeout time.Duration

	// Delay is a fixed inter-attempt delay. Mutually exclusive with
	// Backoff — set at most one (spec §4.7 config-error invariant).
	Delay time.Duration

	// Backoff, when >0, makes the inter-attempt delay exponential:
	// 1000ms * Backoff^(attempt-1).
	Backoff float64
}

// Validate rejects a Policy that sets both Delay and Backoff, or that
// specifies a MaxAttempts < 1. Called before any I/O so config mistakes
// surface immediately rather than after a wasted attempt (spec §4.7).
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: MaxAttempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.Delay > 0 && p.Backoff > 0 {
		return fmt.Errorf("retry policy: Delay and Backoff are mutually exclusive")
	}
	return nil
}

func (p Policy) backOff() backoff.BackOff {
	var b backoff.BackOff
	switch {
	case p.Backoff > 0:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = time.Second
		eb.Multiplier = p.Backoff
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0 // bounded by MaxAttempts, not elapsed time
		b = eb
	case p.Delay > 0:
		b = backoff.NewConstantBackOff(p.Delay)
	default:
		b = backoff.NewConstantBackOff(0)
	}
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
}

// Operation is the unit of work retried under a Policy. It must respect
// ctx cancellation — Do wraps ctx with AttemptTimeout on every attempt.
type Operation func(ctx context.Context) error

// Do runs op under policy, retrying non-retryable-classified failures
// never, and retryable ones up to MaxAttempts. Each attempt gets its own
// context bounded by AttemptTimeout (if set). Exhaustion raises a
// *agenterrors.RetryExhaustedError wrapping the final failure.
func Do(ctx context.Context, stepID string, policy Policy, op Operation) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	attempts := 0
	var lastErr error

	retryable := func() error {
		attempts++

		attemptCtx := ctx
		var cancel context.CancelFunc
		if policy.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.AttemptTimeout)
			defer cancel()
		}

		err := op(attemptCtx)
		if err == nil {
			return nil
		}

		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = &agenterrors.TimeoutError{
				Meta:  agenterrors.Meta{StepID: stepID, Retryable: true},
				Cause: err,
			}
		}

		lastErr = err
		if !agenterrors.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(retryable, backoff.WithContext(policy.backOff(), ctx))
	if err == nil {
		return nil
	}

	// backoff.Retry unwraps a backoff.Permanent error before returning it,
	// so a non-retryable failure (e.g. ValidationError) comes back here
	// as itself, not as *backoff.PermanentError — surface it unchanged.
	if !agenterrors.Retryable(err) {
		return err
	}

	return &agenterrors.RetryExhaustedError{
		Meta:     agenterrors.Meta{StepID: stepID, Retryable: false},
		Attempts: attempts,
		Cause:    lastErr,
	}
}
