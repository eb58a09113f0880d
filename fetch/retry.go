// Copyright 2025 Poiesic Systems
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

package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/imgembed/core"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryWithBackoff retries an operation with exponential backoff.
// Only errors for which IsTransient is true are retried; anything else is
// returned at once. Returns the error from the last attempt if all attempts fail.
// A nil sleep uses Sleep.
func RetryWithBackoff(ctx context.Context, operation func() error, policy core.RetryPolicy, sleep SleepFunc) error {
	if policy.Attempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		// Check context before attempting
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}

		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", policy.Attempts, "error", lastErr)

		// Don't sleep after the last attempt
		if attempt == policy.Attempts {
			break
		}

		if err := sleep(ctx, policy.Delay(attempt)); err != nil {
			return err
		}
	}

	return lastErr
}
