// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pajowu/matrix-migrate/lib/clock"
	"github.com/pajowu/matrix-migrate/messaging"
)

const (
	// retryAttempts and retryBackoff bound per-operation retries on
	// transient failures. The backoff doubles: 1s, 2s, 4s.
	retryAttempts = 3
	retryBackoff  = time.Second
)

// callWithRetry runs one protocol call under callTimeout, retrying
// transient failures with doubling backoff. A rate-limited
// response's retry_after_ms stretches the wait when it asks for
// longer than the backoff would allow. Permanent failures return
// immediately.
func callWithRetry(ctx context.Context, clk clock.Clock, logger *slog.Logger, callTimeout time.Duration, call func(context.Context) error) error {
	backoff := retryBackoff
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if attempt > 1 {
			wait := backoff
			var matrixErr *messaging.MatrixError
			if errors.As(lastErr, &matrixErr) && matrixErr.RetryAfterMs > 0 {
				if hinted := time.Duration(matrixErr.RetryAfterMs) * time.Millisecond; hinted > wait {
					wait = hinted
				}
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clk.After(wait):
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		lastErr = call(callCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if !messaging.IsTransient(lastErr) {
			return lastErr
		}
		logger.Debug("transient failure, retrying", "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("giving up after %d attempts: %w", retryAttempts, lastErr)
}
