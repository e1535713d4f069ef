// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// transientStderrMarkers are substrings of runtime stderr that indicate a
// failure worth retrying: registry throttling, flaky networks, TLS hiccups.
var transientStderrMarkers = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"tls handshake",
	"temporary failure",
	"toomanyrequests",
	"i/o timeout",
}

// RetryWithBackoff retries op up to maxAttempts times with exponential backoff.
// It checks ctx.Err() between retries to respect cancellation immediately,
// preventing wasted work when the caller has already abandoned the operation.
//
// op returns (shouldRetry bool, err error). If shouldRetry is false, err is
// returned immediately (nil on success, non-nil on permanent failure).
// On retry exhaustion, the last error is returned.
func RetryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("retry aborted: %w", err)
			}
			time.Sleep(baseBackoff * time.Duration(1<<(attempt-1)))
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// IsTransient reports whether an execution error looks like a transient
// infrastructure failure rather than a permanent one. Pull is the only verb
// retried on this verdict; build and run failures are never retried because
// their side effects are not idempotent.
func IsTransient(err error) bool {
	var execErr *RuntimeExecutionError
	if !errors.As(err, &execErr) {
		return false
	}
	if execErr.ExitCode.IsTransient() {
		return true
	}
	tail := strings.ToLower(execErr.StderrTail)
	for _, marker := range transientStderrMarkers {
		if strings.Contains(tail, marker) {
			return true
		}
	}
	return false
}
