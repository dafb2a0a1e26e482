package poli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// statusError carries the HTTP status of a rejected CRM call so the retry
// policy can distinguish transient 5xx failures from terminal 4xx ones.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.status, e.body)
}

// isRetryable classifies an error as transient: 5xx responses and
// network-class failures (timeout, reset, aborted, refused, DNS, truncated
// reads). Anything else fails immediately.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}

// withRetry runs fn up to len(backoff) times, sleeping the scheduled delay
// between attempts. Non-retryable errors abort the loop immediately.
func withRetry(ctx context.Context, backoff []time.Duration, fn func() error) error {
	attempts := len(backoff)
	if attempts == 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		select {
		case <-time.After(backoff[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
