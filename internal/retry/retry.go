// Package retry provides an injectable exponential-backoff policy for
// transient failures.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net"
	"time"

	"github.com/cesargomez89/tubecrate/internal/constants"
)

// Policy controls retry behavior: how many retries, the backoff curve, and
// which errors are worth retrying.
type Policy struct {
	MaxRetries int
	BaseWait   time.Duration
	MaxWait    time.Duration
	Multiplier float64
	Retryable  func(error) bool // nil means Transient
}

// Default is suitable for most external calls.
func Default() Policy {
	return Policy{
		MaxRetries: constants.DefaultRetryCount,
		BaseWait:   constants.DefaultRetryBase,
		MaxWait:    constants.DefaultRetryMax,
		Multiplier: constants.DefaultRetryMultiplier,
	}
}

// Do retries fn up to p.MaxRetries times with exponential backoff.
// Retries only on retryable errors; returns immediately on non-retryable or
// context cancellation.
func Do[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	retryable := p.Retryable
	if retryable == nil {
		retryable = Transient
	}

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, err
		}

		if attempt < p.MaxRetries {
			wait := p.wait(attempt)
			slog.Debug("retrying", slog.Int("attempt", attempt+1), slog.Duration("wait", wait), slog.Any("error", err))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}
	return zero, lastErr
}

func (p Policy) wait(attempt int) time.Duration {
	wait := time.Duration(float64(p.BaseWait) * math.Pow(p.Multiplier, float64(attempt)))
	if wait > p.MaxWait {
		wait = p.MaxWait
	}
	return wait
}

// Transient reports whether err looks like a temporary network condition.
func Transient(err error) bool {
	// Connection errors (dial failures, connection refused, etc.)
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	// DNS errors
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	// Timeout errors (net.Error includes OpError, so check after OpError)
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// Per-call deadlines are transient; the caller's own context is checked
	// separately inside Do.
	return errors.Is(err, context.DeadlineExceeded)
}

// RetryableStatus reports whether an HTTP status code is worth retrying.
func RetryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}
