package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"time"
)

// DefaultTimeout bounds a single node when the scheduler has no timeout set.
const DefaultTimeout = 30 * time.Minute

// DefaultRetryMax is how often a transiently failing statement is retried.
const DefaultRetryMax = 3

// RetryPolicy controls how adapter calls that fail transiently are retried.
// A nil *RetryPolicy behaves like DefaultRetryPolicy.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Retryable classifies errors; IsTransientError when nil.
	Retryable func(error) bool
}

func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: DefaultRetryMax,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// NoRetry runs every call exactly once.
func NoRetry() *RetryPolicy {
	return &RetryPolicy{}
}

// RetriesExhaustedError is returned when every attempt failed with a retryable error.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// WithTimeout derives a context bounded by timeout, or DefaultTimeout when timeout is not positive.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// Do calls fn until it succeeds, fails with a non-retryable error or the policy
// runs out of retries. onRetry, when set, is called before each new attempt with
// the attempt number (starting at 1) and the error that caused it.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	if p == nil {
		p = DefaultRetryPolicy()
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransientError
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt >= p.MaxRetries {
			if p.MaxRetries == 0 {
				return err
			}
			return &RetriesExhaustedError{Attempts: attempt + 1, Err: err}
		}

		timer := time.NewTimer(p.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after %d attempts: %w (last error: %v)", attempt+1, ctx.Err(), err)
		case <-timer.C:
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}
	}
}

// backoff doubles BaseDelay per attempt, caps it at MaxDelay and applies full jitter.
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << min(attempt, 30)
	if p.MaxDelay > 0 && (d <= 0 || d > p.MaxDelay) {
		d = p.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)))
}

// transientMessages are lower-cased fragments warehouse drivers and cloud APIs use
// for failures that succeed when retried.
var transientMessages = []string{
	"throttl",
	"rate exceed",
	"too many requests",
	"service unavailable",
	"connection reset",
	"connection refused",
	"could not serialize access",
	"deadlock detected",
	"temporary failure",
}

// IsTransientError reports whether err is worth retrying: network timeouts,
// throttling, and serialization or deadlock aborts.
func IsTransientError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "i/o timeout") {
		return true
	}
	for _, fragment := range transientMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
