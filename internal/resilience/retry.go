// Package resilience wraps calls to flaky external engines (STT, TTS, LLM).
package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"

	"github.com/discord-voice-chat/internal/logging"
)

// RetryConfig bounds the retries of one engine call. MaxRetries counts
// retries after the first attempt. Voice turns are interactive, so the
// defaults are short.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // +/- fraction of the delay
	IsRetryable  func(error) bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.2,
		IsRetryable:  IsRetryable,
	}
}

// RetryableError marks an engine reply (5xx, 429, a cut-off body) as worth
// another attempt.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable accepts marked errors and network errors. A cancelled call or
// an open breaker is final.
func IsRetryable(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, ErrOpen):
		return false
	}
	var re *RetryableError
	var ne net.Error
	return errors.As(err, &re) || errors.As(err, &ne)
}

// wait returns the pause before retry number n (0-based): doubling from
// BaseDelay, capped at MaxDelay, then jittered.
func (c RetryConfig) wait(n int) time.Duration {
	base := c.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	d := base << min(n, 8)
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	if c.JitterFactor > 0 {
		d += time.Duration(float64(d) * c.JitterFactor * (2*rand.Float64() - 1))
	}
	return d
}

// Retry calls fn until it succeeds or the error is not worth retrying.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	retryable := cfg.IsRetryable
	if retryable == nil {
		retryable = IsRetryable
	}
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil || n >= cfg.MaxRetries || !retryable(err) {
			return err
		}
		pause := cfg.wait(n)
		logging.Debugw("resilience: retrying", "retry", n+1, "of", cfg.MaxRetries, "pause", pause, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
}
