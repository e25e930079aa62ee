package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/discord-voice-chat/internal/logging"
)

// State is the circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrOpen is returned while the breaker is failing fast.
var ErrOpen = errors.New("circuit breaker open")

// BreakerConfig tunes one engine's breaker.
type BreakerConfig struct {
	Name              string
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // time open before one trial call is let through
	HalfOpenSuccesses int           // trial successes needed to close
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{Name: name, Threshold: 5, ResetTimeout: 30 * time.Second, HalfOpenSuccesses: 2}
}

// Breaker is shared by every voice session calling the same engine. Only
// engine failures count against it: a call whose caller gave up (session
// teardown, speaker left) says nothing about the engine's health.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	trial     bool // a half-open trial call is in flight
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// admit reports whether a call may go out now. While half-open only one
// trial call is in flight at a time.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrOpen
		}
		b.setState(HalfOpen)
	case HalfOpen:
		if b.trial {
			return ErrOpen
		}
	}
	if b.state == HalfOpen {
		b.trial = true
	}
	return nil
}

// record books the outcome of an admitted call.
func (b *Breaker) record(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
	switch {
	case err == nil:
		b.failures = 0
		if b.state == HalfOpen {
			b.successes++
			if b.successes >= b.cfg.HalfOpenSuccesses {
				b.setState(Closed)
			}
		}
	case abandoned(ctx, err):
	default:
		b.failures++
		if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
			b.setState(Open)
		}
	}
}

func abandoned(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// setState must be called with mu held.
func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.successes = 0
	switch to {
	case Open:
		b.openedAt = b.now()
		logging.Warnw("circuit breaker opened", "breaker", b.cfg.Name, "from", from.String(), "failures", b.failures)
	case HalfOpen:
		logging.Infow("circuit breaker half-open", "breaker", b.cfg.Name)
	case Closed:
		b.failures = 0
		logging.Infow("circuit breaker closed", "breaker", b.cfg.Name)
	}
}

// Do runs fn under the breaker.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Call(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn under the breaker and returns its result.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(ctx, err)
	if err != nil {
		return zero, err
	}
	return v, nil
}
