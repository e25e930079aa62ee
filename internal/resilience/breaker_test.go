package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errEngine = errors.New("engine down")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testBreaker(threshold, successes int) (*Breaker, *clock) {
	c := &clock{t: time.Unix(1000, 0)}
	b := NewBreaker(BreakerConfig{Name: "stt", Threshold: threshold, ResetTimeout: time.Minute, HalfOpenSuccesses: successes})
	b.now = c.now
	return b, c
}

func fail(context.Context) error { return errEngine }
func ok(context.Context) error   { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := testBreaker(3, 1)
	for i := 0; i < 3; i++ {
		if err := b.Do(context.Background(), fail); !errors.Is(err, errEngine) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}
	called := false
	err := b.Do(context.Background(), func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Fatalf("open breaker let a call through: err=%v called=%v", err, called)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(2, 1)
	_ = b.Do(context.Background(), fail)
	_ = b.Do(context.Background(), ok)
	_ = b.Do(context.Background(), fail)
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreakerHalfOpenThenClosed(t *testing.T) {
	b, c := testBreaker(1, 2)
	_ = b.Do(context.Background(), fail)
	c.advance(2 * time.Minute)

	if err := b.Do(context.Background(), ok); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	_ = b.Do(context.Background(), ok)
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, c := testBreaker(1, 1)
	_ = b.Do(context.Background(), fail)
	c.advance(2 * time.Minute)
	_ = b.Do(context.Background(), fail)
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Do(context.Background(), ok); !errors.Is(err, ErrOpen) {
		t.Fatalf("want ErrOpen right after reopening, got %v", err)
	}
}

func TestBreakerHalfOpenAdmitsOneTrial(t *testing.T) {
	b, c := testBreaker(1, 1)
	_ = b.Do(context.Background(), fail)
	c.advance(2 * time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	if err := b.Do(context.Background(), ok); !errors.Is(err, ErrOpen) {
		t.Fatalf("second trial admitted: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreakerIgnoresCancelledCalls(t *testing.T) {
	b, _ := testBreaker(2, 1)
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := b.Do(ctx, func(ctx context.Context) error {
			return fmt.Errorf("post: %w", ctx.Err())
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	// an expired caller ctx marks the call abandoned whatever the error
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		<-ctx.Done()
		_ = b.Do(ctx, fail)
		cancel()
	}
	if b.State() != Closed {
		t.Fatalf("state = %v after abandoned calls, want closed", b.State())
	}
	_ = b.Do(context.Background(), fail)
	_ = b.Do(context.Background(), fail)
	if b.State() != Open {
		t.Fatalf("real failures did not open the breaker")
	}
}

func TestCallReturnsResult(t *testing.T) {
	b, _ := testBreaker(1, 1)
	v, err := Call(context.Background(), b, func(context.Context) (string, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("got %q, %v", v, err)
	}
	if _, err := Call(context.Background(), b, func(context.Context) (string, error) { return "partial", errEngine }); !errors.Is(err, errEngine) {
		t.Fatalf("want engine error, got %v", err)
	}
	if v, err := Call(context.Background(), b, func(context.Context) (string, error) { return "late", nil }); !errors.Is(err, ErrOpen) || v != "" {
		t.Fatalf("want ErrOpen and zero value, got %q, %v", v, err)
	}
}
