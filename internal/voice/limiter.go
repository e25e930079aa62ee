package voice

import "context"

// workerLimit caps concurrent external calls for one session.
type workerLimit chan struct{}

func newWorkerLimit(n int) workerLimit {
	if n <= 0 {
		n = 1
	}
	return make(workerLimit, n)
}

func (w workerLimit) acquire(ctx context.Context) error {
	select {
	case w <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w workerLimit) release() { <-w }

// do runs fn while holding one slot.
func (w workerLimit) do(ctx context.Context, fn func() error) error {
	if err := w.acquire(ctx); err != nil {
		return err
	}
	defer w.release()
	return fn()
}
