package voice

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// pcmFrames returns n 20ms frames of non-zero audio.
func pcmFrames(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		f := make([]byte, FrameBytes)
		for j := range f {
			f[j] = byte(j)
		}
		out[i] = f
	}
	return out
}

type fakeTranscriber struct {
	mu       sync.Mutex
	text     string
	err      error
	gate     chan struct{}
	calls    atomic.Int32
	inflight atomic.Int32
	maxSeen  atomic.Int32
	sizes    []int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	f.mu.Lock()
	f.sizes = append(f.sizes, len(wav))
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, f.err
}

type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	history [][]Turn
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, history []Turn, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, history)
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

type fakeSynth struct {
	mu    sync.Mutex
	err   error
	texts []string
	// onCall runs before returning audio, for ordering assertions.
	onCall func(text string)
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	err, onCall := f.err, f.onCall
	f.mu.Unlock()
	if onCall != nil {
		onCall(text)
	}
	if err != nil {
		return nil, err
	}
	return buildWAV(make([]byte, FrameBytes), SampleRate, Channels, 16), nil
}

func (f *fakeSynth) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// fakeOutput keeps a playback running until Stop or finish is called.
type fakeOutput struct {
	mu        sync.Mutex
	connected bool
	played    []string
	stops     int
	done      func(error)
}

func newFakeOutput() *fakeOutput { return &fakeOutput{connected: true} }

func (f *fakeOutput) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeOutput) Play(path string, done func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, path)
	f.done = done
	return nil
}

func (f *fakeOutput) Stop() {
	f.mu.Lock()
	f.stops++
	done := f.done
	f.done = nil
	f.mu.Unlock()
	if done != nil {
		done(nil)
	}
}

// finish completes the current playback as if the audio ran out.
func (f *fakeOutput) finish() {
	f.mu.Lock()
	done := f.done
	f.done = nil
	f.mu.Unlock()
	if done != nil {
		done(nil)
	}
}

func (f *fakeOutput) Played() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...)
}

func (f *fakeOutput) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}
