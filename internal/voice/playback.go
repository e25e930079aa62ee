package voice

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/discord-voice-chat/internal/logging"
)

type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackSynthesizing
	PlaybackPlaying
	PlaybackFailed
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackSynthesizing:
		return "synthesizing"
	case PlaybackPlaying:
		return "playing"
	case PlaybackFailed:
		return "failed"
	default:
		return "idle"
	}
}

// activePlayback owns one temp audio file. cleanup runs at most once no
// matter which exit path gets there first.
type activePlayback struct {
	sessionID string
	path      string
	once      sync.Once
}

func (a *activePlayback) cleanup() {
	a.once.Do(func() {
		if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
			logging.Warnw("voice: failed to remove temp audio", "session.id", a.sessionID, "path", a.path, "err", err)
			return
		}
		logging.Debugw("voice: removed temp audio", "session.id", a.sessionID, "path", a.path)
	})
}

// Playback synthesizes replies and plays them one at a time into a voice
// session. A new Speak stops and cleans up the current playback before
// synthesizing (newest wins).
type Playback struct {
	sessionID string
	out       VoiceOutput
	synth     Synthesizer
	tempDir   string
	limit     workerLimit

	// outMu orders Stop and Play calls on out; it is taken before mu.
	outMu sync.Mutex

	mu     sync.Mutex
	state  PlaybackState
	gen    uint64
	active *activePlayback
	closed bool
}

func newPlayback(sessionID string, out VoiceOutput, synth Synthesizer, tempDir string, limit workerLimit) *Playback {
	return &Playback{
		sessionID: sessionID,
		out:       out,
		synth:     synth,
		tempDir:   tempDir,
		limit:     limit,
	}
}

func (p *Playback) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Speak renders text and starts playing it. It returns ErrNotConnected when
// the session has no live voice connection, and an ErrSynthesis-wrapped
// error when the audio could not be produced. A Speak superseded by a newer
// one returns nil.
func (p *Playback) Speak(ctx context.Context, text string) error {
	if p.out == nil || !p.out.Connected() {
		logging.Debugw("voice: speak ignored, not connected", "session.id", p.sessionID)
		return ErrNotConnected
	}
	if p.synth == nil {
		return fmt.Errorf("%w: %w", ErrSynthesis, ErrNotConfigured)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrSessionClosed
	}
	p.gen++
	gen := p.gen
	prev := p.active
	p.active = nil
	p.state = PlaybackSynthesizing
	p.mu.Unlock()

	if prev != nil {
		p.outMu.Lock()
		p.out.Stop()
		p.outMu.Unlock()
		prev.cleanup()
		logging.Infow("voice: barge-in stopped active playback", "session.id", p.sessionID)
	}

	var audio []byte
	err := p.limit.do(ctx, func() error {
		var serr error
		audio, serr = p.synth.Synthesize(ctx, text)
		return serr
	})
	if err == nil && len(audio) == 0 {
		err = fmt.Errorf("empty audio")
	}
	var path string
	if err == nil {
		path = newTempAudioPath(p.tempDir, audio)
		err = SaveFileAtomic(path, audio, 0o600)
	}
	if err != nil {
		p.fail(gen, err)
		return fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	ap := &activePlayback{sessionID: p.sessionID, path: path}
	p.outMu.Lock()
	defer p.outMu.Unlock()
	p.mu.Lock()
	if p.closed || gen != p.gen {
		p.mu.Unlock()
		ap.cleanup()
		logging.Debugw("voice: synthesis superseded", "session.id", p.sessionID)
		return nil
	}
	p.active = ap
	p.state = PlaybackPlaying
	p.mu.Unlock()

	logging.Infow("voice: playback started", "session.id", p.sessionID, "path", path, "chars", len(text))
	if err := p.out.Play(path, func(perr error) { p.finished(ap, perr) }); err != nil {
		p.finished(ap, err)
		return err
	}
	return nil
}

func (p *Playback) fail(gen uint64, err error) {
	p.mu.Lock()
	if gen == p.gen && !p.closed {
		p.state = PlaybackFailed
		logging.Warnw("voice: synthesis failed", "session.id", p.sessionID, "err", err)
		p.state = PlaybackIdle
	}
	p.mu.Unlock()
}

func (p *Playback) finished(ap *activePlayback, err error) {
	ap.cleanup()
	p.mu.Lock()
	if p.active == ap {
		p.active = nil
		p.state = PlaybackIdle
	}
	p.mu.Unlock()
	if err != nil {
		logging.Warnw("voice: playback ended with error", "session.id", p.sessionID, "err", err)
		return
	}
	logging.Debugw("voice: playback finished", "session.id", p.sessionID)
}

// Close stops any playback, runs its cleanup synchronously and leaves the
// state Idle. In-flight syntheses clean up after themselves.
func (p *Playback) Close() {
	p.mu.Lock()
	p.closed = true
	p.gen++
	prev := p.active
	p.active = nil
	p.state = PlaybackIdle
	p.mu.Unlock()

	if prev != nil {
		p.outMu.Lock()
		p.out.Stop()
		p.outMu.Unlock()
		prev.cleanup()
	}
}
