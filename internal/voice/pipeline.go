package voice

import (
	"context"
	"sort"
	"sync"

	"github.com/discord-voice-chat/internal/config"
	"github.com/discord-voice-chat/internal/logging"
)

// Collaborators are the external engines the pipeline drives. Any may be
// nil; the matching stage then degrades to a logged no-op.
type Collaborators struct {
	Transcriber Transcriber
	Completer   Completer
	Synthesizer Synthesizer
}

// SessionInfo summarizes a live session for operators.
type SessionInfo struct {
	ID       string `json:"session_id"`
	Speakers int    `json:"speakers"`
	Turns    int    `json:"turns"`
	Playback string `json:"playback"`
	Dropped  int64  `json:"dropped_frames"`
}

// Pipeline is the session registry and the entry point for frames.
type Pipeline struct {
	cfg       config.VoiceConfig
	collab    Collaborators
	store     *ContextStore
	responder *Responder

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewPipeline(cfg config.VoiceConfig, collab Collaborators) *Pipeline {
	store := NewContextStore(cfg.MaxTurns, cfg.ContextTTL)
	var wake *WakeDetector
	if len(cfg.WakePhrases) > 0 {
		wake = NewWakeDetector(cfg.WakePhrases, 1)
	}
	return &Pipeline{
		cfg:       cfg,
		collab:    collab,
		store:     store,
		responder: newResponder(store, collab.Completer, wake, cfg.MaxReplyChars),
		sessions:  make(map[string]*Session),
	}
}

func (p *Pipeline) Store() *ContextStore { return p.store }

// StartSession creates the session state for id with out as its playback
// target. It reports false when the session already exists.
func (p *Pipeline) StartSession(id string, out VoiceOutput) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[id]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	queue := p.cfg.FrameQueue
	if queue <= 0 {
		queue = 256
	}
	s := &Session{
		id:           id,
		ctx:          ctx,
		cancel:       cancel,
		frames:       make(chan frame, queue),
		limit:        newWorkerLimit(p.cfg.Workers),
		consumerDone: make(chan struct{}),
	}
	s.playback = newPlayback(id, out, p.collab.Synthesizer, p.cfg.TempDir, s.limit)
	s.disp = newDispatcher(ctx, id, p.cfg.PendingPolicy, p.collab.Transcriber, s.limit, &s.wg,
		func(ctx context.Context, u *Utterance, text string) {
			p.responder.Respond(ctx, s, u, text)
		})
	s.seg = NewSegmenter(id, p.cfg.SilenceThreshold, p.cfg.MinUtterance, func(u *Utterance) { s.disp.Submit(u) })
	p.sessions[id] = s
	go s.consume()
	logging.Infow("voice: session started", logging.SessionFields(id)...)
	return true
}

// StopSession tears down the session and clears its conversation. It
// reports false when no such session exists.
func (p *Pipeline) StopSession(id string) bool {
	p.mu.Lock()
	s, ok := p.sessions[id]
	delete(p.sessions, id)
	p.mu.Unlock()
	if !ok {
		return false
	}
	s.close()
	p.store.Delete(id)
	return true
}

func (p *Pipeline) session(id string) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[id]
	return s, ok
}

func (p *Pipeline) HasSession(id string) bool {
	_, ok := p.session(id)
	return ok
}

// OnFrame accepts one decoded PCM frame. It never blocks; frames from the
// bot itself and for unknown sessions are ignored.
func (p *Pipeline) OnFrame(sessionID, speakerID string, pcm []byte, isSelf bool) {
	if isSelf || len(pcm) == 0 {
		return
	}
	s, ok := p.session(sessionID)
	if !ok {
		return
	}
	s.enqueue(speakerID, pcm)
}

// SpeakerLeft drops the speaker's buffer, timer and pending transcription.
func (p *Pipeline) SpeakerLeft(sessionID, speakerID string) {
	if s, ok := p.session(sessionID); ok {
		s.removeSpeaker(speakerID)
	}
}

// Speak plays text into the session, bypassing the conversation window.
func (p *Pipeline) Speak(ctx context.Context, sessionID, text string) error {
	s, ok := p.session(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return s.playback.Speak(ctx, text)
}

// RecentTurns returns the session's conversation window.
func (p *Pipeline) RecentTurns(sessionID string) ([]Turn, error) {
	if _, ok := p.session(sessionID); !ok {
		return nil, ErrSessionNotFound
	}
	return p.store.RecentTurns(sessionID, 0), nil
}

// Sessions lists live sessions ordered by id.
func (p *Pipeline) Sessions() []SessionInfo {
	p.mu.RLock()
	list := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		list = append(list, s)
	}
	p.mu.RUnlock()
	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, SessionInfo{
			ID:       s.id,
			Speakers: s.seg.Speakers(),
			Turns:    len(p.store.RecentTurns(s.id, 0)),
			Playback: s.playback.State().String(),
			Dropped:  s.Dropped(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run sweeps idle conversations until ctx ends.
func (p *Pipeline) Run(ctx context.Context) {
	p.store.Run(ctx, p.cfg.SweepInterval)
}

// Close stops every session.
func (p *Pipeline) Close() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.StopSession(id)
	}
}
