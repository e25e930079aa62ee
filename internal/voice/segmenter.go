package voice

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discord-voice-chat/internal/logging"
)

// speakerBuffer accumulates one speaker's frames until a silence window
// elapses. It is either accumulating or flushed-and-empty.
type speakerBuffer struct {
	chunks        [][]byte
	size          int
	firstFrame    time.Time
	lastFrame     time.Time
	correlationID string
	timer         *time.Timer
}

// Segmenter cuts each speaker's stream into utterances at silence gaps. One
// timer per speaker is armed by the first frame of an utterance; when it
// fires early because newer frames arrived it re-arms for the remaining
// window instead of flushing.
type Segmenter struct {
	sessionID string
	silence   time.Duration
	minAudio  time.Duration
	emit      func(*Utterance)

	mu       sync.Mutex
	speakers map[string]*speakerBuffer
	closed   bool
}

func NewSegmenter(sessionID string, silence, minAudio time.Duration, emit func(*Utterance)) *Segmenter {
	return &Segmenter{
		sessionID: sessionID,
		silence:   silence,
		minAudio:  minAudio,
		emit:      emit,
		speakers:  make(map[string]*speakerBuffer),
	}
}

// Append adds a frame to the speaker's buffer. pcm is retained.
func (s *Segmenter) Append(speakerID string, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	b, ok := s.speakers[speakerID]
	if !ok {
		b = &speakerBuffer{}
		s.speakers[speakerID] = b
	}
	if b.size == 0 {
		b.firstFrame = now
		b.correlationID = uuid.NewString()
	}
	b.chunks = append(b.chunks, pcm)
	b.size += len(pcm)
	b.lastFrame = now
	if b.timer == nil {
		b.timer = time.AfterFunc(s.silence, func() { s.fire(speakerID, b) })
	}
}

func (s *Segmenter) fire(speakerID string, b *speakerBuffer) {
	s.mu.Lock()
	if s.closed || s.speakers[speakerID] != b || b.timer == nil {
		s.mu.Unlock()
		return
	}
	if idle := time.Since(b.lastFrame); idle < s.silence {
		b.timer.Reset(s.silence - idle)
		s.mu.Unlock()
		return
	}
	pcm := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		pcm = append(pcm, c...)
	}
	u := newUtterance(s.sessionID, speakerID, b.correlationID, pcm, b.firstFrame)
	b.chunks = nil
	b.size = 0
	b.timer = nil
	b.correlationID = ""
	s.mu.Unlock()

	fields := logging.UtteranceFields(s.sessionID, speakerID, u.CorrelationID, len(pcm), int(u.Duration().Milliseconds()))
	if u.Duration() < s.minAudio {
		logging.Debugw("voice: discarding short utterance", fields...)
		return
	}
	logging.Debugw("voice: utterance segmented", fields...)
	s.emit(u)
}

// RemoveSpeaker stops the speaker's timer and discards buffered audio.
func (s *Segmenter) RemoveSpeaker(speakerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.speakers[speakerID]; ok {
		if b.timer != nil {
			b.timer.Stop()
		}
		delete(s.speakers, speakerID)
	}
}

// Speakers reports how many speakers currently have buffer state.
func (s *Segmenter) Speakers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.speakers)
}

// Close stops every timer; later Appends are ignored.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, b := range s.speakers {
		if b.timer != nil {
			b.timer.Stop()
		}
		delete(s.speakers, id)
	}
}
