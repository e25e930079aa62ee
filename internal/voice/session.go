package voice

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/discord-voice-chat/internal/logging"
)

// frame is one queued PCM chunk, or with leave set, a marker that the
// speaker left after every frame queued ahead of it.
type frame struct {
	speakerID string
	pcm       []byte
	leave     bool
}

// Session is the per-voice-session slice of the pipeline: a bounded frame
// queue drained by one consumer goroutine into the segmenter, a dispatcher
// and a playback, sharing one worker limit for external calls.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	frames  chan frame
	dropped atomic.Int64

	seg      *Segmenter
	disp     *Dispatcher
	playback *Playback
	limit    workerLimit

	wg           sync.WaitGroup
	consumerDone chan struct{}
	closeOnce    sync.Once
}

func (s *Session) ID() string { return s.id }

// enqueue never blocks; a full queue drops the frame.
func (s *Session) enqueue(speakerID string, pcm []byte) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.frames <- frame{speakerID: speakerID, pcm: append([]byte(nil), pcm...)}:
		return true
	default:
		n := s.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			logging.Warnw("voice: frame queue full, dropping frame", append(logging.SpeakerFields(s.id, speakerID), "dropped_total", n)...)
		}
		return false
	}
}

func (s *Session) consume() {
	defer close(s.consumerDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.frames:
			if f.leave {
				s.seg.RemoveSpeaker(f.speakerID)
				continue
			}
			s.seg.Append(f.speakerID, f.pcm)
		}
	}
}

// removeSpeaker tears the speaker down now and again once the consumer
// reaches the leave marker, so frames still queued cannot bring the buffer
// back. The marker send waits for room rather than drop.
func (s *Session) removeSpeaker(speakerID string) {
	s.seg.RemoveSpeaker(speakerID)
	s.disp.Forget(speakerID)
	select {
	case s.frames <- frame{speakerID: speakerID, leave: true}:
	case <-s.ctx.Done():
	}
	logging.Infow("voice: speaker removed", logging.SpeakerFields(s.id, speakerID)...)
}

// close tears everything down and waits for in-flight work to return.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.consumerDone
		s.seg.Close()
		s.disp.Close()
		s.playback.Close()
		s.wg.Wait()
		logging.Infow("voice: session closed", append(logging.SessionFields(s.id), "dropped_frames", s.dropped.Load())...)
	})
}

// Dropped returns the number of frames dropped on a full queue.
func (s *Session) Dropped() int64 { return s.dropped.Load() }
