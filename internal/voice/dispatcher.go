package voice

import (
	"context"
	"strings"
	"sync"

	"github.com/discord-voice-chat/internal/config"
	"github.com/discord-voice-chat/internal/logging"
)

type pendingTranscription struct {
	parked *Utterance
}

// replyLane runs one speaker's transcripts through onText one at a time in
// the order they were transcribed.
type replyLane struct {
	queue   []laneItem
	running bool
}

type laneItem struct {
	u    *Utterance
	text string
}

// Dispatcher runs transcription off the frame path with at most one request
// in flight per speaker. Utterances that arrive while a speaker is pending
// are dropped, or with the queue policy parked one-deep (newest wins).
type Dispatcher struct {
	ctx         context.Context
	sessionID   string
	policy      string
	transcriber Transcriber
	limit       workerLimit
	onText      func(ctx context.Context, u *Utterance, text string)
	wg          *sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*pendingTranscription
	lanes   map[string]*replyLane
	closed  bool
}

func newDispatcher(ctx context.Context, sessionID, policy string, tr Transcriber, limit workerLimit, wg *sync.WaitGroup, onText func(context.Context, *Utterance, string)) *Dispatcher {
	return &Dispatcher{
		ctx:         ctx,
		sessionID:   sessionID,
		policy:      policy,
		transcriber: tr,
		limit:       limit,
		onText:      onText,
		wg:          wg,
		pending:     make(map[string]*pendingTranscription),
		lanes:       make(map[string]*replyLane),
	}
}

// Submit hands an utterance to the dispatcher and reports whether it was
// accepted. Rejected utterances are released.
func (d *Dispatcher) Submit(u *Utterance) bool {
	fields := logging.UtteranceFields(u.SessionID, u.SpeakerID, u.CorrelationID, len(u.PCM()), int(u.Duration().Milliseconds()))
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		u.Release()
		return false
	}
	if p, busy := d.pending[u.SpeakerID]; busy {
		if d.policy == config.PendingQueue {
			if p.parked != nil {
				p.parked.Release()
				logging.Debugw("voice: replaced parked utterance", fields...)
			}
			p.parked = u
			d.mu.Unlock()
			return true
		}
		d.mu.Unlock()
		u.Release()
		logging.Infow("voice: dropped utterance, transcription pending", fields...)
		return false
	}
	p := &pendingTranscription{}
	d.pending[u.SpeakerID] = p
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(p, u)
	return true
}

func (d *Dispatcher) run(p *pendingTranscription, u *Utterance) {
	defer d.wg.Done()
	for u != nil {
		text, ok := d.transcribe(u)

		d.mu.Lock()
		current := !d.closed && d.pending[u.SpeakerID] == p
		next := (*Utterance)(nil)
		if current {
			next, p.parked = p.parked, nil
			if next == nil {
				delete(d.pending, u.SpeakerID)
			}
		}
		if ok && current {
			d.enqueueReplyLocked(u, text)
		}
		d.mu.Unlock()

		if !current {
			if ok {
				logging.Debugw("voice: discarding late transcript", "session.id", d.sessionID, "speaker.id", u.SpeakerID, "correlation_id", u.CorrelationID)
			}
			return
		}
		u = next
	}
}

func (d *Dispatcher) enqueueReplyLocked(u *Utterance, text string) {
	l := d.lanes[u.SpeakerID]
	if l == nil {
		l = &replyLane{}
		d.lanes[u.SpeakerID] = l
	}
	l.queue = append(l.queue, laneItem{u: u, text: text})
	if l.running {
		return
	}
	l.running = true
	d.wg.Add(1)
	go d.drainLane(u.SpeakerID, l)
}

// drainLane stops early when the lane was dropped by Forget or Close.
func (d *Dispatcher) drainLane(speakerID string, l *replyLane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if d.lanes[speakerID] != l || len(l.queue) == 0 {
			l.running = false
			if d.lanes[speakerID] == l {
				delete(d.lanes, speakerID)
			}
			d.mu.Unlock()
			return
		}
		it := l.queue[0]
		l.queue = l.queue[1:]
		d.mu.Unlock()
		d.onText(d.ctx, it.u, it.text)
	}
}

// transcribe makes one pass over u and always releases its audio.
func (d *Dispatcher) transcribe(u *Utterance) (string, bool) {
	defer u.Release()
	if d.transcriber == nil {
		logging.Warnw("voice: no transcriber configured, dropping utterance", "session.id", d.sessionID, "speaker.id", u.SpeakerID)
		return "", false
	}
	wav := buildWAV(u.PCM(), SampleRate, Channels, BytesPerSample*8)
	var text string
	err := d.limit.do(d.ctx, func() error {
		var terr error
		text, terr = d.transcriber.Transcribe(d.ctx, wav)
		return terr
	})
	fields := logging.UtteranceFields(u.SessionID, u.SpeakerID, u.CorrelationID, len(u.PCM()), int(u.Duration().Milliseconds()))
	if err != nil {
		if d.ctx.Err() == nil {
			logging.Warnw("voice: transcription failed", append(fields, "err", err)...)
		}
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		logging.Debugw("voice: empty transcript", fields...)
		return "", false
	}
	logging.Infow("voice: transcript", append(fields, "text", text)...)
	return text, true
}

// Pending reports whether the speaker has a transcription in flight.
func (d *Dispatcher) Pending(speakerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[speakerID]
	return ok
}

// Forget clears a speaker's pending state; an in-flight result and any
// transcript still waiting for a reply are discarded.
func (d *Dispatcher) Forget(speakerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lanes, speakerID)
	if p, ok := d.pending[speakerID]; ok {
		if p.parked != nil {
			p.parked.Release()
		}
		delete(d.pending, speakerID)
	}
}

// Close rejects further submissions and discards all pending state.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	clear(d.lanes)
	for id, p := range d.pending {
		if p.parked != nil {
			p.parked.Release()
		}
		delete(d.pending, id)
	}
}
