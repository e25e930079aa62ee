package voice

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-chat/internal/logging"
)

// FrameSink receives decoded PCM frames; *Pipeline implements it.
type FrameSink interface {
	OnFrame(sessionID, speakerID string, pcm []byte, isSelf bool)
}

type frameDecoder interface {
	Decode(payload []byte) ([]int16, error)
}

// Receiver maps a voice connection's SSRCs to users and feeds decoded
// frames into a FrameSink. Each SSRC gets its own Opus decoder since the
// decoder is stateful.
type Receiver struct {
	sessionID  string
	selfID     string
	sink       FrameSink
	resolver   NameResolver
	newDecoder func() (frameDecoder, error)

	mu       sync.Mutex
	ssrcMap  map[uint32]string
	decoders map[uint32]frameDecoder

	unknownCount   atomic.Int64
	decodeErrCount atomic.Int64
}

func NewReceiver(sessionID, selfID string, sink FrameSink, resolver NameResolver) *Receiver {
	if resolver == nil {
		resolver = NewNoopResolver()
	}
	return &Receiver{
		sessionID:  sessionID,
		selfID:     selfID,
		sink:       sink,
		resolver:   resolver,
		newDecoder: newOpusDecoder,
		ssrcMap:    make(map[uint32]string),
		decoders:   make(map[uint32]frameDecoder),
	}
}

// HandleSpeakingUpdate records the SSRC -> user mapping. It has the
// signature discordgo.VoiceConnection.AddHandler expects.
func (r *Receiver) HandleSpeakingUpdate(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	if su == nil || su.UserID == "" {
		return
	}
	ssrc := uint32(su.SSRC)
	r.mu.Lock()
	if prev, ok := r.ssrcMap[ssrc]; ok && prev != su.UserID {
		delete(r.decoders, ssrc)
	}
	r.ssrcMap[ssrc] = su.UserID
	r.mu.Unlock()
	logging.Debugw("voice: mapped SSRC to user", append(logging.UserFields(su.UserID, r.resolver.UserName(su.UserID)), "session.id", r.sessionID, "ssrc", ssrc)...)
}

// ForgetUser drops every SSRC mapped to userID.
func (r *Receiver) ForgetUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ssrc, uid := range r.ssrcMap {
		if uid == userID {
			delete(r.ssrcMap, ssrc)
			delete(r.decoders, ssrc)
		}
	}
}

// UserForSSRC returns the mapped user id, or "" when unknown.
func (r *Receiver) UserForSSRC(ssrc uint32) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ssrcMap[ssrc]
}

// ProcessOpusFrame decodes one Opus packet and forwards it. Packets from
// SSRCs without a speaking update yet are dropped.
func (r *Receiver) ProcessOpusFrame(ssrc uint32, payload []byte) {
	r.mu.Lock()
	uid, ok := r.ssrcMap[ssrc]
	if !ok {
		r.mu.Unlock()
		if n := r.unknownCount.Add(1); n == 1 || n%500 == 0 {
			logging.Debugw("voice: dropping frame from unmapped SSRC", "session.id", r.sessionID, "ssrc", ssrc, "dropped_total", n)
		}
		return
	}
	dec := r.decoders[ssrc]
	if dec == nil {
		var err error
		if dec, err = r.newDecoder(); err != nil {
			r.mu.Unlock()
			logging.Errorw("voice: opus decoder unavailable", "session.id", r.sessionID, "ssrc", ssrc, "err", err)
			return
		}
		r.decoders[ssrc] = dec
	}
	r.mu.Unlock()

	samples, err := dec.Decode(payload)
	if err != nil {
		r.decodeErrCount.Add(1)
		logging.Debugw("voice: opus decode error", "session.id", r.sessionID, "ssrc", ssrc, "err", err)
		return
	}
	if len(samples) == 0 {
		return
	}
	r.sink.OnFrame(r.sessionID, uid, int16sToBytes(samples), uid == r.selfID)
}

// Run consumes packets until ctx ends or the channel closes.
func (r *Receiver) Run(ctx context.Context, packets <-chan *discordgo.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			if pkt != nil {
				r.ProcessOpusFrame(pkt.SSRC, pkt.Opus)
			}
		}
	}
}
