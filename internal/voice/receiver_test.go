package voice

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
)

type frameRecord struct {
	session, speaker string
	size             int
	self             bool
}

type recordingSink struct {
	mu     sync.Mutex
	frames []frameRecord
}

func (r *recordingSink) OnFrame(sessionID, speakerID string, pcm []byte, isSelf bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frameRecord{sessionID, speakerID, len(pcm), isSelf})
}

type stubDecoder struct{ fail bool }

func (s *stubDecoder) Decode(payload []byte) ([]int16, error) {
	if s.fail {
		return nil, errors.New("corrupt")
	}
	return make([]int16, FrameSamples*Channels), nil
}

func newTestReceiver(sink FrameSink) (*Receiver, *int) {
	r := NewReceiver("g1", "bot", sink, nil)
	created := 0
	r.newDecoder = func() (frameDecoder, error) {
		created++
		return &stubDecoder{}, nil
	}
	return r, &created
}

func TestHandleSpeakingUpdateMapsSSRC(t *testing.T) {
	r, _ := newTestReceiver(&recordingSink{})
	r.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "test-user-1", SSRC: 12345, Speaking: true})
	if got := r.UserForSSRC(12345); got != "test-user-1" {
		t.Fatalf("ssrc mapping mismatch: want=test-user-1 got=%s", got)
	}
	r.ForgetUser("test-user-1")
	if got := r.UserForSSRC(12345); got != "" {
		t.Fatalf("mapping survived ForgetUser: %s", got)
	}
}

func TestReceiverForwardsDecodedFrames(t *testing.T) {
	sink := &recordingSink{}
	r, created := newTestReceiver(sink)
	r.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "alice", SSRC: 1})
	r.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "bot", SSRC: 2})

	packets := make(chan *discordgo.Packet, 4)
	packets <- &discordgo.Packet{SSRC: 1, Opus: []byte{1}}
	packets <- &discordgo.Packet{SSRC: 1, Opus: []byte{2}}
	packets <- &discordgo.Packet{SSRC: 2, Opus: []byte{3}}
	packets <- &discordgo.Packet{SSRC: 99, Opus: []byte{4}}
	close(packets)
	r.Run(context.Background(), packets)

	if len(sink.frames) != 3 {
		t.Fatalf("want 3 frames (unmapped SSRC dropped), got %+v", sink.frames)
	}
	if f := sink.frames[0]; f.speaker != "alice" || f.size != FrameBytes || f.self {
		t.Fatalf("frame = %+v", f)
	}
	if !sink.frames[2].self {
		t.Fatalf("bot frame not flagged as self")
	}
	if *created != 2 {
		t.Fatalf("want one decoder per SSRC, got %d", *created)
	}
}

func TestReceiverSkipsUndecodableFrames(t *testing.T) {
	sink := &recordingSink{}
	r := NewReceiver("g1", "bot", sink, NewNoopResolver())
	r.newDecoder = func() (frameDecoder, error) { return &stubDecoder{fail: true}, nil }
	r.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "alice", SSRC: 1})
	r.ProcessOpusFrame(1, []byte{0})
	if len(sink.frames) != 0 || r.decodeErrCount.Load() != 1 {
		t.Fatalf("corrupt frame forwarded or not counted")
	}
}
