package main

import (
	"sync"
	"testing"

	"github.com/discord-voice-chat/internal/config"
	"github.com/discord-voice-chat/internal/voice"
)

type recordingSink struct {
	mu     sync.Mutex
	frames int
}

func (r *recordingSink) OnFrame(string, string, []byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames++
}

func TestCollaboratorsDegradeWhenUnconfigured(t *testing.T) {
	c := collaborators(config.Default())
	if c.Transcriber != nil {
		t.Fatalf("transcriber built without a url")
	}
	if c.Synthesizer != nil {
		t.Fatalf("synthesizer built without a url")
	}
	if c.Completer == nil {
		t.Fatalf("completer missing")
	}
}

func TestCollaboratorsConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Whisper.URL = "http://stt.local/asr"
	cfg.TTS.URL = "http://tts.local/synthesize"
	c := collaborators(cfg)
	if c.Transcriber == nil || c.Synthesizer == nil {
		t.Fatalf("clients not built: %+v", c)
	}
}

func TestPipelineSatisfiesReceiverSink(t *testing.T) {
	p := voice.NewPipeline(config.Default().Voice, voice.Collaborators{})
	defer p.Close()
	var _ voice.FrameSink = p

	sink := &recordingSink{}
	rx := voice.NewReceiver("g1", "bot", sink, voice.NewNoopResolver())
	if rx.UserForSSRC(1) != "" {
		t.Fatalf("fresh receiver has mappings")
	}
	rx.ProcessOpusFrame(1, []byte{0xf8, 0xff, 0xfe})
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.frames != 0 {
		t.Fatalf("frames from an unmapped ssrc reached the sink")
	}
}
