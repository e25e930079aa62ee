//go:build opus

package voice

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/discord-voice-chat/internal/logging"
)

// maxOpusFrameSamples fits the longest Opus frame (120ms) per channel.
const maxOpusFrameSamples = SampleRate * 120 / 1000

type opusFrameDecoder struct {
	dec *opus.Decoder
	buf []int16
}

func newOpusDecoder() (frameDecoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, err
	}
	return &opusFrameDecoder{dec: dec, buf: make([]int16, maxOpusFrameSamples*Channels)}, nil
}

func (o *opusFrameDecoder) Decode(payload []byte) ([]int16, error) {
	n, err := o.dec.Decode(payload, o.buf)
	if err != nil {
		return nil, err
	}
	return append([]int16(nil), o.buf[:n*Channels]...), nil
}

// DiscordOutput plays audio files into a discordgo voice connection by
// decoding them to PCM and streaming 20ms Opus frames on OpusSend.
type DiscordOutput struct {
	vc *discordgo.VoiceConnection

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewDiscordOutput(vc *discordgo.VoiceConnection) *DiscordOutput {
	return &DiscordOutput{vc: vc}
}

func (d *DiscordOutput) Connected() bool {
	if d.vc == nil {
		return false
	}
	d.vc.RLock()
	defer d.vc.RUnlock()
	return d.vc.Ready
}

func (d *DiscordOutput) Play(path string, done func(error)) error {
	pcm, err := decodeAudioFile(path)
	if err != nil {
		return err
	}
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}
	d.Stop()
	stop := make(chan struct{})
	fin := make(chan struct{})
	d.mu.Lock()
	d.stop, d.done = stop, fin
	d.mu.Unlock()
	go func() {
		defer close(fin)
		done(d.stream(enc, pcm, stop))
	}()
	return nil
}

func (d *DiscordOutput) stream(enc *opus.Encoder, pcm []int16, stop <-chan struct{}) error {
	if err := d.vc.Speaking(true); err != nil {
		logging.Debugw("voice: speaking(true) failed", "err", err)
	}
	defer func() { _ = d.vc.Speaking(false) }()

	const step = FrameSamples * Channels
	frame := make([]int16, step)
	packet := make([]byte, 4000)
	for off := 0; off < len(pcm); off += step {
		n := copy(frame, pcm[off:min(off+step, len(pcm))])
		clear(frame[n:])
		size, err := enc.Encode(frame, packet)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		select {
		case d.vc.OpusSend <- append([]byte(nil), packet[:size]...):
		case <-stop:
			return nil
		}
	}
	return nil
}

// Stop interrupts the current playback and waits for its done callback.
func (d *DiscordOutput) Stop() {
	d.mu.Lock()
	stop, fin := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-fin
}
