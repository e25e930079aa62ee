//go:build !opus

package voice

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-chat/internal/logging"
)

// Builds without the opus tag have no libopus; receive and playback are
// disabled but the rest of the pipeline still runs.

var errNoOpus = fmt.Errorf("built without opus support: %w", ErrNotConfigured)

func newOpusDecoder() (frameDecoder, error) { return nil, errNoOpus }

type DiscordOutput struct {
	vc   *discordgo.VoiceConnection
	once sync.Once
}

func NewDiscordOutput(vc *discordgo.VoiceConnection) *DiscordOutput {
	return &DiscordOutput{vc: vc}
}

// Connected is always false so nothing is synthesized for a voice
// connection that cannot play it.
func (d *DiscordOutput) Connected() bool {
	d.once.Do(func() {
		logging.Warnw("voice: playback disabled, rebuild with -tags opus")
	})
	return false
}

func (d *DiscordOutput) Play(string, func(error)) error { return errNoOpus }

func (d *DiscordOutput) Stop() {}
