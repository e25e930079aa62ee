package voice

import "context"

// Transcriber turns a WAV-wrapped utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Completer produces a reply from the recent turns and a new prompt.
type Completer interface {
	Complete(ctx context.Context, history []Turn, prompt string) (string, error)
}

// Synthesizer renders text into an encoded audio file (WAV or MP3).
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// VoiceOutput is the playback side of a live voice session. Play must not
// block for the duration of the audio; done is called exactly once when
// playback ends, is stopped, or fails after Play returned nil.
type VoiceOutput interface {
	Connected() bool
	Play(path string, done func(error)) error
	Stop()
}

// NameResolver maps Discord IDs to display names for logs.
type NameResolver interface {
	UserName(userID string) string
	GuildName(guildID string) string
	ChannelName(channelID string) string
}
