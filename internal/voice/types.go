package voice

import (
	"errors"
	"time"
)

// Discord delivers decoded audio as 48kHz stereo signed 16-bit little-endian.
const (
	SampleRate     = 48000
	Channels       = 2
	BytesPerSample = 2
	bytesPerSecond = SampleRate * Channels * BytesPerSample

	// FrameBytes is one 20ms frame.
	FrameBytes = bytesPerSecond / 50
	// FrameSamples is the per-channel sample count of one 20ms frame.
	FrameSamples = SampleRate / 50
)

var (
	ErrSessionNotFound = errors.New("voice session not found")
	ErrSessionClosed   = errors.New("voice session closed")
	ErrNotConnected    = errors.New("voice output not connected")
	ErrNotConfigured   = errors.New("collaborator not configured")
	ErrSynthesis       = errors.New("speech synthesis failed")
)

// PCMDuration converts a byte length of session PCM into playback time.
func PCMDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / bytesPerSecond
}

type Role string

const (
	RoleSpeaker   Role = "speaker"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a session's conversation window.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Utterance is a silence-bounded snapshot of one speaker's audio. The
// dispatcher owns it after segmentation and releases the audio after a
// single transcription pass.
type Utterance struct {
	SessionID     string
	SpeakerID     string
	CorrelationID string
	CapturedAt    time.Time

	pcm      []byte
	duration time.Duration
}

func newUtterance(sessionID, speakerID, correlationID string, pcm []byte, capturedAt time.Time) *Utterance {
	return &Utterance{
		SessionID:     sessionID,
		SpeakerID:     speakerID,
		CorrelationID: correlationID,
		CapturedAt:    capturedAt,
		pcm:           pcm,
		duration:      PCMDuration(len(pcm)),
	}
}

// PCM returns the raw audio, or nil once released.
func (u *Utterance) PCM() []byte { return u.pcm }

// Duration is the captured audio length; it survives Release.
func (u *Utterance) Duration() time.Duration { return u.duration }

// Release drops the audio buffer.
func (u *Utterance) Release() { u.pcm = nil }
