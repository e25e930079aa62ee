package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/discord-voice-chat/internal/config"
	"github.com/discord-voice-chat/internal/logging"
)

// TTSClient is a Synthesizer for an HTTP service taking {"text": ...} and
// returning encoded audio bytes.
type TTSClient struct {
	url    string
	poster *httpPoster
}

func NewTTSClient(cfg config.TTSConfig) (*TTSClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("tts: %w", ErrNotConfigured)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TTSClient{
		url:    cfg.URL,
		poster: newHTTPPoster("tts", &http.Client{Timeout: timeout}, cfg.AuthToken),
	}, nil
}

func (t *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	cid := uuid.NewString()
	audio, err := t.poster.PostWithRetries(ctx, t.url, "application/json", payload, cid)
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts: empty audio")
	}
	logging.Debugw("voice: TTS audio received", "correlation_id", cid, "bytes", len(audio), "chars", len(text))
	return audio, nil
}
