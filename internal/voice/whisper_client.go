package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/discord-voice-chat/internal/config"
	"github.com/discord-voice-chat/internal/logging"
)

// buildWAV prepends a canonical 44-byte RIFF/WAVE header for PCM data.
func buildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVEfmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}

// WhisperClient is a Transcriber for a whisper-compatible HTTP service that
// accepts audio/wav and answers {"text": ...}.
type WhisperClient struct {
	url    string
	poster *httpPoster
}

func NewWhisperClient(cfg config.WhisperConfig) (*WhisperClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("whisper: %w", ErrNotConfigured)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("whisper: parse url: %w", err)
	}
	q := u.Query()
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	if cfg.Translate {
		q.Set("task", "translate")
	}
	u.RawQuery = q.Encode()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WhisperClient{
		url:    u.String(),
		poster: newHTTPPoster("whisper", &http.Client{Timeout: timeout}, ""),
	}, nil
}

func (w *WhisperClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	cid := uuid.NewString()
	start := time.Now()
	body, err := w.poster.PostWithRetries(ctx, w.url, "audio/wav", wav, cid)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	logging.Debugw("voice: STT response received", "correlation_id", cid, "bytes", len(wav), "stt_latency_ms", time.Since(start).Milliseconds())
	return strings.TrimSpace(out.Text), nil
}
