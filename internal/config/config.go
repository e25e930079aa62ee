package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/discord-voice-chat/internal/logging"
)

// PendingPolicy values for VOICE_PENDING_POLICY.
const (
	PendingDrop  = "drop"
	PendingQueue = "queue"
)

// Config holds everything the bot reads from the environment.
type Config struct {
	DiscordToken  string
	CommandPrefix string

	Voice   VoiceConfig
	Whisper WhisperConfig
	LLM     LLMConfig
	TTS     TTSConfig

	// MCPListenAddr enables the MCP operator server when non-empty.
	MCPListenAddr string
}

// VoiceConfig tunes the realtime pipeline.
type VoiceConfig struct {
	SilenceThreshold time.Duration
	MinUtterance     time.Duration
	FrameQueue       int
	MaxTurns         int
	ContextTTL       time.Duration
	SweepInterval    time.Duration
	MaxReplyChars    int
	Workers          int
	PendingPolicy    string
	WakePhrases      []string
	TempDir          string
	TempRetention    time.Duration
}

type WhisperConfig struct {
	URL       string
	Language  string
	Translate bool
	Timeout   time.Duration
}

type LLMConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	MaxTokens     int
	SystemPrompt  string
}

type TTSConfig struct {
	URL       string
	AuthToken string
	Timeout   time.Duration
}

// DefaultSystemPrompt keeps replies short enough to be spoken.
const DefaultSystemPrompt = "You are a helpful assistant in a voice chat conversation. Keep responses conversational and under 200 characters to fit voice responses well. You have access to recent conversation history."

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		CommandPrefix: "!",
		Voice: VoiceConfig{
			SilenceThreshold: time.Second,
			MinUtterance:     500 * time.Millisecond,
			FrameQueue:       256,
			MaxTurns:         8,
			ContextTTL:       time.Hour,
			SweepInterval:    time.Hour,
			MaxReplyChars:    200,
			Workers:          2,
			PendingPolicy:    PendingDrop,
			TempDir:          os.TempDir(),
			TempRetention:    10 * time.Minute,
		},
		Whisper: WhisperConfig{Timeout: 15 * time.Second},
		LLM: LLMConfig{
			BaseURL:      "http://127.0.0.1:8000/v1",
			MaxTokens:    150,
			SystemPrompt: DefaultSystemPrompt,
		},
		TTS: TTSConfig{Timeout: 10 * time.Second},
	}
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warnw("config: failed to read .env", "err", err)
	}
	cfg := FromEnv(os.Getenv)
	return cfg, cfg.Validate()
}

// FromEnv builds a Config from getenv, falling back to defaults for unset or
// malformed values.
func FromEnv(getenv func(string) string) Config {
	cfg := Default()
	cfg.DiscordToken = strings.TrimSpace(getenv("DISCORD_BOT_TOKEN"))
	if v := strings.TrimSpace(getenv("COMMAND_PREFIX")); v != "" {
		cfg.CommandPrefix = v
	}
	cfg.MCPListenAddr = strings.TrimSpace(getenv("MCP_LISTEN_ADDR"))

	v := &cfg.Voice
	v.SilenceThreshold = envMillis(getenv, "VOICE_SILENCE_MS", v.SilenceThreshold)
	v.MinUtterance = envMillis(getenv, "VOICE_MIN_UTTERANCE_MS", v.MinUtterance)
	v.FrameQueue = envInt(getenv, "VOICE_FRAME_QUEUE", v.FrameQueue)
	v.MaxTurns = envInt(getenv, "VOICE_MAX_TURNS", v.MaxTurns)
	v.ContextTTL = envDuration(getenv, "VOICE_CONTEXT_TTL", v.ContextTTL)
	v.SweepInterval = envDuration(getenv, "VOICE_SWEEP_INTERVAL", v.SweepInterval)
	v.MaxReplyChars = envInt(getenv, "VOICE_MAX_REPLY_CHARS", v.MaxReplyChars)
	v.Workers = envInt(getenv, "VOICE_WORKERS", v.Workers)
	if p := strings.ToLower(strings.TrimSpace(getenv("VOICE_PENDING_POLICY"))); p != "" {
		v.PendingPolicy = p
	}
	v.WakePhrases = envList(getenv, "VOICE_WAKE_PHRASES")
	if d := strings.TrimSpace(getenv("VOICE_TEMP_DIR")); d != "" {
		v.TempDir = d
	}
	v.TempRetention = envDuration(getenv, "VOICE_TEMP_RETENTION", v.TempRetention)

	cfg.Whisper.URL = strings.TrimSpace(getenv("WHISPER_URL"))
	cfg.Whisper.Language = strings.TrimSpace(getenv("STT_LANGUAGE"))
	cfg.Whisper.Translate = envBool(getenv, "WHISPER_TRANSLATE")
	cfg.Whisper.Timeout = envMillis(getenv, "WHISPER_TIMEOUT_MS", cfg.Whisper.Timeout)

	if b := strings.TrimSpace(getenv("OPENAI_BASE_URL")); b != "" {
		cfg.LLM.BaseURL = strings.TrimRight(b, "/")
	}
	cfg.LLM.APIKey = strings.TrimSpace(getenv("OPENAI_API_KEY"))
	cfg.LLM.Model = strings.TrimSpace(getenv("OPENAI_MODEL"))
	cfg.LLM.FallbackModel = strings.TrimSpace(getenv("OPENAI_FALLBACK_MODEL"))
	cfg.LLM.MaxTokens = envInt(getenv, "LLM_MAX_TOKENS", cfg.LLM.MaxTokens)
	if p := strings.TrimSpace(getenv("LLM_SYSTEM_PROMPT")); p != "" {
		cfg.LLM.SystemPrompt = p
	}

	cfg.TTS.URL = strings.TrimSpace(getenv("TTS_URL"))
	cfg.TTS.AuthToken = strings.TrimSpace(getenv("TTS_AUTH_TOKEN"))
	cfg.TTS.Timeout = envMillis(getenv, "TTS_TIMEOUT_MS", cfg.TTS.Timeout)
	return cfg
}

// Validate reports settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.DiscordToken == "" {
		errs = append(errs, errors.New("DISCORD_BOT_TOKEN is required"))
	}
	v := c.Voice
	if v.SilenceThreshold <= 0 {
		errs = append(errs, fmt.Errorf("VOICE_SILENCE_MS must be positive, got %s", v.SilenceThreshold))
	}
	if v.MinUtterance < 0 {
		errs = append(errs, fmt.Errorf("VOICE_MIN_UTTERANCE_MS must not be negative, got %s", v.MinUtterance))
	}
	if v.FrameQueue <= 0 {
		errs = append(errs, fmt.Errorf("VOICE_FRAME_QUEUE must be positive, got %d", v.FrameQueue))
	}
	if v.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("VOICE_MAX_TURNS must be positive, got %d", v.MaxTurns))
	}
	if v.ContextTTL <= 0 || v.SweepInterval <= 0 {
		errs = append(errs, errors.New("VOICE_CONTEXT_TTL and VOICE_SWEEP_INTERVAL must be positive"))
	}
	if v.Workers <= 0 {
		errs = append(errs, fmt.Errorf("VOICE_WORKERS must be positive, got %d", v.Workers))
	}
	if v.PendingPolicy != PendingDrop && v.PendingPolicy != PendingQueue {
		errs = append(errs, fmt.Errorf("VOICE_PENDING_POLICY must be %q or %q, got %q", PendingDrop, PendingQueue, v.PendingPolicy))
	}
	if c.Whisper.URL == "" {
		logging.Warnw("config: WHISPER_URL not set; speech will not be transcribed")
	}
	if c.TTS.URL == "" {
		logging.Warnw("config: TTS_URL not set; replies will not be spoken")
	}
	return errors.Join(errs...)
}

func envInt(getenv func(string) string, key string, def int) int {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.Warnw("config: invalid integer; using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envMillis(getenv func(string) string, key string, def time.Duration) time.Duration {
	n := envInt(getenv, key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

func envDuration(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logging.Warnw("config: invalid duration; using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envBool(getenv func(string) string, key string) bool {
	switch strings.ToLower(strings.TrimSpace(getenv(key))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func envList(getenv func(string) string, key string) []string {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.ToLower(strings.TrimSpace(part)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
