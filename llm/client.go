// Package llm is a small client for OpenAI-compatible chat completion APIs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/discord-voice-chat/internal/config"
	"github.com/discord-voice-chat/internal/logging"
	"github.com/discord-voice-chat/internal/resilience"
	"github.com/discord-voice-chat/internal/voice"
)

type Client struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	MaxTokens     int
	SystemPrompt  string
	HTTP          *http.Client

	breaker       *resilience.Breaker
	fallbackDelay time.Duration
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type ChatResponse struct {
	Model   string
	Content string
}

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

func NewClient(cfg config.LLMConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "http://127.0.0.1:8000/v1"
	}
	return &Client{
		BaseURL:       strings.TrimRight(base, "/"),
		APIKey:        cfg.APIKey,
		Model:         cfg.Model,
		FallbackModel: cfg.FallbackModel,
		MaxTokens:     cfg.MaxTokens,
		SystemPrompt:  cfg.SystemPrompt,
		HTTP:          &http.Client{Timeout: 20 * time.Second},
		breaker:       resilience.NewBreaker(resilience.DefaultBreakerConfig("llm")),
		fallbackDelay: 250 * time.Millisecond,
	}
}

// CreateChatCompletion sends req to the configured model and, on a
// transient failure, once more to the fallback model.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.Model
	}
	if model == "" {
		model = "local"
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.MaxTokens
	}

	resp, err := c.send(ctx, model, req)
	if err == nil || !errors.Is(err, ErrTransient) {
		return resp, err
	}
	fallback := c.FallbackModel
	if fallback == "" || fallback == model {
		return resp, err
	}
	logging.Warnw("llm: primary model failed, trying fallback", "model", model, "fallback", fallback, "err", err)
	select {
	case <-ctx.Done():
		return ChatResponse{}, ctx.Err()
	case <-time.After(c.fallbackDelay):
	}
	return c.send(ctx, fallback, req)
}

func (c *Client) send(ctx context.Context, model string, req ChatRequest) (ChatResponse, error) {
	req.Model = model
	body, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: encode request: %v", ErrPermanent, err)
	}
	return resilience.Call(ctx, c.breaker, func(ctx context.Context) (ChatResponse, error) {
		return c.post(ctx, model, body)
	})
}

func (c *Client) post(ctx context.Context, model string, body []byte) (ChatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ChatResponse{}, fmt.Errorf("%w: model %s status %d", ErrTransient, model, resp.StatusCode)
	default:
		return ChatResponse{}, fmt.Errorf("%w: model %s status %d", ErrPermanent, model, resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ChatResponse{}, fmt.Errorf("%w: decode response: %v", ErrTransient, err)
	}
	content := ""
	if len(out.Choices) > 0 {
		content = out.Choices[0].Message.Content
	}
	return ChatResponse{Model: model, Content: content}, nil
}

// Complete implements voice.Completer: the system prompt, then the
// conversation window, then the new prompt as a user message.
func (c *Client) Complete(ctx context.Context, history []voice.Turn, prompt string) (string, error) {
	msgs := make([]Message, 0, len(history)+2)
	if c.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: c.SystemPrompt})
	}
	for _, t := range history {
		role := "user"
		if t.Role == voice.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, Message{Role: role, Content: t.Text})
	}
	msgs = append(msgs, Message{Role: "user", Content: prompt})
	resp, err := c.CreateChatCompletion(ctx, ChatRequest{Messages: msgs})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
