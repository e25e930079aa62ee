package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/discord-voice-chat/internal/config"
	"github.com/discord-voice-chat/internal/resilience"
	"github.com/discord-voice-chat/internal/voice"
)

func newTestClient(url string) *Client {
	c := NewClient(config.LLMConfig{
		BaseURL:       url + "/",
		Model:         "big",
		FallbackModel: "local",
		MaxTokens:     150,
		SystemPrompt:  "be brief",
	})
	c.fallbackDelay = time.Millisecond
	return c
}

func reply(w http.ResponseWriter, content string) {
	resp := map[string]interface{}{"choices": []map[string]interface{}{{"message": map[string]string{"role": "assistant", "content": content}}}}
	json.NewEncoder(w).Encode(resp)
}

func TestModelSelectionAndFallback(t *testing.T) {
	var (
		mu     sync.Mutex
		models []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		models = append(models, req.Model)
		mu.Unlock()
		if req.Model == "big" {
			http.Error(w, "server error", 500)
			return
		}
		reply(w, "ok from "+req.Model)
	}))
	defer ts.Close()

	resp, err := newTestClient(ts.URL).CreateChatCompletion(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hello"}}})
	if err != nil {
		t.Fatalf("expected success via fallback, got err: %v", err)
	}
	if resp.Content != "ok from local" || resp.Model != "local" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(models) != 2 {
		t.Fatalf("want primary then fallback, got %v", models)
	}
}

func TestPermanentErrorSkipsFallback(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unauthorized", 401)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).CreateChatCompletion(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("permanent error must not hit the fallback, calls=%d", calls.Load())
	}
}

func TestTransientWithoutFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)
	c.FallbackModel = ""
	_, err := c.CreateChatCompletion(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestCompleteBuildsConversation(t *testing.T) {
	var got ChatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		reply(w, "sure")
	}))
	defer ts.Close()

	history := []voice.Turn{
		{Role: voice.RoleSpeaker, Text: "Voice: hi"},
		{Role: voice.RoleAssistant, Text: "hello"},
	}
	out, err := newTestClient(ts.URL).Complete(context.Background(), history, "Voice: tell me a joke")
	if err != nil || out != "sure" {
		t.Fatalf("Complete = %q, %v", out, err)
	}
	want := []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "Voice: hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "Voice: tell me a joke"},
	}
	if len(got.Messages) != len(want) {
		t.Fatalf("messages = %+v", got.Messages)
	}
	for i := range want {
		if got.Messages[i] != want[i] {
			t.Fatalf("message %d = %+v, want %+v", i, got.Messages[i], want[i])
		}
	}
	if got.MaxTokens != 150 || got.Model != "big" {
		t.Fatalf("model/max tokens = %s/%d", got.Model, got.MaxTokens)
	}
}

func TestAbandonedCompletionsDoNotOpenBreaker(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)
	c.FallbackModel = ""
	for i := 0; i < 6; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		if _, err := c.Complete(ctx, nil, "hi"); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
		cancel()
	}
	if st := c.breaker.State(); st != resilience.Closed {
		t.Fatalf("breaker = %v, want closed", st)
	}
}
