package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/discord-voice-chat/internal/voice"
)

type fakeVoice struct {
	mu     sync.Mutex
	spoken []string
}

func (f *fakeVoice) Sessions() []voice.SessionInfo {
	return []voice.SessionInfo{{ID: "g1", Speakers: 2, Turns: 1, Playback: "idle"}}
}

func (f *fakeVoice) RecentTurns(id string) ([]voice.Turn, error) {
	if id != "g1" {
		return nil, voice.ErrSessionNotFound
	}
	return []voice.Turn{{Role: voice.RoleSpeaker, Text: "Voice: hi"}}, nil
}

func (f *fakeVoice) Speak(_ context.Context, id, text string) error {
	if id == "muted" {
		return voice.ErrNotConnected
	}
	if id != "g1" {
		return voice.ErrSessionNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return nil
}

func connectClient(t *testing.T, url string) *sdk.ClientSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws"+strings.TrimPrefix(url, "http")+"/mcp/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, NewWebSocketTransport(conn), nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callText(t *testing.T, cs *sdk.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := cs.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool %s: %v", name, err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("expected 1 content item, got %d", len(res.Content))
	}
	text, ok := res.Content[0].(*sdk.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return text.Text, res.IsError
}

func TestServerTools(t *testing.T) {
	fv := &fakeVoice{}
	srv := httptest.NewServer(NewServer("", "test", fv).Handler())
	defer srv.Close()
	cs := connectClient(t, srv.URL)

	out, isErr := callText(t, cs, "list_voice_sessions", map[string]any{})
	var sessions []voice.SessionInfo
	if isErr || json.Unmarshal([]byte(out), &sessions) != nil || len(sessions) != 1 || sessions[0].Speakers != 2 {
		t.Fatalf("list_voice_sessions = %s", out)
	}

	out, isErr = callText(t, cs, "get_voice_context", map[string]any{"session_id": "g1"})
	var turns []voice.Turn
	if isErr || json.Unmarshal([]byte(out), &turns) != nil || len(turns) != 1 || turns[0].Text != "Voice: hi" {
		t.Fatalf("get_voice_context = %s", out)
	}

	out, isErr = callText(t, cs, "get_voice_context", map[string]any{"session_id": "nope"})
	if !isErr || !strings.Contains(out, voice.ErrSessionNotFound.Error()) {
		t.Fatalf("want tool error for unknown session, got %q", out)
	}

	if out, isErr = callText(t, cs, "speak", map[string]any{"session_id": "g1", "text": "hello"}); isErr || out != "ok" {
		t.Fatalf("speak = %q", out)
	}
	fv.mu.Lock()
	spoken := append([]string(nil), fv.spoken...)
	fv.mu.Unlock()
	if len(spoken) != 1 || spoken[0] != "hello" {
		t.Fatalf("spoken = %v", spoken)
	}
	if _, isErr = callText(t, cs, "speak", map[string]any{"session_id": "g1", "text": ""}); !isErr {
		t.Fatalf("empty text must be a tool error")
	}
	if out, isErr = callText(t, cs, "speak", map[string]any{"session_id": "muted", "text": "hello"}); isErr || !strings.Contains(out, "not connected") {
		t.Fatalf("speak on a disconnected session = %q, isErr=%v", out, isErr)
	}
	if _, isErr = callText(t, cs, "speak", map[string]any{"session_id": "nope", "text": "hello"}); !isErr {
		t.Fatalf("unknown session must be a tool error")
	}
}

func TestServerHealth(t *testing.T) {
	srv := httptest.NewServer(NewServer("", "test", &fakeVoice{}).Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "ok" {
		t.Fatalf("health = %d %q", resp.StatusCode, b)
	}
}

func TestShutdownWithoutListen(t *testing.T) {
	s := NewServer("127.0.0.1:0", "test", &fakeVoice{})
	if err := s.Shutdown(context.Background()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("Shutdown: %v", err)
	}
}
