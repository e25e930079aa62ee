// Package mcp exposes the live voice pipeline to operators as an MCP server
// over websocket.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/discord-voice-chat/internal/logging"
	"github.com/discord-voice-chat/internal/voice"
)

// VoiceControl is the slice of *voice.Pipeline the tools need.
type VoiceControl interface {
	Sessions() []voice.SessionInfo
	RecentTurns(sessionID string) ([]voice.Turn, error)
	Speak(ctx context.Context, sessionID, text string) error
}

type sessionArgs struct {
	SessionID string `json:"session_id" jsonschema:"voice session id (the guild id)"`
}

type speakArgs struct {
	SessionID string `json:"session_id" jsonschema:"voice session id (the guild id)"`
	Text      string `json:"text" jsonschema:"text to speak into the session"`
}

// Server serves /mcp/ws and /health.
type Server struct {
	mcp      *sdk.Server
	voice    VoiceControl
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

func NewServer(addr, version string, vc VoiceControl) *Server {
	s := &Server{
		mcp:      sdk.NewServer(&sdk.Implementation{Name: "discord-voice-chat", Version: version}, nil),
		voice:    vc,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.registerTools()
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_voice_sessions",
		Description: "List live voice sessions with speaker count, turn count and playback state",
	}, func(ctx context.Context, req *sdk.CallToolRequest, _ struct{}) (*sdk.CallToolResult, any, error) {
		return jsonResult(s.voice.Sessions())
	})

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_voice_context",
		Description: "Return the recent conversation turns of a voice session",
	}, func(ctx context.Context, req *sdk.CallToolRequest, args sessionArgs) (*sdk.CallToolResult, any, error) {
		turns, err := s.voice.RecentTurns(args.SessionID)
		if err != nil {
			return errorResult(err), nil, nil
		}
		if turns == nil {
			turns = []voice.Turn{}
		}
		return jsonResult(turns)
	})

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "speak",
		Description: "Synthesize text and play it into a voice session, interrupting current playback",
	}, func(ctx context.Context, req *sdk.CallToolRequest, args speakArgs) (*sdk.CallToolResult, any, error) {
		if args.Text == "" {
			return errorResult(errors.New("text is required")), nil, nil
		}
		err := s.voice.Speak(ctx, args.SessionID, args.Text)
		if errors.Is(err, voice.ErrNotConnected) {
			// a session without live voice ignores speech
			return textResult("not connected; nothing spoken"), nil, nil
		}
		if err != nil {
			logging.Warnw("mcp: speak failed", append(logging.SessionFields(args.SessionID), "err", err)...)
			return errorResult(err), nil, nil
		}
		return textResult("ok"), nil, nil
	})
}

func textResult(text string) *sdk.CallToolResult {
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: text}}}
}

func errorResult(err error) *sdk.CallToolResult {
	r := textResult(err.Error())
	r.IsError = true
	return r
}

func jsonResult(v any) (*sdk.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return textResult(string(b)), nil, nil
}

// Handler returns the HTTP routes; each websocket gets its own MCP session.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/mcp/ws", s.serveWS)
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("mcp: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	go func() {
		session, err := s.mcp.Connect(context.Background(), NewWebSocketTransport(conn), nil)
		if err != nil {
			logging.Errorw("mcp: server connect failed", "remote", r.RemoteAddr, "err", err)
			_ = conn.Close()
			return
		}
		logging.Infow("mcp: client connected", "remote", r.RemoteAddr)
		if err := session.Wait(); err != nil {
			logging.Debugw("mcp: session ended", "remote", r.RemoteAddr, "err", err)
		}
		_ = session.Close()
	}()
}

// ListenAndServe blocks until Shutdown; it returns nil on a clean shutdown.
func (s *Server) ListenAndServe() error {
	logging.Infow("mcp: listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections. Hijacked websockets are not tracked
// by http.Server, so live sessions end when their clients disconnect or the
// process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
