package voice

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/discord-voice-chat/internal/logging"
)

const (
	apology      = "Sorry, I had trouble understanding that."
	promptPrefix = "Voice: "
)

var thinkPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Responder turns a transcript into a spoken reply: record the speaker
// turn, complete against the window, record the reply, speak it.
type Responder struct {
	store     *ContextStore
	completer Completer
	wake      *WakeDetector
	maxChars  int
}

func newResponder(store *ContextStore, c Completer, wake *WakeDetector, maxChars int) *Responder {
	return &Responder{store: store, completer: c, wake: wake, maxChars: maxChars}
}

func (r *Responder) Respond(ctx context.Context, s *Session, u *Utterance, text string) {
	fields := append(logging.SpeakerFields(s.id, u.SpeakerID), "correlation_id", u.CorrelationID)
	if r.wake != nil {
		ok, stripped := r.wake.Detect(text)
		if !ok {
			logging.Debugw("voice: no wake phrase, ignoring transcript", fields...)
			return
		}
		if text = stripped; text == "" {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	prompt := promptPrefix + text
	history := r.store.RecentTurns(s.id, 0)
	r.store.AppendTurn(s.id, RoleSpeaker, prompt)

	reply, err := r.complete(ctx, s, history, prompt)
	if ctx.Err() != nil {
		return
	}
	if err != nil || reply == "" {
		if err != nil {
			logging.Warnw("voice: completion failed", append(fields, "err", err)...)
		} else {
			logging.Warnw("voice: completion returned empty reply", fields...)
		}
		r.speak(ctx, s, apology, fields)
		return
	}

	r.store.AppendTurn(s.id, RoleAssistant, reply)
	logging.Infow("voice: reply", append(fields, "text", reply)...)
	if err := r.speak(ctx, s, reply, fields); errors.Is(err, ErrSynthesis) && ctx.Err() == nil {
		r.speak(ctx, s, apology, fields)
	}
}

func (r *Responder) complete(ctx context.Context, s *Session, history []Turn, prompt string) (string, error) {
	if r.completer == nil {
		return "", ErrNotConfigured
	}
	var reply string
	err := s.limit.do(ctx, func() error {
		var cerr error
		reply, cerr = r.completer.Complete(ctx, history, prompt)
		return cerr
	})
	if err != nil {
		return "", err
	}
	return cleanReply(reply, r.maxChars), nil
}

func (r *Responder) speak(ctx context.Context, s *Session, text string, fields []interface{}) error {
	err := s.playback.Speak(ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrSessionClosed):
		logging.Debugw("voice: reply not spoken", append(fields, "err", err)...)
	default:
		logging.Warnw("voice: speak failed", append(fields, "err", err)...)
	}
	return err
}

// cleanReply strips reasoning blocks and bounds the reply length in runes.
func cleanReply(s string, maxChars int) string {
	s = strings.TrimSpace(thinkPattern.ReplaceAllString(s, ""))
	if maxChars > 0 {
		if r := []rune(s); len(r) > maxChars {
			s = string(r[:maxChars]) + "..."
		}
	}
	return s
}
