package voice

import (
	"context"
	"sync"
	"time"

	"github.com/discord-voice-chat/internal/logging"
)

type conversation struct {
	turns       []Turn
	lastUpdated time.Time
}

// ContextStore keeps a bounded window of turns per voice session and drops
// whole conversations once they sit idle past the TTL. All operations are
// serialized on one mutex.
type ContextStore struct {
	mu       sync.Mutex
	maxTurns int
	ttl      time.Duration
	convs    map[string]*conversation
	now      func() time.Time
}

func NewContextStore(maxTurns int, ttl time.Duration) *ContextStore {
	if maxTurns <= 0 {
		maxTurns = 8
	}
	return &ContextStore{
		maxTurns: maxTurns,
		ttl:      ttl,
		convs:    make(map[string]*conversation),
		now:      time.Now,
	}
}

// AppendTurn records a turn, evicting the oldest ones beyond the window.
func (c *ContextStore) AppendTurn(sessionID string, role Role, text string) Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	conv, ok := c.convs[sessionID]
	if !ok {
		conv = &conversation{}
		c.convs[sessionID] = conv
	}
	t := Turn{Role: role, Text: text, Timestamp: now}
	conv.turns = append(conv.turns, t)
	if over := len(conv.turns) - c.maxTurns; over > 0 {
		conv.turns = append([]Turn(nil), conv.turns[over:]...)
	}
	conv.lastUpdated = now
	return t
}

// RecentTurns returns a copy of up to n of the newest turns, oldest first.
// n <= 0 returns the whole window.
func (c *ContextStore) RecentTurns(sessionID string, n int) []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.convs[sessionID]
	if !ok {
		return nil
	}
	turns := conv.turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return append([]Turn(nil), turns...)
}

// Delete drops a session's conversation. It reports whether one existed.
func (c *ContextStore) Delete(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.convs[sessionID]
	delete(c.convs, sessionID)
	return ok
}

// SweepExpired removes conversations idle for at least the TTL and returns
// their session ids.
func (c *ContextStore) SweepExpired() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 {
		return nil
	}
	now := c.now()
	var removed []string
	for id, conv := range c.convs {
		if now.Sub(conv.lastUpdated) >= c.ttl {
			delete(c.convs, id)
			removed = append(removed, id)
		}
	}
	return removed
}

func (c *ContextStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.convs)
}

// Run sweeps on every interval tick until ctx ends.
func (c *ContextStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.SweepExpired(); len(removed) > 0 {
				logging.Infow("voice: swept idle conversations", "count", len(removed), "session_ids", removed)
			}
		}
	}
}
