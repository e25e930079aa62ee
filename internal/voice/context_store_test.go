package voice

import (
	"fmt"
	"testing"
	"time"
)

func TestContextStoreKeepsNewestWindow(t *testing.T) {
	c := NewContextStore(8, time.Hour)
	for i := 1; i <= 9; i++ {
		c.AppendTurn("g1", RoleSpeaker, fmt.Sprintf("turn %d", i))
	}
	turns := c.RecentTurns("g1", 0)
	if len(turns) != 8 {
		t.Fatalf("want 8 turns, got %d", len(turns))
	}
	if turns[0].Text != "turn 2" || turns[7].Text != "turn 9" {
		t.Fatalf("want turns 2..9 in order, got %q..%q", turns[0].Text, turns[7].Text)
	}
	if last := c.RecentTurns("g1", 3); len(last) != 3 || last[0].Text != "turn 7" {
		t.Fatalf("RecentTurns(3) = %+v", last)
	}
}

func TestContextStoreIsPerSession(t *testing.T) {
	c := NewContextStore(8, time.Hour)
	c.AppendTurn("g1", RoleSpeaker, "a")
	c.AppendTurn("g2", RoleAssistant, "b")
	if len(c.RecentTurns("g1", 0)) != 1 || len(c.RecentTurns("g2", 0)) != 1 {
		t.Fatalf("sessions share turns")
	}
	if c.RecentTurns("missing", 0) != nil {
		t.Fatalf("unknown session must have no turns")
	}
}

func TestContextStoreReturnsCopy(t *testing.T) {
	c := NewContextStore(8, time.Hour)
	c.AppendTurn("g1", RoleSpeaker, "original")
	turns := c.RecentTurns("g1", 0)
	turns[0].Text = "mutated"
	if c.RecentTurns("g1", 0)[0].Text != "original" {
		t.Fatalf("caller mutation leaked into the store")
	}
}

func TestContextStoreSweepRemovesOnce(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewContextStore(8, time.Hour)
	c.now = func() time.Time { return now }

	c.AppendTurn("old", RoleSpeaker, "x")
	now = now.Add(30 * time.Minute)
	c.AppendTurn("fresh", RoleSpeaker, "y")
	now = now.Add(30 * time.Minute)

	removed := c.SweepExpired()
	if len(removed) != 1 || removed[0] != "old" {
		t.Fatalf("want [old] swept, got %v", removed)
	}
	if again := c.SweepExpired(); len(again) != 0 {
		t.Fatalf("second sweep removed %v", again)
	}
	c.AppendTurn("old", RoleSpeaker, "z")
	if turns := c.RecentTurns("old", 0); len(turns) != 1 || turns[0].Text != "z" {
		t.Fatalf("re-append must start fresh, got %+v", turns)
	}
	if c.Len() != 2 {
		t.Fatalf("want 2 contexts, got %d", c.Len())
	}
}

func TestContextStoreDelete(t *testing.T) {
	c := NewContextStore(8, time.Hour)
	c.AppendTurn("g1", RoleSpeaker, "x")
	if !c.Delete("g1") {
		t.Fatalf("Delete reported missing context")
	}
	if c.Delete("g1") {
		t.Fatalf("second Delete reported a context")
	}
}
