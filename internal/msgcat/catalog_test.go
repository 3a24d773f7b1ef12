package msgcat

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	cat, err := New()
	if err != nil { t.Fatalf("New: %v", err) }

	msg, err := cat.Render("battle.invite_created", map[string]any{"Code": "AR-ABC234"})
	if err != nil { t.Fatalf("Render: %v", err) }
	if !strings.Contains(msg, "AR-ABC234") {
		t.Fatalf("rendered message must embed the code, got %q", msg)
	}

	if _, err := cat.Render("battle.no_such_key", nil); err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if _, err := cat.Render("battle.invite_created", map[string]any{}); err == nil {
		t.Fatalf("expected error for missing template arg")
	}
}

func TestGetFallsBackToKey(t *testing.T) {
	cat, err := New()
	if err != nil { t.Fatalf("New: %v", err) }
	if got := cat.Get("battle.not_found"); got != "Battle not found." {
		t.Fatalf("unexpected catalog value %q", got)
	}
	if got := cat.Get("battle.no_such_key"); got != "battle.no_such_key" {
		t.Fatalf("missing key must fall back to itself, got %q", got)
	}
}
