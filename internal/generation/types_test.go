package generation

import (
	"strings"
	"testing"
)

func TestSystemPromptFor(t *testing.T) {
	first := SystemPromptFor("Base.", "Welcome them.", false)
	if first != "Base.\n\nWelcome them." {
		t.Errorf("Expected welcome rule on first reply, got %q", first)
	}

	later := SystemPromptFor("Base.", "Welcome them.", true)
	if later != "Base." {
		t.Errorf("Expected base prompt only, got %q", later)
	}

	def := SystemPromptFor("", "", false)
	if !strings.HasPrefix(def, DefaultSystemPrompt) || !strings.HasSuffix(def, DefaultWelcomePrompt) {
		t.Errorf("Expected default prompts, got %q", def)
	}
}

func TestTurnText_NoContext(t *testing.T) {
	got := TurnText("  ", "Hi?")
	want := "CONTEXT:\n(no context available)\n\nQUESTION:\nHi?"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestTrimHistory(t *testing.T) {
	var h []Message
	for i := 0; i < 25; i++ {
		h = append(h, Message{Role: RoleUser, Content: string(rune('a' + i))})
	}

	trimmed := TrimHistory(h, 20)
	if len(trimmed) != 20 {
		t.Fatalf("Expected 20 entries, got %d", len(trimmed))
	}
	if trimmed[0].Content != "f" || trimmed[19].Content != "y" {
		t.Errorf("Expected oldest dropped, got first=%s last=%s", trimmed[0].Content, trimmed[19].Content)
	}

	if got := TrimHistory(h[:3], 20); len(got) != 3 {
		t.Errorf("Expected short history untouched, got %d", len(got))
	}
}
