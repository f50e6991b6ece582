package segment

import (
	"slices"
	"testing"
)

func TestSentences(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			name:     "three sentences",
			text:     "Hello there. It is a fine car. Would you like a test drive?",
			expected: []string{"Hello there.", "It is a fine car.", "Would you like a test drive?"},
		},
		{
			name:     "mixed punctuation and newlines",
			text:     "Wow!\nReally?  Yes.",
			expected: []string{"Wow!", "Really?", "Yes."},
		},
		{
			name:     "no terminal punctuation",
			text:     "just one fragment",
			expected: []string{"just one fragment"},
		},
		{
			name:     "punctuation without whitespace does not split",
			text:     "The GLE 450 costs $65.5k. Version 2.0 is out.",
			expected: []string{"The GLE 450 costs $65.5k.", "Version 2.0 is out."},
		},
		{
			name:     "repeated punctuation",
			text:     "Wait... what?! Okay.",
			expected: []string{"Wait...", "what?!", "Okay."},
		},
		{
			name:     "leading and trailing whitespace",
			text:     "   First.   Second.   ",
			expected: []string{"First.", "Second."},
		},
		{
			name:     "empty",
			text:     "",
			expected: nil,
		},
		{
			name:     "whitespace only",
			text:     " \n\t ",
			expected: nil,
		},
	}

	for _, tt := range tests {
		got := slices.Collect(Sentences(tt.text))
		if len(got) != len(tt.expected) {
			t.Errorf("%s: expected %d units %q, got %d %q", tt.name, len(tt.expected), tt.expected, len(got), got)
			continue
		}
		for i := range got {
			if got[i] != tt.expected[i] {
				t.Errorf("%s: unit %d expected %q, got %q", tt.name, i, tt.expected[i], got[i])
			}
		}
	}
}

func TestSentences_NoEmptyUnits(t *testing.T) {
	for s := range Sentences(". ! ? Hi. . ") {
		if s == "" {
			t.Error("Expected no empty unit")
		}
	}
}

func TestSentences_StopsEarly(t *testing.T) {
	count := 0
	for range Sentences("One. Two. Three.") {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Errorf("Expected iteration to stop after 2 units, got %d", count)
	}
}
