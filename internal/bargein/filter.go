// Package bargein decides whether a recognized utterance is new user input,
// a re-emitted duplicate, or a pickup of the agent's own voice.
package bargein

import (
	"strings"
	"unicode/utf8"

	"github.com/lexiqai/voice-agent/internal/turn"
)

// Config holds the echo heuristic thresholds. Lengths count runes.
type Config struct {
	MinEchoChars    int // normalized utterances shorter than this are never echo
	EchoPrefixChars int // agent prefix length searched for inside the utterance
}

// DefaultConfig returns the empirically tuned thresholds.
func DefaultConfig() Config {
	return Config{
		MinEchoChars:    10,
		EchoPrefixChars: 40,
	}
}

// Verdict classifies one final utterance.
type Verdict int

const (
	Accept Verdict = iota
	Empty
	Duplicate
	Echo
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accepted"
	case Empty:
		return "empty"
	case Duplicate:
		return "duplicate"
	case Echo:
		return "echo"
	}
	return "unknown"
}

// Decision is the outcome of Decide.
type Decision struct {
	Verdict Verdict
	Text    string // trimmed utterance
	BargeIn bool   // accepted while the agent was speaking
}

// Filter remembers the previous final utterance. It is not safe for
// concurrent use.
type Filter struct {
	cfg       Config
	lastFinal string
}

// NewFilter creates a filter; zero thresholds fall back to the defaults.
func NewFilter(cfg Config) *Filter {
	def := DefaultConfig()
	if cfg.MinEchoChars <= 0 {
		cfg.MinEchoChars = def.MinEchoChars
	}
	if cfg.EchoPrefixChars <= 0 {
		cfg.EchoPrefixChars = def.EchoPrefixChars
	}
	return &Filter{cfg: cfg}
}

// Classify runs duplicate then echo detection against the last agent text.
// The utterance becomes the new "previous final" even when it is echo.
func (f *Filter) Classify(utterance, agentText string) (Verdict, string) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return Empty, text
	}

	if text == f.lastFinal {
		return Duplicate, text
	}
	f.lastFinal = text

	if IsEcho(text, agentText, f.cfg) {
		return Echo, text
	}
	return Accept, text
}

// Decide classifies utterance and, when it is accepted, reports whether it
// interrupts speech in the given phase.
func (f *Filter) Decide(utterance, agentText string, phase turn.Phase) Decision {
	v, text := f.Classify(utterance, agentText)
	return Decision{
		Verdict: v,
		Text:    text,
		BargeIn: v == Accept && phase == turn.Speaking,
	}
}

// IsEcho reports whether utterance looks like the agent's own speech.
func IsEcho(utterance, agentText string, cfg Config) bool {
	u := Normalize(utterance)
	a := Normalize(agentText)
	if a == "" || utf8.RuneCountInString(u) < cfg.MinEchoChars {
		return false
	}
	if strings.Contains(a, u) {
		return true
	}
	return strings.Contains(u, prefix(a, cfg.EchoPrefixChars))
}

var stripper = strings.NewReplacer(".", "", ",", "", "!", "", "?", "")

// Normalize lowercases s, removes . , ! ? and trims surrounding space.
func Normalize(s string) string {
	return strings.TrimSpace(stripper.Replace(strings.ToLower(s)))
}

func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
