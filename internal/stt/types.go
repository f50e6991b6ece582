package stt

import (
	"context"
	"strings"
)

// TranscriptionResult represents a transcription result from Deepgram
type TranscriptionResult struct {
	// Text is the transcribed text
	Text string

	// IsFinal marks a segment that will not be revised
	IsFinal bool

	// SpeechFinal marks the end of the speaker's utterance
	SpeechFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64
}

// Recognizer runs one capture session and reports each finalized utterance.
// Run returns nil when the session ended normally (for example after a
// silence timeout) so the caller may start another; it returns an error
// when capture failed.
type Recognizer interface {
	Run(ctx context.Context, onFinal func(text string)) error
}

// utteranceBuilder joins final segments until the speaker finishes.
type utteranceBuilder struct {
	parts []string
}

// add records r and returns the complete utterance once speech is final.
func (b *utteranceBuilder) add(r TranscriptionResult) (string, bool) {
	if !r.IsFinal {
		return "", false
	}
	if t := strings.TrimSpace(r.Text); t != "" {
		b.parts = append(b.parts, t)
	}
	if !r.SpeechFinal {
		return "", false
	}
	return b.flush()
}

// flush returns and clears whatever has been collected.
func (b *utteranceBuilder) flush() (string, bool) {
	if len(b.parts) == 0 {
		return "", false
	}
	text := strings.Join(b.parts, " ")
	b.parts = b.parts[:0]
	return text, true
}
