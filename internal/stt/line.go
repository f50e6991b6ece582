package stt

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

// LineRecognizer treats every non-blank input line as a finalized utterance.
// It lets the client be driven from a terminal or a script.
type LineRecognizer struct {
	r     io.Reader
	once  sync.Once
	lines chan string
}

// NewLineRecognizer reads utterances from r.
func NewLineRecognizer(r io.Reader) *LineRecognizer {
	return &LineRecognizer{r: r, lines: make(chan string)}
}

// the scanner outlives individual Run calls so a restarted session does not
// lose buffered input
func (l *LineRecognizer) start() {
	go func() {
		defer close(l.lines)
		scanner := bufio.NewScanner(l.r)
		for scanner.Scan() {
			l.lines <- scanner.Text()
		}
	}()
}

// Run delivers lines until ctx is done. End of input returns ErrCaptureClosed.
func (l *LineRecognizer) Run(ctx context.Context, onFinal func(string)) error {
	l.once.Do(l.start)

	for {
		select {
		case line, ok := <-l.lines:
			if !ok {
				return ErrCaptureClosed
			}
			if text := strings.TrimSpace(line); text != "" {
				onFinal(text)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
