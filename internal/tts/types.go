package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/resilience"
)

// VoiceConfig selects the voice used for a synthesis call.
type VoiceConfig struct {
	Language string // BCP-47 primary tag, e.g. "en"
	Voice    string // provider voice/model id; empty picks the language default
}

// Synthesizer converts one unit of text into a complete audio buffer.
// Implementations return zero-length audio, not an error, for blank text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice VoiceConfig) ([]byte, error)

	// Name identifies the provider in logs and metrics
	Name() string
}

// SynthesisError reports a failed synthesis call.
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s synthesis failed: %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// IsSynthesisError reports whether err is or wraps a SynthesisError.
func IsSynthesisError(err error) bool {
	var se *SynthesisError
	return errors.As(err, &se)
}

// Guarded wraps a Synthesizer with a per-call timeout, a circuit breaker and
// stage metrics. It never retries.
type Guarded struct {
	next    Synthesizer
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// NewGuarded wraps s. A zero timeout disables the deadline.
func NewGuarded(s Synthesizer, breaker *resilience.CircuitBreaker, timeout time.Duration) *Guarded {
	return &Guarded{next: s, breaker: breaker, timeout: timeout}
}

func (g *Guarded) Name() string {
	return g.next.Name()
}

// Synthesize calls the wrapped provider. Every failure, including deadline
// expiry and an open circuit, comes back as a *SynthesisError; cancellation
// of ctx by the caller is returned as is.
func (g *Guarded) Synthesize(ctx context.Context, text string, voice VoiceConfig) (audio []byte, err error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	defer observability.ObserveStage(observability.StageSynthesis, time.Now(), &err)

	// the deadline lives inside the breaker call so that expiry counts as a
	// provider failure while caller cancellation does not
	call := func(ctx context.Context) error {
		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		var callErr error
		audio, callErr = g.next.Synthesize(ctx, text, voice)
		return callErr
	}
	if g.breaker != nil {
		err = g.breaker.Call(ctx, call)
	} else {
		err = call(ctx)
	}

	if err == nil {
		return audio, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if IsSynthesisError(err) {
		return nil, err
	}
	return nil, &SynthesisError{Provider: g.next.Name(), Err: err}
}
