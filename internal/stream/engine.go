// Package stream turns reply text into an ordered sequence of audio events,
// synthesizing the next sentence while the current one is being sent.
package stream

import (
	"context"
	"fmt"
	"iter"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-agent/internal/audio"
	"github.com/lexiqai/voice-agent/internal/protocol"
	"github.com/lexiqai/voice-agent/internal/segment"
	"github.com/lexiqai/voice-agent/internal/tts"
)

// Emit receives the engine's events in order: protocol.AudioChunk,
// then exactly one protocol.StreamEnd or protocol.StreamError.
// A non-nil return stops the stream.
type Emit func(msg any) error

// UnitError reports the unit whose synthesis failed.
type UnitError struct {
	UnitIndex int
	Err       error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("unit %d: %v", e.UnitIndex, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// Engine streams replies for one voice.
type Engine struct {
	synth     tts.Synthesizer
	voice     tts.VoiceConfig
	frameSize int
	logger    zerolog.Logger
}

// NewEngine creates an engine. frameSize <= 0 uses audio.DefaultFrameSize.
func NewEngine(synth tts.Synthesizer, voice tts.VoiceConfig, frameSize int, logger zerolog.Logger) *Engine {
	if frameSize <= 0 {
		frameSize = audio.DefaultFrameSize
	}
	return &Engine{
		synth:     synth,
		voice:     voice,
		frameSize: frameSize,
		logger:    logger.With().Str("component", "stream").Logger(),
	}
}

type synthResult struct {
	audio []byte
	err   error
}

// prefetch starts synthesis of text in the background. The channel is
// buffered so the goroutine never blocks if nobody collects the result.
func (e *Engine) prefetch(ctx context.Context, text string) <-chan synthResult {
	ch := make(chan synthResult, 1)
	go func() {
		data, err := e.synth.Synthesize(ctx, text, e.voice)
		ch <- synthResult{audio: data, err: err}
	}()
	return ch
}

// Stream synthesizes and emits text for generation gen.
//
// At most one synthesis runs ahead of the unit being sent. Cancelling ctx
// stops the stream before the next synthesis or chunk and nothing further
// is emitted; Stream then returns ctx.Err(). A failed unit is reported with
// a StreamError and a *UnitError is returned.
func (e *Engine) Stream(ctx context.Context, gen uint64, text string, emit Emit) error {
	// abandons a pending prefetch on early return
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	next, stop := iter.Pull(segment.Sentences(text))
	defer stop()

	unit, ok := next()
	if !ok {
		if err := ctx.Err(); err != nil {
			return err
		}
		return emit(protocol.NewStreamEnd(gen))
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	pending := e.prefetch(ctx, unit)

	for index := 0; ; index++ {
		var res synthResult
		select {
		case res = <-pending:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if res.err != nil {
			e.logger.Warn().Err(res.err).Uint64("generation", gen).Int("unit", index).Msg("Synthesis failed, aborting reply")
			if err := emit(protocol.NewStreamError(gen, index, res.err.Error())); err != nil {
				return err
			}
			return &UnitError{UnitIndex: index, Err: res.err}
		}

		following, hasNext := next()
		if hasNext {
			pending = e.prefetch(ctx, following)
		}

		if err := e.sendUnit(ctx, gen, index, res.audio, !hasNext, emit); err != nil {
			return err
		}

		if !hasNext {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return emit(protocol.NewStreamEnd(gen))
}

// sendUnit emits the frames of one unit followed by its terminal marker.
func (e *Engine) sendUnit(ctx context.Context, gen uint64, unitIndex int, data []byte, lastUnit bool, emit Emit) error {
	for i, frame := range audio.Frames(data, e.frameSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(protocol.AudioChunk{
			Type:       protocol.TypeAudioChunk,
			Generation: gen,
			UnitIndex:  unitIndex,
			ChunkIndex: i,
			Audio:      frame,
			IsLastUnit: lastUnit,
		}); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return emit(protocol.AudioChunk{
		Type:              protocol.TypeAudioChunk,
		Generation:        gen,
		UnitIndex:         unitIndex,
		ChunkIndex:        protocol.TerminalChunkIndex,
		IsLastChunkOfUnit: true,
		IsLastUnit:        lastUnit,
	})
}
