package stt

import (
	"context"
	"errors"
	"fmt"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/resilience"
)

var (
	// ErrConnectFailed is returned when the live transcription socket cannot be opened.
	ErrConnectFailed = errors.New("deepgram connect failed")
	// ErrCaptureClosed means the audio source is gone; restarting will not help.
	ErrCaptureClosed = errors.New("capture closed")
)

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler // Embed default handler for methods we don't override
	results                                chan<- TranscriptionResult
	utteranceEnd                           chan<- struct{}
	closed                                 chan<- error
}

// Message forwards transcription results
func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	if r, ok := resultFromMessage(msg); ok {
		select {
		case m.results <- r:
		default:
		}
	}
	return nil
}

// UtteranceEnd fires after a silence gap even without speech_final
func (m *messageCallbackHandler) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	select {
	case m.utteranceEnd <- struct{}{}:
	default:
	}
	return nil
}

// Close reports the end of the capture session
func (m *messageCallbackHandler) Close(*msginterfaces.CloseResponse) error {
	select {
	case m.closed <- nil:
	default:
	}
	return nil
}

// Error reports a failed capture session
func (m *messageCallbackHandler) Error(e *msginterfaces.ErrorResponse) error {
	select {
	case m.closed <- fmt.Errorf("deepgram error: %+v", e):
	default:
	}
	return nil
}

func resultFromMessage(msg *msginterfaces.MessageResponse) (TranscriptionResult, bool) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return TranscriptionResult{}, false
	}
	alt := msg.Channel.Alternatives[0]
	return TranscriptionResult{
		Text:        alt.Transcript,
		IsFinal:     msg.IsFinal,
		SpeechFinal: msg.SpeechFinal,
		Confidence:  alt.Confidence,
	}, true
}

// DeepgramConfig configures a DeepgramRecognizer.
type DeepgramConfig struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
}

// DeepgramRecognizer streams microphone PCM (linear16 mono) to Deepgram
// live transcription.
type DeepgramRecognizer struct {
	cfg     DeepgramConfig
	frames  <-chan []byte
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewDeepgramRecognizer reads audio from frames for every session it runs.
func NewDeepgramRecognizer(cfg DeepgramConfig, frames <-chan []byte) *DeepgramRecognizer {
	return &DeepgramRecognizer{
		cfg:     cfg,
		frames:  frames,
		breaker: resilience.NewCircuitBreaker("deepgram", 3, 30*time.Second),
		logger:  observability.GetLogger().With().Str("component", "stt").Logger(),
	}
}

// Run opens one live transcription session and delivers complete utterances
// until the session closes, the audio source ends or ctx is done.
func (d *DeepgramRecognizer) Run(ctx context.Context, onFinal func(string)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan TranscriptionResult, 100)
	utteranceEnd := make(chan struct{}, 1)
	closed := make(chan error, 1)

	// Create Deepgram transcription options (v3 API)
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.Model,
		Language:       d.cfg.Language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000", // End utterance after 1 second of silence (string in v3)
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.cfg.SampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		results:                results,
		utteranceEnd:           utteranceEnd,
		closed:                 closed,
	}

	var client *listenClient.WSCallback
	err := d.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		client, err = listenClient.NewWSUsingCallback(ctx, d.cfg.APIKey, nil, tOptions, callback)
		if err != nil {
			return fmt.Errorf("failed to create Deepgram client: %w", err)
		}
		if !client.Connect() {
			return ErrConnectFailed
		}
		return nil
	})
	observability.UpdateCircuitBreakerState("deepgram", int(d.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
		return err
	}

	defer client.Finish()

	d.logger.Info().Str("model", d.cfg.Model).Str("language", d.cfg.Language).Msg("Deepgram capture session started")

	var b utteranceBuilder
	for {
		select {
		case frame, ok := <-d.frames:
			if !ok {
				return ErrCaptureClosed
			}
			if _, err := client.Write(frame); err != nil {
				return fmt.Errorf("failed to send audio to Deepgram: %w", err)
			}

		case r := <-results:
			if text, done := b.add(r); done {
				onFinal(text)
			}

		case <-utteranceEnd:
			if text, done := b.flush(); done {
				onFinal(text)
			}

		case err := <-closed:
			if text, done := b.flush(); done {
				onFinal(text)
			}
			d.logger.Info().Err(err).Msg("Deepgram capture session ended")
			return err

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
