package client

import (
	"context"
	"errors"

	"github.com/lexiqai/voice-agent/internal/resilience"
	"github.com/lexiqai/voice-agent/internal/stt"
)

// ErrCaptureClosed reports that the audio or text source ended for good.
var ErrCaptureClosed = stt.ErrCaptureClosed

// Listen keeps a capture session running while ctx is live. A session that
// ends normally is restarted at once; failed sessions are retried with
// backoff until cfg gives up. It returns nil when the source is closed.
func Listen(ctx context.Context, rec stt.Recognizer, onFinal func(string), cfg *resilience.ReconnectConfig) error {
	for {
		var closed bool
		err := resilience.Reconnect(ctx, "capture", func(ctx context.Context) error {
			err := rec.Run(ctx, onFinal)
			if errors.Is(err, ErrCaptureClosed) {
				closed = true
				return nil
			}
			if err != nil && ctx.Err() != nil {
				return nil
			}
			return err
		}, cfg)
		if err != nil {
			return err
		}
		if closed {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// SubmitAll returns an onFinal callback that forwards utterances to c.
func SubmitAll(c *Client) func(string) {
	return func(text string) {
		if _, err := c.Submit(text); err != nil {
			c.logger.Error().Err(err).Msg("Failed to submit utterance")
		}
	}
}
