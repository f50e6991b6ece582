package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-agent/internal/bargein"
	"github.com/lexiqai/voice-agent/internal/protocol"
	"github.com/lexiqai/voice-agent/internal/resilience"
	"github.com/lexiqai/voice-agent/internal/turn"
)

const writeWait = 10 * time.Second

// Options configures a Client.
type Options struct {
	URL       string
	Filter    bargein.Config
	Reconnect *resilience.ReconnectConfig
	Format    ClipFormat

	// OnReplyText receives the text of every reply that will be played.
	OnReplyText func(gen uint64, text string)
	// OnError receives server error events.
	OnError func(code, message string)

	Logger zerolog.Logger
}

// Client is one connection to the voice agent server.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	queue   *Queue
	opts    Options
	logger  zerolog.Logger

	mu        sync.Mutex
	filter    *bargein.Filter
	lastAgent string
	sessionID string
}

// Dial connects to opts.URL, retrying with backoff, and returns a client
// whose replies are played on player.
func Dial(ctx context.Context, player Player, opts Options) (*Client, error) {
	var conn *websocket.Conn
	err := resilience.Reconnect(ctx, "voice-server", func(ctx context.Context) error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, opts.Reconnect)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.URL, err)
	}

	c := &Client{
		conn:   conn,
		opts:   opts,
		logger: opts.Logger,
		filter: bargein.NewFilter(opts.Filter),
	}
	c.queue = NewQueue(player, opts.Format, c.playbackDone, opts.Logger)
	return c, nil
}

// Phase returns the client's conversation phase.
func (c *Client) Phase() turn.Phase {
	return c.queue.Phase()
}

// SessionID returns the id announced by the server, once received.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Submit filters a finalized utterance and, if accepted, sends it. An
// utterance accepted while the agent is speaking interrupts it first.
func (c *Client) Submit(text string) (bargein.Decision, error) {
	c.mu.Lock()
	d := c.filter.Decide(text, c.lastAgent, c.queue.Phase())
	c.mu.Unlock()

	if d.Verdict != bargein.Accept {
		c.logger.Debug().Str("verdict", d.Verdict.String()).Str("text", d.Text).Msg("Utterance dropped")
		return d, nil
	}

	if d.BargeIn {
		c.logger.Info().Str("text", d.Text).Msg("Barge-in, stopping playback")
		c.queue.Purge()
		if err := c.send(protocol.NewCancelCurrentReply()); err != nil {
			return d, err
		}
	}

	c.queue.Accept()
	return d, c.send(protocol.NewSubmitUtterance(d.Text))
}

// Run reads server events until ctx is done or the connection closes.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
	})
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.queue.Purge()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownEvent) {
				c.logger.Debug().Err(err).Msg("Ignoring unknown server event")
			} else {
				c.logger.Warn().Err(err).Msg("Malformed server event")
			}
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg any) {
	switch m := msg.(type) {
	case protocol.SessionStarted:
		c.mu.Lock()
		c.sessionID = m.SessionID
		c.mu.Unlock()
		c.logger.Info().Str("session_id", m.SessionID).Msg("Session started")

	case protocol.ReplyText:
		if !c.queue.Begin(m.Generation) {
			c.logger.Debug().Uint64("generation", m.Generation).Msg("Ignoring superseded reply")
			return
		}
		c.mu.Lock()
		c.lastAgent = m.Text
		c.mu.Unlock()
		if c.opts.OnReplyText != nil {
			c.opts.OnReplyText(m.Generation, m.Text)
		}

	case protocol.AudioChunk:
		c.queue.Push(m)

	case protocol.StreamEnd:
		c.queue.End(m.Generation)
		c.logger.Debug().Uint64("generation", m.Generation).Int("dropped_chunks", c.queue.Dropped()).Msg("Reply stream ended")

	case protocol.StreamError:
		c.logger.Warn().Uint64("generation", m.Generation).Int("unit", m.UnitIndex).Str("message", m.Message).Msg("Reply audio failed")
		c.queue.Fail(m.Generation)

	case protocol.ReplyCancelled:
		c.queue.Cancelled(m.Generation)

	case protocol.Error:
		c.logger.Warn().Str("code", m.Code).Str("message", m.Message).Msg("Server error")
		c.queue.Abort()
		if c.opts.OnError != nil {
			c.opts.OnError(m.Code, m.Message)
		}
	}
}

func (c *Client) playbackDone(gen uint64) {
	if err := c.send(protocol.NewPlaybackDone(gen)); err != nil {
		c.logger.Warn().Err(err).Uint64("generation", gen).Msg("Failed to send playback_done")
	}
}

func (c *Client) send(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %T: %w", msg, err)
	}
	return nil
}

// Close closes the connection and stops playback.
func (c *Client) Close() error {
	c.queue.Purge()
	return c.conn.Close()
}
