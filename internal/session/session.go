// Package session runs one client connection: it accepts utterances,
// produces replies and streams them back as audio.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-agent/internal/bargein"
	"github.com/lexiqai/voice-agent/internal/config"
	"github.com/lexiqai/voice-agent/internal/generation"
	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/protocol"
	"github.com/lexiqai/voice-agent/internal/retrieval"
	"github.com/lexiqai/voice-agent/internal/stream"
	"github.com/lexiqai/voice-agent/internal/turn"
)

var errWriterStopped = errors.New("connection writer stopped")

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	outboundBuffer = 256
)

// InputValidationError rejects an utterance before it enters the pipeline.
type InputValidationError struct {
	Reason string
}

func (e *InputValidationError) Error() string {
	return "invalid input: " + e.Reason
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Retriever retrieval.Retriever
	Generator generation.Generator
	Engine    *stream.Engine
}

// Options tune per-session behaviour.
type Options struct {
	TopK              int
	HistoryMax        int
	MaxUtteranceChars int
	SystemPrompt      string
	WelcomePrompt     string
	Filter            bargein.Config
}

// OptionsFromConfig maps server configuration onto session options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TopK:              cfg.KnowledgeTopK,
		HistoryMax:        cfg.HistoryMaxMessages,
		MaxUtteranceChars: cfg.MaxUtteranceChars,
		SystemPrompt:      cfg.AgentSystemPrompt,
		WelcomePrompt:     cfg.AgentWelcomePrompt,
		Filter: bargein.Config{
			MinEchoChars:    cfg.EchoMinChars,
			EchoPrefixChars: cfg.EchoPrefixChars,
		},
	}
}

// loop events
type (
	clientEvent struct {
		msg any
		err error
	}
	connClosed struct{ err error }
	replyReady struct {
		gen      uint64
		question string
		reply    string
	}
	turnFailed struct {
		gen  uint64
		code string
		err  error
	}
	firstAudio struct{ gen uint64 }
	streamDone struct {
		gen       uint64
		err       error
		audioSent bool
	}
)

type outbound struct {
	gen uint64 // 0 for messages not tied to a reply
	msg any
}

// Session is the state of one connection. Phase, generation, history and
// the utterance filter are owned by the Run loop; other goroutines only
// post events to it.
type Session struct {
	id   string
	conn *websocket.Conn
	deps Deps
	opts Options

	machine    *turn.Machine
	filter     *bargein.Filter
	generation uint64
	history    []generation.Message
	lastAgent  string
	welcomed   bool
	cancelTurn context.CancelFunc

	// current generation, read by the writer to drop superseded audio
	current atomic.Uint64

	events chan any
	out    chan outbound
	done   chan struct{}

	// closed when the writer stops; nothing drains out after that
	writerDone chan struct{}

	metrics *observability.Metrics
	logger  zerolog.Logger
}

// New creates a session for an upgraded connection.
func New(conn *websocket.Conn, deps Deps, opts Options) *Session {
	id := observability.NewSessionID()
	if opts.HistoryMax <= 0 {
		opts.HistoryMax = 20
	}
	if opts.MaxUtteranceChars <= 0 {
		opts.MaxUtteranceChars = 2000
	}
	if opts.TopK <= 0 {
		opts.TopK = 8
	}

	return &Session{
		id:      id,
		conn:    conn,
		deps:    deps,
		opts:    opts,
		machine: turn.New(),
		filter:  bargein.NewFilter(opts.Filter),
		events:  make(chan any, 16),
		out:     make(chan outbound, outboundBuffer),
		done:    make(chan struct{}),
		metrics: observability.NewSessionMetrics(id),
		logger:  observability.WithSession(id),

		writerDone: make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Run serves the connection until it closes or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(s.done)

	s.metrics.RecordSessionStart()
	defer s.metrics.RecordSessionEnd()

	go s.writeLoop(ctx)
	go s.readLoop()

	s.machine.Fire(turn.EventStart)
	s.send(0, protocol.NewSessionStarted(s.id))
	s.logger.Info().Msg("Session started")

	for {
		select {
		case ev := <-s.events:
			if closed, ok := ev.(connClosed); ok {
				s.teardown()
				if closed.err != nil && !isNormalClose(closed.err) {
					s.logger.Warn().Err(closed.err).Msg("Connection lost")
					return closed.err
				}
				s.logger.Info().Msg("Session closed")
				return nil
			}
			s.handle(ctx, ev)
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()
		}
	}
}

func (s *Session) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case clientEvent:
		s.handleClient(ctx, ev)
	case replyReady:
		s.onReply(ctx, ev)
	case turnFailed:
		s.onTurnFailed(ev)
	case firstAudio:
		if ev.gen != s.generation {
			return
		}
		if _, err := s.machine.Fire(turn.EventFirstAudio); err != nil {
			s.logger.Debug().Err(err).Msg("Ignoring first audio")
			return
		}
		s.metrics.RecordFirstAudio()
	case streamDone:
		s.onStreamDone(ev)
	}
}

func (s *Session) handleClient(ctx context.Context, ev clientEvent) {
	if ev.err != nil {
		s.logger.Warn().Err(ev.err).Msg("Bad client message")
		s.metrics.RecordError("bad_message", "session")
		s.send(0, protocol.NewError(protocol.CodeBadMessage, ev.err.Error()))
		return
	}

	switch msg := ev.msg.(type) {
	case protocol.SubmitUtterance:
		s.onSubmit(ctx, msg.Text)
	case protocol.CancelCurrentReply:
		s.onCancel()
	case protocol.PlaybackDone:
		s.onPlaybackDone(msg.Generation)
	}
}

func (s *Session) validate(text string) error {
	if text == "" {
		return &InputValidationError{Reason: "utterance is empty"}
	}
	if n := utf8.RuneCountInString(text); n > s.opts.MaxUtteranceChars {
		return &InputValidationError{Reason: fmt.Sprintf("utterance has %d characters, limit is %d", n, s.opts.MaxUtteranceChars)}
	}
	return nil
}

func (s *Session) onSubmit(ctx context.Context, raw string) {
	text := strings.TrimSpace(raw)
	if err := s.validate(text); err != nil {
		s.metrics.RecordTurn("invalid")
		s.send(0, protocol.NewError(protocol.CodeInvalidInput, err.Error()))
		return
	}

	d := s.filter.Decide(text, s.lastAgent, s.machine.Phase())
	if d.Verdict != bargein.Accept {
		s.metrics.RecordTurn(d.Verdict.String())
		s.logger.Debug().Str("verdict", d.Verdict.String()).Str("text", d.Text).Msg("Utterance dropped")
		return
	}

	if d.BargeIn {
		s.metrics.RecordBargeIn()
		s.logger.Info().Uint64("generation", s.generation).Msg("Barge-in, cancelling reply")
	}
	if s.cancelTurn != nil && s.machine.Phase() != turn.Listening {
		s.send(0, protocol.NewReplyCancelled(s.generation))
		s.metrics.RecordReplyCancelled()
	}

	gen := s.advance()
	if _, err := s.machine.Fire(turn.EventAccept); err != nil {
		s.logger.Error().Err(err).Msg("Cannot accept utterance")
		return
	}
	s.metrics.RecordTurn(bargein.Accept.String())

	turnCtx, cancel := context.WithCancel(ctx)
	s.cancelTurn = cancel

	req := generation.Request{
		SystemPrompt: generation.SystemPromptFor(s.opts.SystemPrompt, s.opts.WelcomePrompt, s.welcomed),
		Question:     d.Text,
		History:      slices.Clone(s.history),
	}
	s.logger.Info().Uint64("generation", gen).Str("text", d.Text).Msg("Turn accepted")
	go s.runTurn(turnCtx, gen, req)
}

// advance invalidates the current generation and returns the new one.
func (s *Session) advance() uint64 {
	if s.cancelTurn != nil {
		s.cancelTurn()
		s.cancelTurn = nil
	}
	s.generation++
	s.current.Store(s.generation)
	return s.generation
}

func (s *Session) onCancel() {
	phase := s.machine.Phase()
	if phase != turn.Thinking && phase != turn.Speaking {
		return
	}
	old := s.generation
	s.advance()
	s.machine.Fire(turn.EventAbort)
	s.metrics.RecordReplyCancelled()
	s.send(0, protocol.NewReplyCancelled(old))
	s.logger.Info().Uint64("generation", old).Msg("Reply cancelled by client")
}

func (s *Session) onPlaybackDone(gen uint64) {
	if gen != s.generation || s.machine.Phase() != turn.Speaking {
		return
	}
	s.machine.Fire(turn.EventPlaybackDone)
	if s.cancelTurn != nil {
		s.cancelTurn()
		s.cancelTurn = nil
	}
}

// runTurn retrieves context and generates the reply off the loop.
func (s *Session) runTurn(ctx context.Context, gen uint64, req generation.Request) {
	logger := s.logger.With().Uint64("generation", gen).Logger()

	contextText, err := s.deps.Retriever.FetchContext(ctx, req.Question, s.opts.TopK)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error().Err(err).Msg("Retrieval failed")
			s.post(turnFailed{gen: gen, code: protocol.CodeRetrievalFailed, err: err})
		}
		return
	}
	req.ContextText = contextText

	reply, err := s.deps.Generator.GenerateReply(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error().Err(err).Msg("Generation failed")
			s.post(turnFailed{gen: gen, code: protocol.CodeGenerationFailed, err: err})
		}
		return
	}

	s.post(replyReady{gen: gen, question: req.Question, reply: reply})
}

func (s *Session) onTurnFailed(ev turnFailed) {
	if ev.gen != s.generation {
		return
	}
	component := "retrieval"
	if ev.code == protocol.CodeGenerationFailed {
		component = "generation"
	}
	s.metrics.RecordError(ev.code, component)
	s.send(0, protocol.NewError(ev.code, ev.err.Error()))
	s.machine.Fire(turn.EventAbort)
	if s.cancelTurn != nil {
		s.cancelTurn()
		s.cancelTurn = nil
	}
}

func (s *Session) onReply(ctx context.Context, ev replyReady) {
	if ev.gen != s.generation {
		return
	}

	s.history = generation.TrimHistory(append(s.history,
		generation.Message{Role: generation.RoleUser, Content: ev.question},
		generation.Message{Role: generation.RoleAssistant, Content: ev.reply},
	), s.opts.HistoryMax)
	s.welcomed = true
	s.lastAgent = ev.reply

	s.send(ev.gen, protocol.NewReplyText(ev.gen, ev.reply))

	turnCtx, cancel := context.WithCancel(ctx)
	if s.cancelTurn != nil {
		// the retrieval/generation context is finished with
		s.cancelTurn()
	}
	s.cancelTurn = cancel
	go s.runStream(turnCtx, ev.gen, ev.reply)
}

// runStream streams the reply audio and reports completion to the loop.
func (s *Session) runStream(ctx context.Context, gen uint64, reply string) {
	audioSent := false
	emit := func(msg any) error {
		if c, ok := msg.(protocol.AudioChunk); ok {
			s.metrics.RecordChunk(c.IsTerminal(), len(c.Audio))
			if !c.IsTerminal() && !audioSent {
				audioSent = true
				s.post(firstAudio{gen: gen})
			}
		}
		return s.enqueue(ctx, gen, msg)
	}

	err := s.deps.Engine.Stream(ctx, gen, reply, emit)
	if errors.Is(err, context.Canceled) {
		return
	}
	s.post(streamDone{gen: gen, err: err, audioSent: audioSent})
}

func (s *Session) onStreamDone(ev streamDone) {
	if ev.gen != s.generation {
		return
	}

	var unitErr *stream.UnitError
	switch {
	case errors.As(ev.err, &unitErr):
		s.metrics.RecordError("synthesis_failed", "synthesis")
	case ev.err != nil:
		s.logger.Warn().Err(ev.err).Uint64("generation", ev.gen).Msg("Stream stopped")
	}

	// with audio on the way the client reports when playback finished
	if !ev.audioSent {
		s.machine.Fire(turn.EventPlaybackDone)
	}
}

func (s *Session) teardown() {
	if s.cancelTurn != nil {
		s.cancelTurn()
		s.cancelTurn = nil
	}
	s.generation++
	s.current.Store(s.generation)
	s.machine.Fire(turn.EventStop)
}

// post delivers an event to the loop unless the session is over.
func (s *Session) post(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// send queues a control message from the loop. It is dropped once the
// writer has stopped.
func (s *Session) send(gen uint64, msg any) {
	select {
	case s.out <- outbound{gen: gen, msg: msg}:
	case <-s.writerDone:
	case <-s.done:
	}
}

// enqueue queues a reply message from a stream goroutine.
func (s *Session) enqueue(ctx context.Context, gen uint64, msg any) error {
	select {
	case s.out <- outbound{gen: gen, msg: msg}:
		return nil
	case <-s.writerDone:
		return errWriterStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.post(connClosed{err: err})
			return
		}
		msg, err := protocol.DecodeClientMessage(data)
		s.post(clientEvent{msg: msg, err: err})
	}
}

// writeLoop is the only goroutine writing to the connection. Messages of
// a superseded generation are dropped here.
func (s *Session) writeLoop(ctx context.Context) {
	defer close(s.writerDone)
	for {
		select {
		case o := <-s.out:
			if o.gen != 0 && o.gen != s.current.Load() {
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(o.msg); err != nil {
				s.logger.Warn().Err(err).Msg("Write failed")
				s.metrics.RecordError("write_failed", "session")
				s.conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
