// Package protocol defines the JSON frames exchanged over a session websocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client to server frame types.
const (
	TypeSubmitUtterance    = "submit_utterance"
	TypeCancelCurrentReply = "cancel_current_reply"
	TypePlaybackDone       = "playback_done"
)

// Server to client frame types.
const (
	TypeSessionStarted = "session_started"
	TypeReplyText      = "reply_text"
	TypeAudioChunk     = "audio_chunk"
	TypeStreamEnd      = "stream_end"
	TypeStreamError    = "stream_error"
	TypeReplyCancelled = "reply_cancelled"
	TypeError          = "error"
)

// Error codes carried by Error frames.
const (
	CodeInvalidInput     = "invalid_input"
	CodeRetrievalFailed  = "retrieval_failed"
	CodeGenerationFailed = "generation_failed"
	CodeBadMessage       = "bad_message"
)

// TerminalChunkIndex marks the "unit complete" chunk.
const TerminalChunkIndex = -1

// ErrUnknownEvent is returned for frames whose type is not recognised.
var ErrUnknownEvent = errors.New("unknown event type")

// DecodeError describes a malformed frame.
type DecodeError struct {
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e.Param == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Message: message, Param: param}
}

type SubmitUtterance struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type CancelCurrentReply struct {
	Type string `json:"type"`
}

// PlaybackDone tells the server that the client finished playing every clip
// of a generation.
type PlaybackDone struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
}

type SessionStarted struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type ReplyText struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
	Text       string `json:"text"`
}

// AudioChunk carries one frame of a unit's audio, or the unit's terminal
// marker when ChunkIndex is TerminalChunkIndex. Audio is base64 on the wire.
type AudioChunk struct {
	Type              string `json:"type"`
	Generation        uint64 `json:"generation"`
	UnitIndex         int    `json:"unitIndex"`
	ChunkIndex        int    `json:"chunkIndex"`
	Audio             []byte `json:"audioBase64,omitempty"`
	IsLastChunkOfUnit bool   `json:"isLastChunkOfUnit"`
	IsLastUnit        bool   `json:"isLastUnit"`
}

// IsTerminal reports whether c is a unit-complete marker.
func (c AudioChunk) IsTerminal() bool {
	return c.ChunkIndex == TerminalChunkIndex
}

type StreamEnd struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
}

type StreamError struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
	UnitIndex  int    `json:"unitIndex"`
	Message    string `json:"message"`
}

// ReplyCancelled names the generation that was invalidated.
type ReplyCancelled struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
}

type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewSubmitUtterance(text string) SubmitUtterance {
	return SubmitUtterance{Type: TypeSubmitUtterance, Text: text}
}

func NewCancelCurrentReply() CancelCurrentReply {
	return CancelCurrentReply{Type: TypeCancelCurrentReply}
}

func NewPlaybackDone(gen uint64) PlaybackDone {
	return PlaybackDone{Type: TypePlaybackDone, Generation: gen}
}

func NewSessionStarted(id string) SessionStarted {
	return SessionStarted{Type: TypeSessionStarted, SessionID: id}
}

func NewReplyText(gen uint64, text string) ReplyText {
	return ReplyText{Type: TypeReplyText, Generation: gen, Text: text}
}

func NewStreamEnd(gen uint64) StreamEnd {
	return StreamEnd{Type: TypeStreamEnd, Generation: gen}
}

func NewStreamError(gen uint64, unitIndex int, message string) StreamError {
	return StreamError{Type: TypeStreamError, Generation: gen, UnitIndex: unitIndex, Message: message}
}

func NewReplyCancelled(gen uint64) ReplyCancelled {
	return ReplyCancelled{Type: TypeReplyCancelled, Generation: gen}
}

func NewError(code, message string) Error {
	return Error{Type: TypeError, Code: code, Message: message}
}

func peekType(data []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return "", badFrame("missing type", "type")
	}
	return typ, nil
}

func decodeAs[T any](data []byte, typ string) (T, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, badFrame("invalid "+typ+" frame", "")
	}
	return msg, nil
}

// DecodeClientMessage parses a frame sent by a client. The result is one of
// SubmitUtterance, CancelCurrentReply or PlaybackDone.
func DecodeClientMessage(data []byte) (any, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeSubmitUtterance:
		return decodeAs[SubmitUtterance](data, typ)
	case TypeCancelCurrentReply:
		return decodeAs[CancelCurrentReply](data, typ)
	case TypePlaybackDone:
		msg, err := decodeAs[PlaybackDone](data, typ)
		if err == nil && msg.Generation == 0 {
			return nil, badFrame("playback_done.generation is required", "generation")
		}
		return msg, err
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, typ)
}

// DecodeServerMessage parses a frame sent by the server.
func DecodeServerMessage(data []byte) (any, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeSessionStarted:
		return decodeAs[SessionStarted](data, typ)
	case TypeReplyText:
		return decodeAs[ReplyText](data, typ)
	case TypeAudioChunk:
		msg, err := decodeAs[AudioChunk](data, typ)
		if err == nil && msg.ChunkIndex < TerminalChunkIndex {
			return nil, badFrame("audio_chunk.chunkIndex out of range", "chunkIndex")
		}
		return msg, err
	case TypeStreamEnd:
		return decodeAs[StreamEnd](data, typ)
	case TypeStreamError:
		return decodeAs[StreamError](data, typ)
	case TypeReplyCancelled:
		return decodeAs[ReplyCancelled](data, typ)
	case TypeError:
		return decodeAs[Error](data, typ)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, typ)
}
