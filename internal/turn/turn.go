// Package turn tracks the conversational phase of one session.
package turn

import (
	"errors"
	"fmt"
)

// Phase is the current stage of a spoken dialogue turn.
type Phase int

const (
	Idle Phase = iota
	Listening
	Thinking
	Speaking
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ErrInvalidTransition is returned when an event is not allowed in the
// current phase.
var ErrInvalidTransition = errors.New("invalid phase transition")

// Event drives the machine from one phase to the next.
type Event int

const (
	EventStart        Event = iota // session connected or capture resumed
	EventAccept                    // a final utterance was accepted for processing
	EventFirstAudio                // first audio of the reply began
	EventPlaybackDone              // reply fully played, or produced no audio
	EventAbort                     // turn failed or was cancelled without a new utterance
	EventStop                      // session stopped
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventAccept:
		return "accept"
	case EventFirstAudio:
		return "first_audio"
	case EventPlaybackDone:
		return "playback_done"
	case EventAbort:
		return "abort"
	case EventStop:
		return "stop"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// transitions lists, per phase, the phase reached on each allowed event.
// EventStop is accepted everywhere and handled separately.
var transitions = map[Phase]map[Event]Phase{
	Idle: {
		EventStart: Listening,
	},
	Listening: {
		EventStart:  Listening,
		EventAccept: Thinking,
	},
	Thinking: {
		EventAccept:       Thinking,
		EventFirstAudio:   Speaking,
		EventPlaybackDone: Listening,
		EventAbort:        Listening,
	},
	Speaking: {
		EventAccept:       Thinking, // barge-in
		EventFirstAudio:   Speaking,
		EventPlaybackDone: Listening,
		EventAbort:        Listening,
	},
}

// Machine is the per-session phase tracker. It is not safe for concurrent
// use; its owner serializes access.
type Machine struct {
	phase Phase
}

// New returns a machine in the Idle phase.
func New() *Machine {
	return &Machine{phase: Idle}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return m.phase
}

// Fire applies ev and returns the previous phase.
func (m *Machine) Fire(ev Event) (Phase, error) {
	prev := m.phase
	if ev == EventStop {
		m.phase = Idle
		return prev, nil
	}

	next, ok := transitions[prev][ev]
	if !ok {
		return prev, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev, prev)
	}
	m.phase = next
	return prev, nil
}
