// Package client is the voice agent's client side: it sends utterances to
// the server, filters echo and duplicates, and plays reply audio in order.
package client

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-agent/internal/audio"
	"github.com/lexiqai/voice-agent/internal/protocol"
	"github.com/lexiqai/voice-agent/internal/turn"
)

// Player plays one clip at a time. done is called once when the clip
// finishes on its own, never from inside Play and never after Stop.
type Player interface {
	Play(clip []byte, done func()) error
	Stop()
}

// ClipFormat describes headerless PCM received from the server.
type ClipFormat struct {
	SampleRate int
	Channels   int
}

// Queue reassembles audio units of the current generation into clips and
// plays them in unit order. All methods are safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	player Player
	format ClipFormat
	logger zerolog.Logger

	machine *turn.Machine

	floor  uint64 // replies below this generation are refused
	active uint64 // generation being received; 0 when none

	units   map[int][]byte
	pending [][]byte
	playing bool
	token   uint64 // identifies the clip the player is working on
	played  bool   // active generation produced audible output
	final   bool   // no more clips will arrive for active

	onDrained func(gen uint64)
	dropped   int
}

// NewQueue returns a listening queue. onDrained is called, outside the
// queue's lock, after the last clip of a generation finished playing.
func NewQueue(player Player, format ClipFormat, onDrained func(gen uint64), logger zerolog.Logger) *Queue {
	if format.Channels <= 0 {
		format.Channels = 1
	}
	q := &Queue{
		player:    player,
		format:    format,
		logger:    logger,
		machine:   turn.New(),
		units:     make(map[int][]byte),
		onDrained: onDrained,
	}
	q.machine.Fire(turn.EventStart)
	return q
}

// Phase returns the client's view of the conversation phase.
func (q *Queue) Phase() turn.Phase {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.machine.Phase()
}

// Dropped counts chunks refused by the generation check.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Accept records that an utterance was submitted.
func (q *Queue) Accept() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fire(turn.EventAccept)
}

// Begin starts receiving generation gen. It reports false when gen was
// already superseded locally.
func (q *Queue) Begin(gen uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if gen < q.floor || gen < q.active {
		return false
	}
	if gen == q.active {
		return true
	}
	if q.active != 0 {
		q.purgeLocked()
	}
	q.active = gen
	q.floor = gen
	q.played = false
	q.final = false
	return true
}

// Push ingests one audio_chunk. Chunks of any generation other than the
// active one are dropped before they touch reassembly.
func (q *Queue) Push(c protocol.AudioChunk) {
	q.mu.Lock()
	if q.active == 0 || c.Generation != q.active {
		q.dropped++
		q.mu.Unlock()
		q.logger.Debug().Uint64("generation", c.Generation).Int("unit", c.UnitIndex).Msg("Dropping stale audio chunk")
		return
	}

	if !c.IsTerminal() {
		q.units[c.UnitIndex] = append(q.units[c.UnitIndex], c.Audio...)
		q.mu.Unlock()
		return
	}

	data := q.units[c.UnitIndex]
	delete(q.units, c.UnitIndex)
	if clip := q.finalize(data); clip != nil {
		q.pending = append(q.pending, clip)
	}
	if c.IsLastUnit {
		q.final = true
	}
	q.startNextLocked()
	gen := q.drainedLocked()
	q.mu.Unlock()
	q.notify(gen)
}

// End handles stream_end for gen.
func (q *Queue) End(gen uint64) {
	q.finish(gen)
}

// Fail handles stream_error for gen. Clips already completed still play;
// partial units are discarded.
func (q *Queue) Fail(gen uint64) {
	q.finish(gen)
}

func (q *Queue) finish(gen uint64) {
	q.mu.Lock()
	if gen != q.active {
		q.mu.Unlock()
		return
	}
	clear(q.units)
	q.final = true
	drained := q.drainedLocked()
	q.mu.Unlock()
	q.notify(drained)
}

// Abort returns to listening when a submitted turn produced no reply.
func (q *Queue) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.machine.Phase() == turn.Thinking && !q.playing {
		q.fire(turn.EventAbort)
	}
}

// Purge stops playback, releases every clip and partial unit, and refuses
// the rest of the active generation.
func (q *Queue) Purge() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.purgeLocked()
	q.fire(turn.EventAbort)
}

// Cancelled handles reply_cancelled for gen.
func (q *Queue) Cancelled(gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen < q.floor && gen != q.active {
		return
	}
	if gen == q.active {
		q.purgeLocked()
		q.fire(turn.EventAbort)
	}
	if gen+1 > q.floor {
		q.floor = gen + 1
	}
}

func (q *Queue) purgeLocked() {
	if q.playing {
		q.player.Stop()
	}
	q.token++
	q.playing = false
	q.pending = nil
	clear(q.units)
	if q.active != 0 {
		q.floor = q.active + 1
	}
	q.active = 0
	q.final = false
}

func (q *Queue) startNextLocked() {
	for !q.playing && len(q.pending) > 0 {
		clip := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]

		q.token++
		token := q.token
		if err := q.player.Play(clip, func() { q.clipDone(token) }); err != nil {
			q.logger.Error().Err(err).Uint64("generation", q.active).Msg("Failed to play clip")
			continue
		}
		q.playing = true
		q.played = true
		q.fire(turn.EventFirstAudio)
	}
}

func (q *Queue) clipDone(token uint64) {
	q.mu.Lock()
	if token != q.token || !q.playing {
		q.mu.Unlock()
		return
	}
	q.playing = false
	q.startNextLocked()
	gen := q.drainedLocked()
	q.mu.Unlock()
	q.notify(gen)
}

// drainedLocked returns the generation that just finished, or 0. A drained
// generation is retired: later events for it are ignored.
func (q *Queue) drainedLocked() uint64 {
	if !q.final || q.playing || len(q.pending) > 0 || q.active == 0 {
		return 0
	}
	gen := q.active
	q.final = false
	q.active = 0
	q.floor = gen + 1
	q.fire(turn.EventPlaybackDone)
	if !q.played {
		return 0
	}
	return gen
}

func (q *Queue) notify(gen uint64) {
	if gen != 0 && q.onDrained != nil {
		q.onDrained(gen)
	}
}

func (q *Queue) fire(ev turn.Event) {
	if _, err := q.machine.Fire(ev); err != nil {
		q.logger.Debug().Err(err).Msg("Ignoring phase event")
	}
}

// finalize turns reassembled bytes into a playable WAV clip.
func (q *Queue) finalize(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	if audio.IsWAV(data) {
		if err := audio.FixWAVSizes(data); err != nil {
			q.logger.Warn().Err(err).Msg("Failed to fix WAV header")
		}
		return data
	}
	return audio.EncodeWAV(data, q.format.SampleRate, q.format.Channels)
}
