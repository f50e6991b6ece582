package client

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-agent/internal/audio"
	"github.com/lexiqai/voice-agent/internal/protocol"
	"github.com/lexiqai/voice-agent/internal/turn"
)

// fakePlayer records clips and lets the test decide when each one ends.
type fakePlayer struct {
	mu      sync.Mutex
	clips   [][]byte
	done    func()
	stopped int
}

func (p *fakePlayer) Play(clip []byte, done func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clips = append(p.clips, clip)
	p.done = done
	return nil
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
	p.done = nil
}

// finish ends the current clip naturally.
func (p *fakePlayer) finish() {
	p.mu.Lock()
	done := p.done
	p.done = nil
	p.mu.Unlock()
	if done != nil {
		done()
	}
}

func (p *fakePlayer) stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *fakePlayer) played() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clips)
}

func chunk(gen uint64, unit, index int, data string) protocol.AudioChunk {
	return protocol.AudioChunk{Type: protocol.TypeAudioChunk, Generation: gen, UnitIndex: unit, ChunkIndex: index, Audio: []byte(data)}
}

func marker(gen uint64, unit int, last bool) protocol.AudioChunk {
	return protocol.AudioChunk{
		Type:              protocol.TypeAudioChunk,
		Generation:        gen,
		UnitIndex:         unit,
		ChunkIndex:        protocol.TerminalChunkIndex,
		IsLastChunkOfUnit: true,
		IsLastUnit:        last,
	}
}

func newTestQueue() (*Queue, *fakePlayer, *[]uint64) {
	player := &fakePlayer{}
	var drained []uint64
	q := NewQueue(player, ClipFormat{SampleRate: 24000}, func(gen uint64) {
		drained = append(drained, gen)
	}, zerolog.Nop())
	return q, player, &drained
}

func TestQueue_PlaysUnitsInOrder(t *testing.T) {
	q, player, drained := newTestQueue()
	q.Accept()
	q.Begin(1)

	q.Push(chunk(1, 0, 0, "aa"))
	q.Push(chunk(1, 0, 1, "bb"))
	q.Push(marker(1, 0, false))

	if player.played() != 1 {
		t.Fatalf("Expected first clip to start immediately, got %d clips", player.played())
	}
	if q.Phase() != turn.Speaking {
		t.Errorf("Expected speaking, got %s", q.Phase())
	}

	q.Push(chunk(1, 1, 0, "cc"))
	q.Push(marker(1, 1, true))
	if player.played() != 1 {
		t.Errorf("Expected second clip to wait, got %d clips", player.played())
	}

	player.finish()
	if player.played() != 2 {
		t.Fatalf("Expected second clip after first finished, got %d", player.played())
	}
	if len(*drained) != 0 {
		t.Errorf("Expected no playback_done while a clip plays")
	}

	player.finish()
	if q.Phase() != turn.Listening {
		t.Errorf("Expected listening, got %s", q.Phase())
	}
	if len(*drained) != 1 || (*drained)[0] != 1 {
		t.Errorf("Expected playback_done for generation 1, got %v", *drained)
	}

	f, err := audio.ParseWAV(player.clips[0])
	if err != nil {
		t.Fatalf("Expected WAV clip: %v", err)
	}
	if got := string(player.clips[0][f.DataOffset:]); got != "aabb" {
		t.Errorf("Expected frames joined in order, got %q", got)
	}
}

func TestQueue_DropsOtherGenerations(t *testing.T) {
	q, player, _ := newTestQueue()
	q.Accept()
	q.Begin(2)

	q.Push(chunk(1, 0, 0, "old"))
	q.Push(marker(1, 0, true))
	q.Push(chunk(3, 0, 0, "future"))

	if q.Dropped() != 3 {
		t.Errorf("Expected 3 dropped chunks, got %d", q.Dropped())
	}
	if player.played() != 0 {
		t.Errorf("Expected nothing played, got %d", player.played())
	}
}

func TestQueue_NoActiveGenerationDropsChunks(t *testing.T) {
	q, _, _ := newTestQueue()
	q.Push(chunk(1, 0, 0, "aa"))
	if q.Dropped() != 1 {
		t.Errorf("Expected chunk before reply_text to be dropped")
	}
}

func TestQueue_PurgeReleasesEverything(t *testing.T) {
	q, player, drained := newTestQueue()
	q.Accept()
	q.Begin(1)

	q.Push(chunk(1, 0, 0, "aa"))
	q.Push(marker(1, 0, false))
	q.Push(chunk(1, 1, 0, "bb"))
	q.Push(marker(1, 1, false))
	q.Push(chunk(1, 2, 0, "partial"))

	stale := player.done
	q.Purge()

	if player.stops() != 1 {
		t.Errorf("Expected player stopped once, got %d", player.stops())
	}
	if q.Phase() != turn.Listening {
		t.Errorf("Expected listening after purge, got %s", q.Phase())
	}

	// the superseded clip's completion must not start anything
	stale()
	q.Push(chunk(1, 2, 1, "late"))
	q.Push(marker(1, 2, true))

	if player.played() != 1 {
		t.Errorf("Expected no clip after purge, got %d", player.played())
	}
	if len(*drained) != 0 {
		t.Errorf("Expected no playback_done after purge, got %v", *drained)
	}
	if q.Begin(1) {
		t.Error("Expected purged generation to be refused")
	}
	if !q.Begin(2) {
		t.Error("Expected newer generation to be accepted")
	}
}

func TestQueue_ListeningOnlyAfterFinalMarker(t *testing.T) {
	q, player, drained := newTestQueue()
	q.Accept()
	q.Begin(1)

	q.Push(chunk(1, 0, 0, "aa"))
	q.Push(marker(1, 0, false))
	player.finish()

	if q.Phase() != turn.Speaking {
		t.Errorf("Expected speaking while more units may come, got %s", q.Phase())
	}
	if len(*drained) != 0 {
		t.Errorf("Expected no playback_done before the final marker")
	}

	q.End(1)
	if q.Phase() != turn.Listening {
		t.Errorf("Expected listening after stream_end, got %s", q.Phase())
	}
	if len(*drained) != 1 {
		t.Errorf("Expected playback_done, got %v", *drained)
	}
}

func TestQueue_StreamErrorPlaysCompletedUnits(t *testing.T) {
	q, player, drained := newTestQueue()
	q.Accept()
	q.Begin(1)

	q.Push(chunk(1, 0, 0, "aa"))
	q.Push(marker(1, 0, false))
	q.Push(chunk(1, 1, 0, "half"))
	q.Fail(1)

	if q.Phase() != turn.Speaking {
		t.Errorf("Expected unit 0 still playing, got %s", q.Phase())
	}
	player.finish()
	if player.played() != 1 {
		t.Errorf("Expected only the completed unit to play, got %d", player.played())
	}
	if q.Phase() != turn.Listening || len(*drained) != 1 {
		t.Errorf("Expected listening with playback_done, got %s %v", q.Phase(), *drained)
	}
}

func TestQueue_EmptyReply(t *testing.T) {
	q, _, drained := newTestQueue()
	q.Accept()
	q.Begin(1)
	q.End(1)

	if q.Phase() != turn.Listening {
		t.Errorf("Expected listening, got %s", q.Phase())
	}
	if len(*drained) != 0 {
		t.Errorf("Expected no playback_done for a silent reply, got %v", *drained)
	}
}

func TestQueue_LateEventsAfterDrainIgnored(t *testing.T) {
	q, player, drained := newTestQueue()
	q.Accept()
	q.Begin(1)

	q.Push(chunk(1, 0, 0, "aa"))
	q.Push(marker(1, 0, false))
	player.finish()
	q.Push(marker(1, 1, true))

	if len(*drained) != 1 || (*drained)[0] != 1 {
		t.Fatalf("Expected one playback_done for generation 1, got %v", *drained)
	}
	if q.Phase() != turn.Listening {
		t.Fatalf("Expected listening, got %s", q.Phase())
	}

	q.Accept()
	q.End(1)
	q.Cancelled(1)

	if len(*drained) != 1 {
		t.Errorf("Expected late stream_end to be ignored, got %v", *drained)
	}
	if q.Phase() != turn.Thinking {
		t.Errorf("Expected next turn to stay thinking, got %s", q.Phase())
	}
	if player.stops() != 0 {
		t.Errorf("Expected no stop for a retired generation, got %d", player.stops())
	}
	if q.Begin(1) {
		t.Error("Expected retired generation to be refused")
	}
	if !q.Begin(2) {
		t.Error("Expected next generation to be accepted")
	}
}

func TestQueue_CancelledPurgesActive(t *testing.T) {
	q, player, _ := newTestQueue()
	q.Accept()
	q.Begin(4)
	q.Push(chunk(4, 0, 0, "aa"))
	q.Push(marker(4, 0, false))

	q.Cancelled(4)

	if player.stops() != 1 {
		t.Errorf("Expected playback stopped, got %d", player.stops())
	}
	if q.Begin(4) {
		t.Error("Expected cancelled generation to be refused")
	}
}

func TestQueue_FixesStreamingWAVHeader(t *testing.T) {
	q, player, _ := newTestQueue()
	q.Accept()
	q.Begin(1)

	wav := audio.EncodeWAV([]byte{1, 0, 2, 0, 3, 0, 4, 0}, 24000, 1)
	binary.LittleEndian.PutUint32(wav[4:8], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(wav[40:44], 0xFFFFFFFF)

	q.Push(chunk(1, 0, 0, string(wav[:30])))
	q.Push(chunk(1, 0, 1, string(wav[30:])))
	q.Push(marker(1, 0, true))

	clip := player.clips[0]
	if got := binary.LittleEndian.Uint32(clip[4:8]); got != uint32(len(clip)-8) {
		t.Errorf("Expected RIFF size %d, got %d", len(clip)-8, got)
	}
	if got := binary.LittleEndian.Uint32(clip[40:44]); got != 8 {
		t.Errorf("Expected data size 8, got %d", got)
	}
}
