package client

import (
	"sync"

	"github.com/lexiqai/voice-agent/internal/audio"
)

// capturePump carries microphone PCM from the device callback to Frames.
// The callback only copies into a ring buffer; a goroutine cuts the ring
// into frames so a slow reader never stalls the audio thread. Audio that
// does not fit in the ring is lost.
type capturePump struct {
	ring   *audio.RingBuffer
	frame  int
	ready  chan struct{}
	quit   chan struct{}
	frames chan []byte
	once   sync.Once
}

func newCapturePump(ringBytes, frameBytes int) *capturePump {
	if frameBytes < 2 {
		frameBytes = 2
	}
	return &capturePump{
		ring:   audio.NewRingBuffer(ringBytes),
		frame:  frameBytes &^ 1, // whole S16 samples
		ready:  make(chan struct{}, 1),
		quit:   make(chan struct{}),
		frames: make(chan []byte, 64),
	}
}

// push is called from the device callback.
func (p *capturePump) push(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	p.ring.Write(pcm)
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// run drains the ring until stop. It closes frames on return.
func (p *capturePump) run() {
	defer close(p.frames)
	buf := make([]byte, p.frame)
	for {
		select {
		case <-p.ready:
		case <-p.quit:
			return
		}
		for !p.ring.IsEmpty() {
			n := p.ring.Read(buf)
			frame := make([]byte, n)
			copy(frame, buf[:n])
			select {
			case p.frames <- frame:
			case <-p.quit:
				return
			}
		}
	}
}

func (p *capturePump) stop() {
	p.once.Do(func() {
		close(p.quit)
		p.ring.Clear()
	})
}
