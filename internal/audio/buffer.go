package audio

import (
	"sync"
)

// RingBuffer is a thread-safe byte ring used between the capture device
// callback and the goroutine that cuts captured audio into frames. One slot is kept free so that a full
// buffer can be told apart from an empty one.
type RingBuffer struct {
	buffer []byte
	size   int
	read   int
	write  int
	mu     sync.Mutex
}

// NewRingBuffer creates a new ring buffer holding at most size-1 bytes
func NewRingBuffer(size int) *RingBuffer {
	if size < 2 {
		size = 2
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write copies as much of data as fits and returns the number of bytes written.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(data), rb.space())
	for written := 0; written < n; {
		end := rb.size
		if rb.read > rb.write {
			end = rb.read - 1
		} else if rb.read == 0 {
			end = rb.size - 1
		}
		c := copy(rb.buffer[rb.write:end], data[written:n])
		written += c
		rb.write = (rb.write + c) % rb.size
	}
	return n
}

// Read copies up to len(data) buffered bytes into data and returns the count.
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(data), rb.available())
	for read := 0; read < n; {
		end := rb.write
		if rb.write < rb.read {
			end = rb.size
		}
		c := copy(data[read:n], rb.buffer[rb.read:end])
		read += c
		rb.read = (rb.read + c) % rb.size
	}
	return n
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.available()
}

// Space returns the number of bytes available to write
func (rb *RingBuffer) Space() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.space()
}

func (rb *RingBuffer) available() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

func (rb *RingBuffer) space() int {
	return rb.size - rb.available() - 1
}

// Clear drops everything buffered
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.read = 0
	rb.write = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.read == rb.write
}

// IsFull returns true if the buffer is full
func (rb *RingBuffer) IsFull() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return (rb.write+1)%rb.size == rb.read
}
