// This file implements a bounded ring buffer that decouples a publisher
// from slow HTTP and WebSocket viewers.
// Both positions increment freely; only the mask is used when indexing.

package bus

import (
	"sync"
)

// BackpressureStrategy defines how the ring buffer handles overflow.
type BackpressureStrategy uint8

const (
	// BackpressureDropOldest drops the oldest message when buffer is full.
	BackpressureDropOldest BackpressureStrategy = iota
	// BackpressureDropNewest drops the newest message when buffer is full.
	BackpressureDropNewest
)

// RingBuffer is a bounded circular buffer for MediaMessage delivery.
// Lock expectations: a mutex guards positions, so the writer may drop the
// oldest entry while a reader is active.
type RingBuffer struct {
	mu       sync.Mutex
	buffer   []*MediaMessage
	size     uint32 // power of 2
	mask     uint32
	writePos uint32
	readPos  uint32
	strategy BackpressureStrategy
	dropped  uint64
}

// NewRingBuffer creates a new ring buffer with the specified capacity.
// Capacity is rounded up to a power of 2.
func NewRingBuffer(capacity uint32, strategy BackpressureStrategy) *RingBuffer {
	actualSize := uint32(1)
	for actualSize < capacity {
		actualSize <<= 1
	}

	return &RingBuffer{
		buffer:   make([]*MediaMessage, actualSize),
		size:     actualSize,
		mask:     actualSize - 1,
		strategy: strategy,
	}
}

// Write appends msg. It returns false when msg itself was dropped.
func (rb *RingBuffer) Write(msg *MediaMessage) bool {
	if msg == nil {
		return false
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.writePos-rb.readPos >= rb.size {
		rb.dropped++
		if rb.strategy != BackpressureDropOldest {
			return false
		}
		rb.buffer[rb.readPos&rb.mask] = nil
		rb.readPos++
	}
	rb.buffer[rb.writePos&rb.mask] = msg
	rb.writePos++
	return true
}

// Read removes and returns the oldest message.
func (rb *RingBuffer) Read() (*MediaMessage, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.readPos == rb.writePos {
		return nil, false
	}
	idx := rb.readPos & rb.mask
	msg := rb.buffer[idx]
	rb.buffer[idx] = nil
	rb.readPos++
	return msg, true
}

// Dropped returns the number of messages dropped due to backpressure.
func (rb *RingBuffer) Dropped() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}

// Len returns the number of buffered messages.
func (rb *RingBuffer) Len() uint32 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.writePos - rb.readPos
}

// Available returns the number of free slots in the buffer.
func (rb *RingBuffer) Available() uint32 {
	return rb.size - rb.Len()
}
