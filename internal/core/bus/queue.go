// This file implements QueueSink, a Sink that buffers media in a RingBuffer
// for a consumer goroutine, such as an HTTP-FLV or WS-FLV viewer.

package bus

import (
	"context"
	"sync"
)

// QueueSink buffers forwarded media. The publisher never blocks on it;
// when the consumer falls behind the oldest messages are dropped.
type QueueSink struct {
	buffer *RingBuffer
	notify chan struct{}

	once sync.Once
	done chan struct{}
}

// NewQueueSink creates a sink holding up to capacity messages.
func NewQueueSink(capacity uint32) *QueueSink {
	return &QueueSink{
		buffer: NewRingBuffer(capacity, BackpressureDropOldest),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// WriteMedia implements Sink.
func (q *QueueSink) WriteMedia(msg *MediaMessage) error {
	q.buffer.Write(msg)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// OnUnpublish implements UnpublishNotifier.
func (q *QueueSink) OnUnpublish() {
	q.once.Do(func() { close(q.done) })
}

// Next waits for the next message. It returns false when the publisher
// went away and the buffer is drained, or when ctx is done.
func (q *QueueSink) Next(ctx context.Context) (*MediaMessage, bool) {
	for {
		if msg, ok := q.buffer.Read(); ok {
			return msg, true
		}
		select {
		case <-q.notify:
		case <-q.done:
			if msg, ok := q.buffer.Read(); ok {
				return msg, true
			}
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Dropped returns the number of messages lost to backpressure.
func (q *QueueSink) Dropped() uint64 {
	return q.buffer.Dropped()
}
