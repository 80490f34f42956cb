// This file implements the HTTP-FLV subscriber: it reads media queued by the
// bus and writes FLV tags to the response.

package httpflv

import (
	"context"
	"io"
	"net/http"

	"amsd/internal/core/bus"
	"amsd/internal/core/protocol/flv"
)

// DefaultQueueSize is the number of messages buffered per viewer before the
// oldest are dropped.
const DefaultQueueSize = 1000

// Subscriber represents one HTTP-FLV viewer.
// The publisher never blocks on it: slow viewers drop the oldest frames.
type Subscriber struct {
	writer   io.Writer
	flusher  http.Flusher
	queue    *bus.QueueSink
	sub      *bus.Subscriber
	timeline flv.Timeline
}

// NewSubscriber creates a subscriber writing to w.
func NewSubscriber(w io.Writer, queueSize uint32) *Subscriber {
	s := &Subscriber{
		writer: w,
		queue:  bus.NewQueueSink(queueSize),
	}
	s.flusher, _ = w.(http.Flusher)
	return s
}

// Attach subscribes to pub. It returns false when the publisher has
// already closed.
func (s *Subscriber) Attach(pub *bus.Publisher) bool {
	s.sub = pub.Subscribe(s.queue)
	return s.sub != nil
}

// Detach unsubscribes from the publisher.
func (s *Subscriber) Detach() {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}

// WriteHeader writes the FLV file header and the first previous tag size.
func (s *Subscriber) WriteHeader() error {
	if _, err := s.writer.Write(flv.StreamHeader()); err != nil {
		return err
	}
	s.flush()
	return nil
}

// ProcessMessages writes queued media until the publisher goes away, ctx
// is done or a write fails.
func (s *Subscriber) ProcessMessages(ctx context.Context) error {
	for {
		msg, ok := s.queue.Next(ctx)
		if !ok {
			return ctx.Err()
		}
		tag := s.timeline.Tag(msg)
		if tag == nil {
			continue
		}
		if _, err := s.writer.Write(tag.Bytes()); err != nil {
			return err
		}
		s.flush()
	}
}

// Dropped returns the number of messages lost to backpressure.
func (s *Subscriber) Dropped() uint64 {
	return s.queue.Dropped()
}

func (s *Subscriber) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
