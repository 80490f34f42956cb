// This file implements the WebSocket-FLV subscriber that reads from the bus
// and writes one FLV tag per binary frame.

package wsflv

import (
	"context"

	"github.com/gorilla/websocket"

	"amsd/internal/core/bus"
	"amsd/internal/core/protocol/flv"
)

// DefaultQueueSize is the number of messages buffered per viewer.
const DefaultQueueSize = 1000

// WebSocketConn defines the WebSocket operations the subscriber needs.
type WebSocketConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Subscriber represents a WebSocket-FLV client subscriber.
type Subscriber struct {
	conn          WebSocketConn
	queue         *bus.QueueSink
	sub           *bus.Subscriber
	timeline      flv.Timeline
	headerWritten bool
}

// NewSubscriber creates a new WebSocket-FLV subscriber.
func NewSubscriber(conn WebSocketConn, queueSize uint32) *Subscriber {
	return &Subscriber{
		conn:  conn,
		queue: bus.NewQueueSink(queueSize),
	}
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

// WriteHeader writes the FLV file header as the first frame.
func (s *Subscriber) WriteHeader() error {
	if s.headerWritten {
		return nil
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, flv.StreamHeader()); err != nil {
		return err
	}
	s.headerWritten = true
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
		if err := s.conn.WriteMessage(websocket.BinaryMessage, tag.Bytes()); err != nil {
			return err
		}
	}
}

// Dropped returns the number of messages lost to backpressure.
func (s *Subscriber) Dropped() uint64 {
	return s.queue.Dropped()
}
