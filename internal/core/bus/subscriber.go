// This file implements Subscriber, one consumer attached to a Publisher.
// A subscriber drops media until the first video keyframe so decoding can
// start cleanly, then forwards everything.

package bus

import (
	"sync"
)

// Subscriber represents a consumer of media messages from a publisher.
// It holds a back-reference to the publisher for detaching only.
type Subscriber struct {
	id        uint64
	publisher *Publisher
	sink      Sink

	mu           sync.Mutex
	seenKeyframe bool
	closed       bool
	forwarded    uint64
	dropped      uint64
}

func newSubscriber(id uint64, p *Publisher, sink Sink) *Subscriber {
	return &Subscriber{id: id, publisher: p, sink: sink}
}

// ID returns the subscriber identifier, unique per publisher.
func (s *Subscriber) ID() uint64 {
	return s.id
}

// Publisher returns the publisher this subscriber follows.
func (s *Subscriber) Publisher() *Publisher {
	return s.publisher
}

// Notify forwards msg to the sink, dropping everything before the first
// video keyframe.
func (s *Subscriber) Notify(msg *MediaMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if !s.seenKeyframe {
		if !msg.IsVideoKeyframe() {
			s.dropped++
			return nil
		}
		s.seenKeyframe = true
	}
	s.forwarded++
	return s.sink.WriteMedia(msg)
}

// deliver bypasses the keyframe gate; used for the bootstrap headers.
func (s *Subscriber) deliver(msg *MediaMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.sink.WriteMedia(msg)
}

// SeenKeyframe reports whether the keyframe gate has opened.
func (s *Subscriber) SeenKeyframe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seenKeyframe
}

// Dropped returns the number of messages dropped while waiting for a keyframe.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Forwarded returns the number of live messages written to the sink.
func (s *Subscriber) Forwarded() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forwarded
}

// Close detaches the subscriber. Once Close returns no further messages
// reach the sink.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.publisher.Unsubscribe(s)
}

// detach is called by a closing publisher.
func (s *Subscriber) detach() {
	s.mu.Lock()
	wasClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	if wasClosed {
		return
	}
	if n, ok := s.sink.(UnpublishNotifier); ok {
		n.OnUnpublish()
	}
}
