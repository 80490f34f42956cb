// This file implements Publisher, the live source a stream fans out from.
// A publisher caches codec headers and metadata for late joiners, feeds an
// optional recorder and forwards every message to its subscribers.

package bus

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultAckInterval is how many published bytes trigger an upstream Ack.
const DefaultAckInterval = 10 * 1024

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	// AckInterval is the byte count between upstream acknowledgements.
	AckInterval uint64
	Logger      *slog.Logger
}

// PublisherStats is a point-in-time view of a publisher.
type PublisherStats struct {
	Key         StreamKey `json:"-"`
	Name        string    `json:"name"`
	App         string    `json:"app"`
	Subscribers int       `json:"subscribers"`
	Messages    uint64    `json:"messages"`
	Bytes       uint64    `json:"bytes"`
	Paused      bool      `json:"paused"`
	Recording   bool      `json:"recording"`
	HasVideo    bool      `json:"has_video_header"`
	HasAudio    bool      `json:"has_audio_header"`
	Since       time.Time `json:"since"`
}

// Publisher represents a live stream publisher.
// The registry keeps at most one publisher per key.
// Lock expectations: mu guards all fields; fan-out runs outside mu on a snapshot.
type Publisher struct {
	key    StreamKey
	logger *slog.Logger

	mu          sync.Mutex
	videoHeader *MediaMessage
	audioHeader *MediaMessage
	meta        *MediaMessage
	subscribers map[uint64]*Subscriber
	nextSubID   uint64
	recorder    Recorder
	paused      bool
	closed      bool

	ackInterval uint64
	bytes       uint64
	lastAck     uint64
	messages    uint64
	since       time.Time
}

// NewPublisher creates a publisher for key.
func NewPublisher(key StreamKey, opts PublisherOptions) *Publisher {
	if opts.AckInterval == 0 {
		opts.AckInterval = DefaultAckInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		key:         key,
		logger:      logger.With("publish", key.String()),
		subscribers: make(map[uint64]*Subscriber),
		nextSubID:   1,
		ackInterval: opts.AckInterval,
		since:       time.Now(),
	}
}

// Key returns the publisher's stream key.
func (p *Publisher) Key() StreamKey {
	return p.key
}

// SetRecorder attaches a recorder. Any previous recorder is closed.
func (p *Publisher) SetRecorder(r Recorder) {
	p.mu.Lock()
	old := p.recorder
	p.recorder = r
	p.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			p.logger.Warn("recorder close failed", "error", err)
		}
	}
}

// Publish accepts one message from the source. It returns the total byte
// count and true when an upstream Ack is due.
func (p *Publisher) Publish(msg *MediaMessage) (uint32, bool) {
	if msg == nil {
		return 0, false
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, false
	}
	switch {
	case msg.IsVideoHeader():
		if p.videoHeader == nil {
			p.videoHeader = msg
			p.logger.Debug("cached video header", "size", len(msg.Payload))
		}
	case msg.IsAudioHeader():
		if p.audioHeader == nil {
			p.audioHeader = msg
			p.logger.Debug("cached audio header", "size", len(msg.Payload))
		}
	case msg.IsMetadata():
		p.meta = msg
	}

	p.messages++
	p.bytes += uint64(len(msg.Payload))
	ackDue := false
	if p.bytes-p.lastAck >= p.ackInterval {
		p.lastAck = p.bytes
		ackDue = true
	}
	total := uint32(p.bytes)

	if p.recorder != nil {
		if err := p.recorder.Write(msg); err != nil {
			p.logger.Warn("record failed, recording stopped", "error", err)
			_ = p.recorder.Close()
			p.recorder = nil
		}
	}

	if p.paused {
		p.mu.Unlock()
		return total, ackDue
	}
	subs := p.snapshotLocked()
	p.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Notify(msg); err != nil {
			p.logger.Debug("subscriber write failed", "subscriber", sub.ID(), "error", err)
		}
	}
	return total, ackDue
}

// snapshotLocked returns subscribers in subscription order.
func (p *Publisher) snapshotLocked() []*Subscriber {
	subs := make([]*Subscriber, 0, len(p.subscribers))
	for _, sub := range p.subscribers {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}

// Subscribe attaches sink. The cached video header, audio header and
// metadata are sent first, in that order; live media then follows from the
// first video keyframe on. Returns nil when the publisher is closed.
func (p *Publisher) Subscribe(sink Sink) *Subscriber {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	sub := newSubscriber(p.nextSubID, p, sink)
	p.nextSubID++
	for _, m := range []*MediaMessage{p.videoHeader, p.audioHeader, p.meta} {
		if m == nil {
			continue
		}
		if err := sub.deliver(m); err != nil {
			p.logger.Debug("bootstrap write failed", "subscriber", sub.ID(), "error", err)
		}
	}
	p.subscribers[sub.id] = sub
	return sub
}

// Unsubscribe detaches sub. It is a no-op for unknown subscribers.
func (p *Publisher) Unsubscribe(sub *Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscribers, sub.id)
}

// SubscriberCount returns the number of attached subscribers.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers)
}

// SetPaused stops or resumes fan-out. Caching and recording continue.
func (p *Publisher) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
}

// Paused reports whether fan-out is stopped.
func (p *Publisher) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// VideoHeader returns the cached video header, or nil.
func (p *Publisher) VideoHeader() *MediaMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.videoHeader
}

// AudioHeader returns the cached audio header, or nil.
func (p *Publisher) AudioHeader() *MediaMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.audioHeader
}

// MetaData returns the latest metadata message, or nil.
func (p *Publisher) MetaData() *MediaMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta
}

// Closed reports whether Close has been called.
func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats returns a snapshot of the publisher's counters.
func (p *Publisher) Stats() PublisherStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PublisherStats{
		Key:         p.key,
		App:         p.key.App,
		Name:        p.key.Name,
		Subscribers: len(p.subscribers),
		Messages:    p.messages,
		Bytes:       p.bytes,
		Paused:      p.paused,
		Recording:   p.recorder != nil,
		HasVideo:    p.videoHeader != nil,
		HasAudio:    p.audioHeader != nil,
		Since:       p.since,
	}
}

// Close releases the recorder and detaches every subscriber. Sinks that
// implement UnpublishNotifier are told. Close is idempotent.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := p.snapshotLocked()
	rec := p.recorder
	p.subscribers = make(map[uint64]*Subscriber)
	p.recorder = nil
	p.videoHeader, p.audioHeader, p.meta = nil, nil, nil
	p.paused = false
	p.mu.Unlock()

	if rec != nil {
		if err := rec.Close(); err != nil {
			p.logger.Warn("recorder close failed", "error", err)
		}
	}
	for _, sub := range subs {
		sub.detach()
	}
	p.logger.Info("publisher closed", "subscribers", len(subs))
}
