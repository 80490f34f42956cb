// This file implements pull relay: play a remote stream and republish it
// locally under the task's key.

package relay

import (
	"context"
	"fmt"
	"log/slog"

	"amsd/internal/core/bus"
	rtmpprotocol "amsd/internal/core/protocol/rtmp"
)

// PullTask implements pull relay (connect to remote, play, republish locally).
type PullTask struct {
	*BaseTask
	ackInterval uint64
}

// NewPullTask creates a new pull relay task.
func NewPullTask(registry *bus.Registry, logger *slog.Logger, app, name, remoteURL string, reconnect bool) (*PullTask, error) {
	base, err := newBaseTask(registry, logger, "pull", app, name, remoteURL, reconnect)
	if err != nil {
		return nil, err
	}
	return &PullTask{BaseTask: base, ackInterval: bus.DefaultAckInterval}, nil
}

// Start runs pull sessions until the task stops.
func (t *PullTask) Start(ctx context.Context) error {
	return t.run(ctx, t.session)
}

// session plays the remote stream once. The local publisher exists only
// while the remote is playing.
func (t *PullTask) session(ctx context.Context) error {
	c, streamID, err := t.open(ctx)
	if err != nil {
		return err
	}
	defer t.close(c)

	if err := c.play(ctx, streamID, t.target.Stream); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	pub := bus.NewPublisher(t.key, bus.PublisherOptions{AckInterval: t.ackInterval, Logger: t.logger})
	if err := t.registry.Register(pub); err != nil {
		return err
	}
	defer func() {
		pub.Close()
		t.registry.Remove(pub)
	}()
	t.logger.Info("pulling")

	for {
		h, msg, err := c.next(ctx)
		if err != nil {
			return err
		}
		if h.StreamID != streamID {
			continue
		}
		switch m := msg.(type) {
		case rtmpprotocol.Audio:
			pub.Publish(bus.NewMessage(bus.MessageTypeAudio, h.Timestamp, m.Payload))
		case rtmpprotocol.Video:
			pub.Publish(bus.NewMessage(bus.MessageTypeVideo, h.Timestamp, m.Payload))
		case rtmpprotocol.Data:
			payload := m.Payload
			if m.AMF3 && len(payload) > 0 {
				payload = payload[1:]
			}
			pub.Publish(bus.NewMessage(bus.MessageTypeMetadata, h.Timestamp, payload))
		case rtmpprotocol.Command:
			if code := statusCode(m); code == "NetStream.Play.UnpublishNotify" || code == "NetStream.Play.Stop" {
				return fmt.Errorf("%w: %s", ErrRemoteEnded, code)
			}
		}
	}
}
