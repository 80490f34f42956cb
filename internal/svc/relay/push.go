// This file implements push relay: forward a local publisher to a remote
// server as a live publish.

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"amsd/internal/core/bus"
)

// localPollInterval is how often a push task looks for its local publisher.
const localPollInterval = 500 * time.Millisecond

// pushQueueSize bounds the media buffered toward a slow remote.
const pushQueueSize = 1000

var errLocalEnded = errors.New("local stream ended")

// PushTask implements push relay (subscribe locally, publish to remote).
type PushTask struct {
	*BaseTask
}

// NewPushTask creates a new push relay task.
func NewPushTask(registry *bus.Registry, logger *slog.Logger, app, name, remoteURL string, reconnect bool) (*PushTask, error) {
	base, err := newBaseTask(registry, logger, "push", app, name, remoteURL, reconnect)
	if err != nil {
		return nil, err
	}
	return &PushTask{BaseTask: base}, nil
}

// Start runs push sessions until the task stops.
func (t *PushTask) Start(ctx context.Context) error {
	return t.run(ctx, t.session)
}

// waitLocal blocks until the local publisher exists.
func (t *PushTask) waitLocal(ctx context.Context) (*bus.Publisher, error) {
	ticker := time.NewTicker(localPollInterval)
	defer ticker.Stop()
	for {
		if pub := t.registry.Lookup(t.key); pub != nil {
			return pub, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// session forwards one local publish to the remote.
func (t *PushTask) session(ctx context.Context) error {
	pub, err := t.waitLocal(ctx)
	if err != nil {
		return err
	}

	c, streamID, err := t.open(ctx)
	if err != nil {
		return err
	}
	defer t.close(c)

	if err := c.publish(ctx, streamID, t.target.Stream); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	queue := bus.NewQueueSink(pushQueueSize)
	sub := pub.Subscribe(queue)
	if sub == nil {
		return errLocalEnded
	}
	defer sub.Close()
	t.logger.Info("pushing")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	readErr := make(chan error, 1)
	go func() {
		// drain replies and control so the remote stays satisfied
		for {
			if _, _, err := c.next(ctx); err != nil {
				readErr <- err
				cancel()
				return
			}
		}
	}()

	for {
		msg, ok := queue.Next(ctx)
		if !ok {
			break
		}
		if err := c.send(streamID, msg); err != nil {
			return err
		}
	}
	select {
	case err := <-readErr:
		if !errors.Is(err, context.Canceled) {
			return err
		}
	default:
	}
	if ctx.Err() == nil {
		return errLocalEnded
	}
	return nil
}
