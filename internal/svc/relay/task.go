// This file defines the relay task interface and the shared run loop.
// A task runs one remote session at a time and reconnects on failure when
// configured to.

package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"amsd/internal/core/bus"
)

// DefaultReconnectDelay is the pause between remote sessions.
const DefaultReconnectDelay = 5 * time.Second

var (
	// ErrTaskNotRunning is returned by Restart when no session is active.
	ErrTaskNotRunning = errors.New("relay task not running")
	// ErrTaskNotFound is returned for an unknown app/name.
	ErrTaskNotFound = errors.New("relay task not found")
)

// Task represents a relay task (pull or push).
type Task interface {
	// Start runs the task until ctx is done, Stop is called or a session
	// fails without reconnect.
	Start(ctx context.Context) error
	// Stop stops the task. It is safe to call more than once.
	Stop() error
	// Restart drops the active remote session so a new one is opened.
	Restart() error
	IsRunning() bool
	Info() TaskInfo
}

// TaskInfo describes a task for the API.
type TaskInfo struct {
	App       string `json:"app"`
	Name      string `json:"name"`
	Mode      string `json:"mode"`
	RemoteURL string `json:"remote_url"`
	Running   bool   `json:"running"`
	Sessions  uint64 `json:"sessions"`
	LastError string `json:"last_error,omitempty"`
}

// BaseTask provides the lifecycle shared by pull and push tasks.
type BaseTask struct {
	registry       *bus.Registry
	logger         *slog.Logger
	key            bus.StreamKey
	mode           string
	remoteURL      string
	target         Target
	reconnect      bool
	reconnectDelay time.Duration

	running  atomic.Bool
	sessions atomic.Uint64
	stopOnce sync.Once
	stop     chan struct{}

	mu      sync.Mutex
	active  *client
	lastErr error
}

func newBaseTask(registry *bus.Registry, logger *slog.Logger, mode, app, name, remoteURL string, reconnect bool) (*BaseTask, error) {
	target, err := ParseURL(remoteURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	key := bus.NewStreamKey(app, name)
	return &BaseTask{
		registry:       registry,
		logger:         logger.With("component", "relay", "mode", mode, "stream", key.String(), "remote", remoteURL),
		key:            key,
		mode:           mode,
		remoteURL:      remoteURL,
		target:         target,
		reconnect:      reconnect,
		reconnectDelay: DefaultReconnectDelay,
		stop:           make(chan struct{}),
	}, nil
}

// IsRunning returns true while Start is running.
func (t *BaseTask) IsRunning() bool {
	return t.running.Load()
}

// Stop signals the task to stop and drops the active session.
func (t *BaseTask) Stop() error {
	t.stopOnce.Do(func() { close(t.stop) })
	t.Restart()
	return nil
}

// Restart closes the active remote session. The run loop opens a new one
// after the reconnect delay when reconnect is enabled.
func (t *BaseTask) Restart() error {
	t.mu.Lock()
	c := t.active
	t.mu.Unlock()
	if c == nil {
		return ErrTaskNotRunning
	}
	return c.Close()
}

// Info returns the task description and state.
func (t *BaseTask) Info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := TaskInfo{
		App:       t.key.App,
		Name:      t.key.Name,
		Mode:      t.mode,
		RemoteURL: t.remoteURL,
		Running:   t.running.Load(),
		Sessions:  t.sessions.Load(),
	}
	if t.lastErr != nil {
		info.LastError = t.lastErr.Error()
	}
	return info
}

// run calls session until the task stops. A session error ends the task
// unless reconnect is set.
func (t *BaseTask) run(ctx context.Context, session func(ctx context.Context) error) error {
	t.running.Store(true)
	defer t.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		err := session(ctx)
		t.sessions.Add(1)
		if ctx.Err() != nil {
			return nil
		}
		t.mu.Lock()
		t.lastErr = err
		t.mu.Unlock()
		if err != nil {
			t.logger.Warn("relay session ended", "error", err)
		} else {
			t.logger.Info("relay session ended")
		}
		if !t.reconnect {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(t.reconnectDelay):
		}
	}
}

// open dials the remote and runs connect and createStream. The client is
// registered as active so Restart and Stop can drop it.
func (t *BaseTask) open(ctx context.Context) (*client, uint32, error) {
	c, err := dial(ctx, t.target.Host, t.logger)
	if err != nil {
		return nil, 0, err
	}
	t.mu.Lock()
	t.active = c
	t.mu.Unlock()

	streamID, err := c.connect(ctx, t.target)
	if err != nil {
		t.close(c)
		return nil, 0, err
	}
	return c, streamID, nil
}

func (t *BaseTask) close(c *client) {
	t.mu.Lock()
	if t.active == c {
		t.active = nil
	}
	t.mu.Unlock()
	c.Close()
}
