// This file implements the relay manager.
// Manages lifecycle of all relay tasks (start, stop, restart).

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"amsd/internal/config"
	"amsd/internal/core/bus"
)

// Manager manages relay tasks lifecycle.
type Manager struct {
	registry *bus.Registry
	logger   *slog.Logger
	// reconnectDelay overrides the task default when positive.
	reconnectDelay time.Duration

	mu     sync.Mutex
	tasks  []Task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a new relay manager.
func NewManager(registry *bus.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry: registry,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// newTask builds the task described by rc.
func (m *Manager) newTask(rc config.RelayConfig) (Task, error) {
	var (
		task Task
		base *BaseTask
	)
	switch rc.Mode {
	case "pull":
		t, err := NewPullTask(m.registry, m.logger, rc.App, rc.Name, rc.RemoteURL, rc.Reconnect)
		if err != nil {
			return nil, err
		}
		task, base = t, t.BaseTask
	case "push":
		t, err := NewPushTask(m.registry, m.logger, rc.App, rc.Name, rc.RemoteURL, rc.Reconnect)
		if err != nil {
			return nil, err
		}
		task, base = t, t.BaseTask
	default:
		return nil, fmt.Errorf("invalid relay mode: %s (must be 'pull' or 'push')", rc.Mode)
	}
	if m.reconnectDelay > 0 {
		base.reconnectDelay = m.reconnectDelay
	}
	return task, nil
}

// StartTasks builds every configured task and starts them. Nothing is
// started when any entry is invalid.
func (m *Manager) StartTasks(relays []config.RelayConfig) error {
	tasks := make([]Task, 0, len(relays))
	for i, rc := range relays {
		if rc.App == "" || rc.Name == "" {
			return fmt.Errorf("relay %d: missing app or name", i)
		}
		task, err := m.newTask(rc)
		if err != nil {
			return fmt.Errorf("relay %d: %w", i, err)
		}
		tasks = append(tasks, task)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range tasks {
		m.tasks = append(m.tasks, task)
		m.wg.Add(1)
		go func(t Task) {
			defer m.wg.Done()
			if err := t.Start(m.ctx); err != nil {
				info := t.Info()
				m.logger.Error("relay task stopped", "mode", info.Mode, "app", info.App, "name", info.Name, "error", err)
			}
		}(task)
	}
	return nil
}

// Stop stops all relay tasks and waits for them to finish or ctx to end.
func (m *Manager) Stop(ctx context.Context) error {
	m.cancel()
	m.mu.Lock()
	for _, task := range m.tasks {
		task.Stop()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TaskCount returns the number of configured relay tasks.
func (m *Manager) TaskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// GetTasks returns information about all relay tasks.
func (m *Manager) GetTasks() []TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskInfo, 0, len(m.tasks))
	for _, task := range m.tasks {
		out = append(out, task.Info())
	}
	return out
}

// Restart drops the active session of the task relaying app/name.
func (m *Manager) Restart(app, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.tasks {
		if info := task.Info(); info.App == app && info.Name == name {
			return task.Restart()
		}
	}
	return fmt.Errorf("relay %s/%s: %w", app, name, ErrTaskNotFound)
}
