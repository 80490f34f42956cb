// This file implements the RTMP server that accepts connections.
// Each connection runs its own NetConnection on a dedicated goroutine.

package rtmp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"amsd/internal/core/bus"
	rtmpprotocol "amsd/internal/core/protocol/rtmp"
)

// Accept retry delays after a failed Accept, doubling up to the maximum.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// ServerVersion is reported as fmsVer in connect replies.
const ServerVersion = "FMS/3,5,1,525"

// Options configures connections accepted by a Server.
type Options struct {
	// PlayChunkSize is the write chunk size switched to before playback.
	PlayChunkSize uint32
	WindowAckSize uint32
	PeerBandwidth uint32
	// AckInterval is the published byte count between upstream Acks.
	AckInterval uint64
	// PollInterval bounds how long one read waits for data.
	PollInterval time.Duration
	// TickInterval is the longest a busy connection goes without ticking players.
	TickInterval time.Duration
	WriteTimeout time.Duration
	MediaRoot    string
	BufferTime   time.Duration
}

// DefaultOptions returns the options used for unset fields.
func DefaultOptions() Options {
	return Options{
		PlayChunkSize: 1024,
		WindowAckSize: 128 * 1024,
		PeerBandwidth: 128 * 1024,
		AckInterval:   bus.DefaultAckInterval,
		PollInterval:  10 * time.Millisecond,
		TickInterval:  20 * time.Millisecond,
		WriteTimeout:  10 * time.Second,
		MediaRoot:     "media",
		BufferTime:    DefaultBufferTime,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PlayChunkSize == 0 {
		o.PlayChunkSize = d.PlayChunkSize
	}
	if o.WindowAckSize == 0 {
		o.WindowAckSize = d.WindowAckSize
	}
	if o.PeerBandwidth == 0 {
		o.PeerBandwidth = d.PeerBandwidth
	}
	if o.AckInterval == 0 {
		o.AckInterval = d.AckInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.TickInterval <= 0 {
		o.TickInterval = d.TickInterval
	}
	if o.MediaRoot == "" {
		o.MediaRoot = d.MediaRoot
	}
	if o.BufferTime < 0 {
		o.BufferTime = 0
	}
	return o
}

// Server represents an RTMP server.
type Server struct {
	registry *bus.Registry
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[*NetConnection]struct{}
	closed   bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new RTMP server.
func NewServer(registry *bus.Registry, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		registry: registry,
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "rtmp"),
		conns:    make(map[*NetConnection]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Listen starts listening on the specified address.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Accept accepts connections and handles them in goroutines.
// Accept failures such as running out of file descriptors are logged and
// retried with a growing delay. It returns nil once the server is closed.
func (s *Server) Accept() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("rtmp: Accept before Listen")
	}
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(delay*2, maxAcceptDelay)
			}
			s.logger.Warn("accept failed", "error", err, "retry_in", delay)
			select {
			case <-s.ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		delay = 0
		s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	transport := rtmpprotocol.NewConnTransport(conn, s.opts.PollInterval, s.opts.WriteTimeout)
	session := rtmpprotocol.NewSession(transport, rtmpprotocol.RoleServer)
	nc := NewNetConnection(session, s.registry, s.opts, s.logger)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = session.Close()
		return
	}
	s.conns[nc] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.conns, nc)
			s.mu.Unlock()
		}()
		if err := nc.Serve(s.ctx); err != nil && !errors.Is(err, rtmpprotocol.ErrInvalidVersion) {
			s.logger.Debug("connection ended", "conn_id", nc.ID(), "error", err)
		}
	}()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Connections returns the number of live connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops accepting, closes every connection and waits for their
// streams to be torn down.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.cancel()
	s.wg.Wait()
	return err
}
