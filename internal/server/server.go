// This file implements the process lifecycle: it builds the publisher
// registry, the RTMP server, the relay manager and the HTTP services, and
// runs the registry sweep.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"amsd/internal/config"
	"amsd/internal/core/bus"
	"amsd/internal/svc/api"
	"amsd/internal/svc/health"
	"amsd/internal/svc/httpflv"
	"amsd/internal/svc/relay"
	"amsd/internal/svc/rtmp"
	"amsd/internal/svc/wsflv"
)

// Version is reported by the API.
const Version = "0.1.0"

// services lists what the API reports as enabled.
var services = []string{"rtmp", "rtmp_vod", "rtmp_record", "http_flv", "ws_flv", "relay", "api"}

// Server wraps the listeners and their dependencies.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *bus.Registry
	rtmp     *rtmp.Server
	relays   *relay.Manager

	httpServer   *http.Server
	healthServer *http.Server
	httpLn       net.Listener
	healthLn     net.Listener

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new server instance with the given configuration.
// Nothing listens until Start is called.
func New(cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	registry := bus.NewRegistry(cfg.Registry.PublisherTTL)
	rtmpServer := rtmp.NewServer(registry, RTMPOptions(cfg), logger)
	relays := relay.NewManager(registry, logger)

	mux := http.NewServeMux()
	api.NewService(registry, rtmpServer, relays, Version, services).RegisterRoutes(mux)
	wsflv.NewService(registry, logger).RegisterRoutes(mux)
	// the HTTP-FLV catch-all goes last
	httpflv.NewService(registry, logger).RegisterRoutes(mux)

	healthMux := http.NewServeMux()
	health.New().RegisterRoutes(healthMux)

	return &Server{
		cfg:          cfg,
		logger:       logger,
		registry:     registry,
		rtmp:         rtmpServer,
		relays:       relays,
		httpServer:   &http.Server{Handler: mux},
		healthServer: &http.Server{Handler: healthMux},
		stop:         make(chan struct{}),
	}
}

// RTMPOptions converts the rtmp and media sections to server options.
func RTMPOptions(cfg *config.Config) rtmp.Options {
	return rtmp.Options{
		PlayChunkSize: cfg.RTMP.PlayChunkSize,
		WindowAckSize: cfg.RTMP.WindowAckSize,
		PeerBandwidth: cfg.RTMP.PeerBandwidth,
		AckInterval:   cfg.RTMP.AckInterval,
		PollInterval:  cfg.RTMP.PollInterval,
		TickInterval:  cfg.RTMP.TickInterval,
		WriteTimeout:  cfg.RTMP.WriteTimeout,
		MediaRoot:     cfg.Media.Root,
		BufferTime:    cfg.Media.BufferTime,
	}
}

// Start binds every listener and serves in the background. If any
// listener fails the ones already bound are closed.
func (s *Server) Start() error {
	var err error
	if s.healthLn, err = net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.HealthPort)); err != nil {
		return fmt.Errorf("health listener: %w", err)
	}
	if s.httpLn, err = net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)); err != nil {
		s.healthLn.Close()
		return fmt.Errorf("http listener: %w", err)
	}
	if err = s.rtmp.Listen(fmt.Sprintf(":%d", s.cfg.Server.RTMPPort)); err != nil {
		s.healthLn.Close()
		s.httpLn.Close()
		return fmt.Errorf("rtmp listener: %w", err)
	}

	if err = s.relays.StartTasks(s.cfg.Relays); err != nil {
		s.healthLn.Close()
		s.httpLn.Close()
		s.rtmp.Close()
		return fmt.Errorf("relays: %w", err)
	}

	s.serveHTTP("health", s.healthServer, s.healthLn)
	s.serveHTTP("http", s.httpServer, s.httpLn)
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.rtmp.Accept(); err != nil {
			s.logger.Error("rtmp accept failed", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.sweepLoop()
	}()
	s.logger.Info("server started",
		"rtmp", s.rtmp.Addr().String(),
		"http", s.httpLn.Addr().String(),
		"health", s.healthLn.Addr().String(),
		"relays", s.relays.TaskCount())
	return nil
}

func (s *Server) serveHTTP(name string, srv *http.Server, ln net.Listener) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http serve failed", "listener", name, "error", err)
		}
	}()
}

// sweepLoop purges expired registry entries until Shutdown.
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.cfg.Registry.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.registry.Sweep(); n > 0 {
				s.logger.Info("expired publishers removed", "count", n)
			}
		}
	}
}

// Registry returns the publisher registry.
func (s *Server) Registry() *bus.Registry {
	return s.registry
}

// Shutdown stops relays and accepting, closes every RTMP connection and
// drains the HTTP servers. Live HTTP-FLV and WS-FLV viewers end as their publishers
// close.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	errs := []error{s.relays.Stop(ctx), s.rtmp.Close()}
	errs = append(errs, s.httpServer.Shutdown(ctx))
	errs = append(errs, s.healthServer.Shutdown(ctx))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

// ShutdownWithTimeout stops the server with a fixed 5-second timeout.
func (s *Server) ShutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
