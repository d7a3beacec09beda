// Package server implements the relay server lifecycle: accepting TCP and
// WebSocket connections and shutting them down together.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tevino/abool"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gorelay/internal/store"
)

// ErrServerClosed is returned by Serve after Shutdown has been called.
var ErrServerClosed = errors.New("server closed")

// Server relays chat messages between authenticated connections and
// records them in a Store.
type Server struct {
	cfg      Config
	store    store.Store
	registry *Registry
	metrics  *Metrics
	origins  originPolicy
	upgrader websocket.Upgrader
	log      zerolog.Logger

	// mu orders handler start-up against Shutdown so the WaitGroup is
	// never added to while it is being waited on from zero.
	mu      sync.Mutex
	closing *abool.AtomicBool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Server. Out-of-range configuration values fall back to
// their defaults.
func New(cfg Config, st store.Store, log zerolog.Logger) *Server {
	cfg = sanitizeConfig(cfg)
	metrics := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:      cfg,
		store:    st,
		registry: NewRegistry(log, metrics),
		metrics:  metrics,
		origins:  newOriginPolicy(cfg.AllowedOrigins, log),
		log:      log.With().Str("component", "server").Logger(),
		closing:  abool.New(),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.allows,
	}
	return s
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Serve accepts TCP connections on ln until Shutdown is called, handling
// each one on its own goroutine. Transient accept errors are logged and
// retried with a capped backoff. It returns nil after a shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if s.closing.IsSet() {
		_ = ln.Close()
		return ErrServerClosed
	}
	stop := context.AfterFunc(s.ctx, func() { _ = ln.Close() })
	defer stop()

	s.log.Info().Str("address", ln.Addr().String()).Msg("Accepting connections")
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.IsSet() {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && !errors.Is(err, net.ErrClosed) {
				delay = nextAcceptDelay(delay)
				s.log.Warn().Err(err).Dur("retry_in", delay).Msg("Accept failed")
				if !s.sleep(delay) {
					return nil
				}
				continue
			}
			return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
		}
		delay = 0

		s.metrics.connections.WithLabelValues("tcp").Inc()
		t := newTCPTransport(conn, s.cfg)
		if !s.startHandler(func() { s.handle(t, "tcp") }) {
			_ = t.Close()
		}
	}
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// nextAcceptDelay doubles the wait after each consecutive accept failure.
func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	return min(2*prev, maxAcceptDelay)
}

// sleep waits for d and reports false if the server began shutting down.
func (s *Server) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// ListenAndServe listens on the configured TCP address, and on the HTTP
// address when one is set, until ctx is cancelled or either listener fails.
// Cancelling ctx shuts the server down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr(), err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(ln)
	})

	if s.cfg.HTTPAddress != "" {
		httpServer := CreateServer(s.cfg.HTTPAddress, s.Handler())
		g.Go(func() error {
			s.log.Info().Str("address", httpServer.Addr).Msg("HTTP server listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			s.waitForStop(gctx)
			return ShutdownServer(httpServer, s.cfg.ShutdownTimeout, s.log)
		})
	}

	g.Go(func() error {
		s.waitForStop(gctx)
		return s.Shutdown(s.cfg.ShutdownTimeout)
	})
	return g.Wait()
}

func (s *Server) waitForStop(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
}

// Shutdown stops accepting connections, closes every connection, and waits
// up to timeout for their goroutines to finish.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	first := s.closing.SetToIf(false, true)
	s.mu.Unlock()

	if first {
		s.log.Info().Msg("Shutting down relay")
		s.cancel()
		closed := s.registry.CloseAll()
		s.log.Info().Int("sessions", closed).Msg("Closed active sessions")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("Relay shutdown completed")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}
}

// startHandler runs fn on a tracked goroutine unless the server is closing.
func (s *Server) startHandler(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.IsSet() {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}
