// Package server constructs and runs the group chat service: the framed TCP
// listener, the HTTP surface and the dispatch hub they share.
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

	"github.com/Tyrowin/groupchat/internal/directory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ErrInvalidFounder is returned when the configured founder is not in the directory.
var ErrInvalidFounder = errors.New("founder identity not in directory")

// Server owns the hub and every session served from its listeners.
type Server struct {
	cfg      Config
	dir      directory.Directory
	hub      *Hub
	metrics  *Metrics
	registry *prometheus.Registry
	origins  *originPolicy
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	sessions  sync.WaitGroup

	mu         sync.Mutex
	closing    bool // set by Shutdown; guards sessions.Add
	listener   net.Listener
	httpServer *http.Server
}

// New builds a server for dir with the founder already in the group. The
// hub is not started until Start or one of the Serve methods is called.
func New(cfg Config, dir directory.Directory, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = sanitizeConfig(cfg)

	if cfg.Founder >= dir.Capacity() {
		return nil, fmt.Errorf("%w: %d (capacity %d)", ErrInvalidFounder, cfg.Founder, dir.Capacity())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := NewMetrics(registry)

	hub := NewHub(dir.Capacity(), logger.With("component", "hub"), metrics)
	hub.Join(cfg.Founder)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		dir:      dir,
		hub:      hub,
		metrics:  metrics,
		registry: registry,
		origins:  newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Hub exposes the dispatch engine, mainly for inspection in tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Registry is the Prometheus registry served on /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start launches the dispatch worker. It is safe to call more than once.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		go s.hub.Run()
		s.logger.Info("Hub started and ready to dispatch events")
	})
}

// Serve accepts framed connections from ln until the listener is closed. It
// returns nil when the listener was closed by Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.Start()

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("Temporary accept error", "err", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.serveTransport(newStreamTransport(conn, s.cfg.MaxFrameSize))
	}
}

// serveTransport runs a session for t on its own goroutine.
func (s *Server) serveTransport(t Transport) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = t.Close()
		return
	}
	s.sessions.Add(1)
	s.mu.Unlock()

	session := NewSession(t, s.hub, s.dir, s.sessionOptions())
	go func() {
		defer s.sessions.Done()
		_ = session.Serve(s.ctx)
	}()
}

func (s *Server) sessionOptions() SessionOptions {
	return SessionOptions{
		MaxLoginAttempts:    s.cfg.MaxLoginAttempts,
		RateLimit:           s.cfg.RateLimit,
		AnnounceDisconnects: s.cfg.AnnounceDisconnects,
		Logger:              s.logger,
		Metrics:             s.metrics,
	}
}

// ListenAndServe listens on the configured TCP port, and on the HTTP address
// when one is set, and blocks until both have stopped.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Port, err)
	}

	errs := make(chan error, 2)
	running := 1
	go func() { errs <- s.Serve(ln) }()

	if s.cfg.HTTPAddr != "" {
		httpServer := CreateServer(s.cfg.HTTPAddr, s.Routes())
		s.mu.Lock()
		s.httpServer = httpServer
		s.mu.Unlock()

		running++
		go func() {
			s.logger.Info("HTTP server listening", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("http server: %w", err)
				return
			}
			errs <- nil
		}()
	}

	var first error
	for i := 0; i < running; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
			s.cancel()
			s.closeListeners()
		}
	}
	return first
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
}

// Shutdown stops accepting, closes every session and the dispatch worker,
// and waits up to timeout for session goroutines to return.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info("Shutting down server...")
	deadline := time.Now().Add(timeout)

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()
	s.closeListeners()

	var errs []error

	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer != nil {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("HTTP server shutdown error", "err", err)
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		cancel()
	}

	if err := s.hub.Shutdown(time.Until(deadline)); err != nil {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Until(deadline)):
		s.logger.Warn("Shutdown timeout reached, some sessions may still be running")
		errs = append(errs, context.DeadlineExceeded)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("Server shutdown completed")
	return nil
}
