// Package server assembles the acceptor, room manager and admin surface into
// a runnable chat service with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/tlvchat/internal/shutdown"
)

// Server owns every long-running part of the chat service.
type Server struct {
	cfg       Config
	token     *shutdown.Token
	logger    zerolog.Logger
	registry  *prometheus.Registry
	metrics   *Metrics
	acceptor  *Acceptor
	manager   *RoomManager

	admin         *http.Server
	adminListener net.Listener

	done chan struct{}
}

// NewServer binds the chat listener (and the admin listener when AdminAddr
// is set) so Addr is known before Run. Canceling token stops the server.
func NewServer(cfg Config, token *shutdown.Token, logger zerolog.Logger) (*Server, error) {
	cfg = sanitizeConfig(cfg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(registry)
	directory := NewDirectory()

	acceptor, err := Listen(cfg.ListenAddr, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		token:     token,
		logger:    componentLogger(logger, "server"),
		registry:  registry,
		metrics:   metrics,
		acceptor:  acceptor,
		manager:   NewRoomManager(cfg, token, logger, metrics, directory),
		done:      make(chan struct{}),
	}

	if cfg.AdminAddr != "" {
		l, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			_ = acceptor.listener.Close()
			return nil, fmt.Errorf("listen admin %s: %w", cfg.AdminAddr, err)
		}
		handlers := NewAdminHandlers(directory, token, cfg.AllowedOrigins, time.Second, logger)
		s.admin = CreateAdminServer(cfg.AdminAddr, SetupRoutes(handlers, registry))
		s.adminListener = l
	}

	return s, nil
}

// Addr returns the chat listener address.
func (s *Server) Addr() net.Addr {
	return s.acceptor.Addr()
}

// AdminAddr returns the admin listener address, or nil when disabled.
func (s *Server) AdminAddr() net.Addr {
	if s.adminListener == nil {
		return nil
	}
	return s.adminListener.Addr()
}

// Run blocks until the token is canceled and every component has stopped.
// A failing listener cancels the token so the rest of the server follows.
func (s *Server) Run() error {
	defer close(s.done)

	conns := make(chan net.Conn, s.cfg.InboxSize)
	var g errgroup.Group

	g.Go(func() error {
		err := s.acceptor.Run(s.token, conns)
		if err != nil {
			s.logger.Error().Err(err).Msg("Acceptor failed")
			s.token.Cancel()
		}
		return err
	})

	g.Go(func() error {
		s.manager.Activate(conns)
		return nil
	})

	if s.admin != nil {
		g.Go(func() error {
			err := StartAdminServer(s.admin, s.adminListener, s.logger)
			if err != nil {
				s.logger.Error().Err(err).Msg("Admin server failed")
				s.token.Cancel()
			}
			return err
		})
		g.Go(func() error {
			s.token.Wait()
			return ShutdownAdminServer(s.admin, s.cfg.ShutdownTimeout, s.logger)
		})
	}

	s.logger.Info().
		Str("addr", s.Addr().String()).
		Int("max_rooms", s.cfg.MaxRooms).
		Msg("Chat server started")

	err := g.Wait()

	// The manager may have stopped before taking everything the acceptor
	// queued.
	for conn := range conns {
		_ = conn.Close()
	}

	s.logger.Info().Msg("Chat server stopped")
	return err
}

// Shutdown cancels the token and waits for Run to return. It returns
// context.DeadlineExceeded if that takes longer than timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info().Msg("Initiating server shutdown...")
	s.token.Cancel()

	select {
	case <-s.done:
		s.logger.Info().Msg("Server shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		s.logger.Warn().Msg("Server shutdown timeout reached, some rooms may still be running")
		return context.DeadlineExceeded
	}
}
