// Package server constructs and starts the admin HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// CreateAdminServer creates and configures the admin HTTP server with the
// specified address and handler. WriteTimeout is unset: the live room feed
// is long-lived and sets its own per-write deadlines.
func CreateAdminServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartAdminServer serves on l until the server is shut down. A clean
// shutdown is not reported as an error.
func StartAdminServer(server *http.Server, l net.Listener, logger zerolog.Logger) error {
	logger.Info().Str("addr", l.Addr().String()).Msg("Admin server listening")
	if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownAdminServer gracefully shuts down the admin server without
// interrupting active requests. It waits for them to finish or until the
// timeout is reached.
func ShutdownAdminServer(server *http.Server, timeout time.Duration, logger zerolog.Logger) error {
	logger.Info().Msg("Shutting down admin server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Admin server shutdown error")
		return err
	}

	logger.Info().Msg("Admin server shutdown completed")
	return nil
}
