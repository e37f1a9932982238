package server

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/tlvchat/internal/shutdown"
)

// Acceptor accepts raw TCP connections and forwards them to the room
// manager over a channel.
type Acceptor struct {
	listener net.Listener
	logger   zerolog.Logger
}

// Listen opens a TCP listener on addr.
func Listen(addr string, logger zerolog.Logger) (*Acceptor, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return NewAcceptor(l, logger), nil
}

// NewAcceptor wraps an existing listener.
func NewAcceptor(l net.Listener, logger zerolog.Logger) *Acceptor {
	return &Acceptor{listener: l, logger: componentLogger(logger, "acceptor")}
}

// Addr returns the listening address.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Run accepts until token is canceled or the listener fails, sending each
// connection on out. Cancellation closes the listener so a blocked Accept
// returns. out is closed when Run returns.
func (a *Acceptor) Run(token *shutdown.Token, out chan<- net.Conn) error {
	defer close(out)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-token.Done():
		case <-stop:
		}
		if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			a.logger.Debug().Err(err).Msg("Error closing listener")
		}
	}()

	a.logger.Info().Str("addr", a.Addr().String()).Msg("Accepting connections")

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if token.IsCanceled() || errors.Is(err, net.ErrClosed) {
				a.logger.Info().Msg("Acceptor stopped")
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				a.logger.Warn().Err(err).Msg("Error in incoming connection")
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		a.logger.Debug().Str("remote", remoteAddr(conn)).Msg("New connection")

		select {
		case out <- conn:
		case <-token.Done():
			_ = conn.Close()
			return nil
		}
	}
}
