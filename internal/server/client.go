// Package server manages individual chat connections, handling resumable
// frame reads, queued frame writes, rate limiting, and lifecycle state for
// each socket.
package server

import (
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/tlvchat/internal/tlv"
)

// Client represents one connection joined to a room. All of its state is
// touched only by the owning room's goroutine.
type Client struct {
	id     string
	conn   net.Conn
	io     pollConn
	addr   string
	reader *tlv.Reader
	// outbound is a FIFO of frames not yet fully written; the head may be
	// partially flushed.
	outbound []*tlv.Writer

	maxQueued   int
	rateLimiter *rateLimiter
	rateLimit   RateLimitConfig

	logger  zerolog.Logger
	metrics *Metrics

	err        error
	peerClosed bool
}

// NewClient wraps conn for use inside a room. cfg should already be sanitized.
func NewClient(conn net.Conn, cfg Config, logger zerolog.Logger, metrics *Metrics) *Client {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	id := uuid.NewString()
	addr := ""
	if conn != nil && conn.RemoteAddr() != nil {
		addr = conn.RemoteAddr().String()
	}

	return &Client{
		id:          id,
		conn:        conn,
		io:          pollConn{conn: conn, window: cfg.PollWindow},
		addr:        addr,
		reader:      tlv.NewReader(cfg.MaxPayloadSize),
		maxQueued:   cfg.MaxQueuedFrames,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		rateLimit:   cfg.RateLimit,
		logger:      logger.With().Str("conn_id", id).Str("remote", addr).Logger(),
		metrics:     metrics,
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// Addr returns the remote address.
func (c *Client) Addr() string {
	return c.addr
}

// Err returns the error that made the connection unusable, if any.
func (c *Client) Err() error {
	return c.err
}

// PeerClosed reports whether the peer closed its side at a frame boundary.
func (c *Client) PeerClosed() bool {
	return c.peerClosed
}

// Alive reports whether the connection can still read and write.
func (c *Client) Alive() bool {
	return c.err == nil && !c.peerClosed
}

// Queued returns the number of frames waiting to be flushed.
func (c *Client) Queued() int {
	return len(c.outbound)
}

// TryReadMessage drives the frame reader while it keeps making progress and
// returns a message only if one was fully decoded during this call.
// Half-close and would-block both return false; Alive tells them apart.
func (c *Client) TryReadMessage() (tlv.Message, bool) {
	for c.Alive() {
		res, err := c.reader.Poll(c.io)
		c.metrics.bytesReceived.Add(float64(res.N))
		if err != nil {
			c.fail(fmt.Errorf("read frame: %w", err))
			return tlv.Message{}, false
		}

		switch res.Status {
		case tlv.ReadComplete:
			c.metrics.framesReceived.Inc()
			if !c.checkRateLimit() {
				return tlv.Message{}, false
			}
			return res.Message, true
		case tlv.ReadClosed:
			c.peerClosed = true
			c.logger.Info().Msg("Client closed connection")
			return tlv.Message{}, false
		default:
			if res.N == 0 {
				return tlv.Message{}, false
			}
		}
	}
	return tlv.Message{}, false
}

// EnqueueAndFlush appends msgs behind anything already queued, then writes
// from the head until the socket stops accepting bytes. A partially written
// frame stays at the head for the next call.
func (c *Client) EnqueueAndFlush(msgs []tlv.Message) {
	if !c.Alive() {
		return
	}

	for _, msg := range msgs {
		c.outbound = append(c.outbound, tlv.NewWriter(msg))
	}
	if c.maxQueued > 0 && len(c.outbound) > c.maxQueued {
		c.fail(fmt.Errorf("%w: %d frames queued", ErrSlowConsumer, len(c.outbound)))
		return
	}

	c.flush()
}

func (c *Client) flush() {
	for len(c.outbound) > 0 {
		head := c.outbound[0]
		res, err := head.Poll(c.io)
		c.metrics.bytesSent.Add(float64(res.N))
		if err != nil {
			c.fail(fmt.Errorf("write frame: %w", err))
			return
		}

		switch res.Status {
		case tlv.WriteComplete:
			c.outbound[0] = nil
			c.outbound = c.outbound[1:]
			c.metrics.framesSent.Inc()
		case tlv.WriteStalled:
			// Zero bytes without an error: leave the frame queued and retry on
			// the next tick.
			return
		default:
			if res.N == 0 {
				return
			}
		}
	}
	c.outbound = nil
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the frame should be relayed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.metrics.framesDropped.WithLabelValues("rate_limited").Inc()
		c.logger.Warn().
			Int("burst", c.rateLimit.Burst).
			Dur("refill_interval", c.rateLimit.RefillInterval).
			Msg("Rate limit exceeded; discarding frame")
		return false
	}
	return true
}

func (c *Client) fail(err error) {
	if c.err != nil {
		return
	}
	c.err = err
	c.outbound = nil
	if isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("Client connection closed")
		return
	}
	c.logger.Warn().Err(err).Msg("Client connection failed")
}

// Close releases the socket.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("Error closing client connection")
	}
}
