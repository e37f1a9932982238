// Package server runs chat rooms: each room owns its member connections,
// harvests decoded frames once per tick and fans them out to every member.
package server

import (
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/tlvchat/internal/shutdown"
	"github.com/Tyrowin/tlvchat/internal/tlv"
)

// Room is a single-goroutine actor. Connections reach it only through its
// inbox channel and no other goroutine touches its members.
type Room struct {
	name    string
	inbox   <-chan net.Conn
	clients []*Client
	pending []tlv.Message

	cfg       Config
	logger    zerolog.Logger
	metrics   *Metrics
	directory *Directory

	// retire asks the manager for permission to exit once the room has been
	// idle for IdleRoomTimeout. Nil keeps the room alive until cancellation.
	retire     func() bool
	emptySince time.Time
}

func newRoom(name string, inbox <-chan net.Conn, cfg Config, logger zerolog.Logger, metrics *Metrics, directory *Directory) *Room {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if directory == nil {
		directory = NewDirectory()
	}
	return &Room{
		name:       name,
		inbox:      inbox,
		cfg:        cfg,
		logger:     componentLogger(logger, "room").With().Str("room", name).Logger(),
		metrics:    metrics,
		directory:  directory,
		emptySince: time.Now(),
	}
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.name
}

// Run loops until token is canceled or the room is retired. The only
// suspension point is the wait between ticks.
func (r *Room) Run(token *shutdown.Token) {
	r.directory.register(r, r.name)
	r.metrics.roomsActive.Inc()
	r.logger.Info().Msg("Room opened")

	defer r.close()

	for !token.IsCanceled() {
		r.tick()

		if r.idleExpired() && r.retire != nil && r.retire() {
			r.logger.Info().Dur("idle_timeout", r.cfg.IdleRoomTimeout).Msg("Room retired after idle timeout")
			return
		}

		if token.WaitTimeout(r.cfg.TickInterval) {
			return
		}
	}
}

// tick performs one iteration: admit, collect, broadcast, prune.
func (r *Room) tick() {
	r.admit()
	r.collect()
	r.broadcast()
	r.prune()
}

// admit onboards at most one connection waiting in the inbox.
func (r *Room) admit() {
	select {
	case conn, ok := <-r.inbox:
		if !ok {
			r.inbox = nil
			return
		}
		if conn == nil {
			r.logger.Warn().Msg("Received nil connection; skipping")
			return
		}
		client := NewClient(conn, r.cfg, r.logger, r.metrics)
		r.clients = append(r.clients, client)
		r.metrics.connectionsActive.Inc()
		r.publishMembers()
		r.logger.Info().
			Str("conn_id", client.ID()).
			Str("remote", client.Addr()).
			Int("members", len(r.clients)).
			Msg("Client joined room")
	default:
	}
}

// collect reads at most one frame from every member.
func (r *Room) collect() {
	for _, client := range r.clients {
		if msg, ok := client.TryReadMessage(); ok {
			r.pending = append(r.pending, msg)
		}
	}
}

// broadcast hands every pending frame to every member, the sender included,
// in arrival order. Members with a backlog are flushed even on quiet ticks.
func (r *Room) broadcast() {
	if len(r.pending) == 0 {
		for _, client := range r.clients {
			if client.Queued() > 0 {
				client.EnqueueAndFlush(nil)
			}
		}
		return
	}

	relayed := uint64(len(r.pending))
	r.directory.update(r, r.name, func(info *RoomInfo) {
		info.FramesRelayed += relayed
	})

	for _, client := range r.clients {
		client.EnqueueAndFlush(r.pending)
	}
	r.logger.Debug().Int("frames", len(r.pending)).Int("members", len(r.clients)).Msg("Broadcast pending frames")

	clear(r.pending)
	r.pending = r.pending[:0]
}

// prune removes members whose connection failed or was closed by the peer.
// A half-close at a frame boundary counts as leaving the room: the socket is
// closed and frames still queued for that member are discarded.
func (r *Room) prune() {
	kept := r.clients[:0]
	removed := 0
	for _, client := range r.clients {
		if client.Alive() {
			kept = append(kept, client)
			continue
		}
		r.removeClient(client, removalReason(client))
		removed++
	}
	clear(r.clients[len(kept):])
	r.clients = kept

	if removed > 0 {
		r.publishMembers()
	}

	if len(r.clients) > 0 {
		r.emptySince = time.Time{}
	} else if r.emptySince.IsZero() {
		r.emptySince = time.Now()
	}
}

func (r *Room) removeClient(client *Client, reason string) {
	client.Close()
	r.metrics.connectionsActive.Dec()
	r.metrics.connectionsDropped.WithLabelValues(reason).Inc()
	r.logger.Info().
		Str("conn_id", client.ID()).
		Str("reason", reason).
		Msg("Client removed from room")
}

func removalReason(client *Client) string {
	switch {
	case client.PeerClosed():
		return "closed"
	case errors.Is(client.Err(), ErrSlowConsumer):
		return "slow_consumer"
	default:
		return "io_error"
	}
}

func (r *Room) idleExpired() bool {
	return r.cfg.IdleRoomTimeout > 0 &&
		len(r.clients) == 0 &&
		!r.emptySince.IsZero() &&
		time.Since(r.emptySince) >= r.cfg.IdleRoomTimeout
}

func (r *Room) publishMembers() {
	members := len(r.clients)
	r.directory.update(r, r.name, func(info *RoomInfo) {
		info.Members = members
	})
}

// close disconnects every member and withdraws the room from the directory.
func (r *Room) close() {
	for _, client := range r.clients {
		client.Close()
		r.metrics.connectionsActive.Dec()
		r.metrics.connectionsDropped.WithLabelValues("shutdown").Inc()
	}
	count := len(r.clients)
	r.clients = nil

	// Connections the manager forwarded but this room never admitted.
	for r.inbox != nil {
		select {
		case conn, ok := <-r.inbox:
			if !ok {
				r.inbox = nil
				continue
			}
			if conn != nil {
				_ = conn.Close()
			}
		default:
			r.inbox = nil
		}
	}

	r.directory.remove(r, r.name)
	r.metrics.roomsActive.Dec()
	r.logger.Info().Int("closed_clients", count).Msg("Room closed")
}
