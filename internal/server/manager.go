// Package server routes accepted connections to rooms by name, creating
// rooms on demand inside a bounded worker pool.
package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tyrowin/tlvchat/internal/shutdown"
	"github.com/Tyrowin/tlvchat/internal/workerpool"
)

const tracerName = "github.com/Tyrowin/tlvchat/internal/server"

// retireRequest is sent by an idle room asking to give up its slot.
type retireRequest struct {
	name  string
	inbox chan net.Conn
	reply chan bool
}

// RoomManager owns the name -> inbox map and the worker pool. The map is
// only touched from the goroutine running Activate (or the caller of
// Dispatch when Activate is not used).
type RoomManager struct {
	cfg       Config
	token     *shutdown.Token
	pool      *workerpool.Pool
	rooms     map[string]chan net.Conn
	retire    chan retireRequest
	logger    zerolog.Logger
	base      zerolog.Logger
	metrics   *Metrics
	directory *Directory
	tracer    trace.Tracer
}

// NewRoomManager creates a manager with cfg.MaxRooms worker slots. Nil
// metrics or directory get private instances.
func NewRoomManager(cfg Config, token *shutdown.Token, logger zerolog.Logger, metrics *Metrics, directory *Directory) *RoomManager {
	cfg = sanitizeConfig(cfg)
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if directory == nil {
		directory = NewDirectory()
	}

	return &RoomManager{
		cfg:       cfg,
		token:     token,
		pool:      workerpool.New(cfg.MaxRooms),
		rooms:     make(map[string]chan net.Conn),
		retire:    make(chan retireRequest),
		logger:    componentLogger(logger, "manager"),
		base:      logger,
		metrics:   metrics,
		directory: directory,
		tracer:    otel.Tracer(tracerName),
	}
}

// Activate dispatches every connection received on conns until the token is
// canceled, then waits for all rooms to finish. A closed conns channel stops
// intake but rooms keep running until cancellation.
func (m *RoomManager) Activate(conns <-chan net.Conn) {
	ctx, cancel := m.token.Context(context.Background())
	defer cancel()

	m.logger.Info().Int("capacity", m.pool.Capacity()).Msg("Room manager started")

	for !m.token.IsCanceled() {
		select {
		case <-m.token.Done():
		case req := <-m.retire:
			req.reply <- m.handleRetire(req)
		case conn, ok := <-conns:
			if !ok {
				m.logger.Info().Msg("Connection source closed; waiting for shutdown")
				conns = nil
				continue
			}
			if err := m.Dispatch(ctx, conn); err != nil {
				m.logDispatchError(err)
			}
		}
	}

	m.logger.Info().
		Int("active_rooms", m.pool.ActiveCount()).
		Int("named_rooms", m.roomCount()).
		Msg("Room manager stopping; waiting for rooms")
	m.pool.Join()
	if released := m.releaseInboxes(); released > 0 {
		m.logger.Info().Int("connections", released).Msg("Closed connections never admitted to a room")
	}
	m.logger.Info().Msg("Room manager stopped")
}

// releaseInboxes closes connections left in room inboxes. It must only run
// once every room has returned, when the manager is the sole owner of the
// inboxes.
func (m *RoomManager) releaseInboxes() int {
	released := 0
	for name, inbox := range m.rooms {
		for drained := false; !drained; {
			select {
			case conn := <-inbox:
				if conn != nil {
					_ = conn.Close()
					released++
				}
			default:
				drained = true
			}
		}
		delete(m.rooms, name)
	}
	return released
}

// Dispatch reads the room-name line from conn and forwards conn to that
// room, creating it if needed. On error conn is closed and nothing is sent to
// the client.
func (m *RoomManager) Dispatch(ctx context.Context, conn net.Conn) error {
	ctx, span := m.tracer.Start(ctx, "room.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("net.peer.addr", remoteAddr(conn))),
	)
	defer span.End()

	err := m.dispatch(ctx, conn, span)
	m.metrics.dispatches.WithLabelValues(dispatchResult(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if closeErr := conn.Close(); closeErr != nil && !isExpectedCloseError(closeErr) {
			m.logger.Debug().Err(closeErr).Msg("Error closing rejected connection")
		}
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (m *RoomManager) dispatch(ctx context.Context, conn net.Conn, span trace.Span) error {
	if m.token.IsCanceled() {
		return ErrShutdownInProgress
	}

	name, err := m.readRoomName(conn)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("chat.room", name))

	inbox, ok := m.rooms[name]
	if !ok {
		m.logger.Debug().Str("room", name).Msg("Room not found; creating")
		inbox, err = m.createRoom(name)
		if err != nil {
			return fmt.Errorf("room %q: %w", name, err)
		}
	}

	// Checked again here: a select with a ready send and a closed Done
	// channel picks either case at random.
	if m.token.IsCanceled() {
		return ErrShutdownInProgress
	}

	for {
		select {
		case inbox <- conn:
			m.logger.Debug().Str("room", name).Str("remote", remoteAddr(conn)).Msg("Dispatched connection to room")
			return nil
		case req := <-m.retire:
			// A full inbox refuses retirement, so the target stays alive.
			req.reply <- m.handleRetire(req)
		case <-m.token.Done():
			return ErrShutdownInProgress
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// createRoom starts a room in a free worker slot. It never waits for a slot.
func (m *RoomManager) createRoom(name string) (chan net.Conn, error) {
	inbox := make(chan net.Conn, m.cfg.InboxSize)
	room := newRoom(name, inbox, m.cfg, m.base, m.metrics, m.directory)
	if m.cfg.IdleRoomTimeout > 0 {
		room.retire = m.retireFunc(name, inbox)
	}

	if !m.pool.Submit(func() { room.Run(m.token) }) {
		return nil, ErrRoomSaturated
	}

	m.rooms[name] = inbox
	m.logger.Info().
		Str("room", name).
		Int("active_rooms", m.pool.ActiveCount()).
		Int("capacity", m.pool.Capacity()).
		Msg("Room created")
	return inbox, nil
}

// retireFunc returns the callback an idle room uses to ask for retirement.
// During shutdown the answer is always yes.
func (m *RoomManager) retireFunc(name string, inbox chan net.Conn) func() bool {
	return func() bool {
		req := retireRequest{name: name, inbox: inbox, reply: make(chan bool, 1)}
		select {
		case m.retire <- req:
		case <-m.token.Done():
			return true
		}
		select {
		case ok := <-req.reply:
			return ok
		case <-m.token.Done():
			return true
		}
	}
}

// handleRetire removes an idle room's name unless a connection is already
// waiting in its inbox. Only the manager sends on inboxes, so the length
// cannot grow while this runs.
func (m *RoomManager) handleRetire(req retireRequest) bool {
	current, ok := m.rooms[req.name]
	if !ok || current != req.inbox {
		return true
	}
	if len(req.inbox) > 0 {
		return false
	}
	delete(m.rooms, req.name)
	m.logger.Info().Str("room", req.name).Msg("Room retired")
	return true
}

// readRoomName reads the handshake line one byte at a time so that no frame
// bytes following the newline are consumed.
func (m *RoomManager) readRoomName(conn net.Conn) (string, error) {
	if m.cfg.HandshakeTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(m.cfg.HandshakeTimeout)); err != nil {
			return "", fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	}

	limit := m.cfg.MaxRoomNameLength
	line := make([]byte, 0, 32)
	var b [1]byte
	for {
		n, err := conn.Read(b[:])
		if n == 1 {
			if b[0] == '\n' {
				break
			}
			// One extra byte of room for a trailing '\r'.
			if len(line) > limit {
				return "", fmt.Errorf("%w: room name longer than %d bytes", ErrHandshake, limit)
			}
			line = append(line, b[0])
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrHandshake, err)
		}
	}

	if !utf8.Valid(line) {
		return "", fmt.Errorf("%w: room name is not valid UTF-8", ErrHandshake)
	}
	name := strings.TrimSpace(string(line))
	if name == "" {
		return "", fmt.Errorf("%w: empty room name", ErrHandshake)
	}
	if len(name) > limit {
		return "", fmt.Errorf("%w: room name longer than %d bytes", ErrHandshake, limit)
	}
	return name, nil
}

// roomCount returns the number of named rooms currently reachable. Only the
// goroutine driving Activate or Dispatch may call it.
func (m *RoomManager) roomCount() int {
	return len(m.rooms)
}

func (m *RoomManager) logDispatchError(err error) {
	event := m.logger.Warn()
	switch dispatchResult(err) {
	case "shutdown":
		event = m.logger.Debug()
	case "handshake":
		event = m.logger.Info()
	}
	event.Err(err).Msg("Failed to dispatch client to room")
}

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
