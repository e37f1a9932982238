// Package server defines shared error values and utility helpers that are
// reused across connection, room and manager logic.
package server

import (
	"errors"
	"strings"
)

// Dispatch and connection errors.
var (
	// ErrRoomSaturated means every worker slot is busy and the requested
	// room does not exist yet. The connection is not admitted.
	ErrRoomSaturated = errors.New("room pool is full")
	// ErrHandshake means the room-name line was missing, too long, empty
	// or not valid UTF-8.
	ErrHandshake = errors.New("invalid room handshake")
	// ErrShutdownInProgress is returned for work that arrives after
	// cancellation.
	ErrShutdownInProgress = errors.New("server is shutting down")
	// ErrSlowConsumer means a connection's outbound queue grew past
	// MaxQueuedFrames.
	ErrSlowConsumer = errors.New("outbound queue limit exceeded")
)

// dispatchResult maps a Dispatch error onto a metrics label.
func dispatchResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRoomSaturated):
		return "saturated"
	case errors.Is(err, ErrHandshake):
		return "handshake"
	case errors.Is(err, ErrShutdownInProgress):
		return "shutdown"
	default:
		return "error"
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "io: read/write on closed pipe") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
