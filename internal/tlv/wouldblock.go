package tlv

import (
	"errors"
	"net"
	"os"
	"syscall"
)

// ErrWouldBlock is returned by non-blocking sources and sinks that have no
// bytes to offer (or no room to accept them) right now.
var ErrWouldBlock = errors.New("tlv: operation would block")

// IsWouldBlock reports whether err only means "try again later". Deadline
// expiry is included so a net.Conn armed with a short deadline behaves like a
// non-blocking socket.
func IsWouldBlock(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrWouldBlock) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EINTR) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
