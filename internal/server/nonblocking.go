package server

import (
	"net"
	"time"
)

// pollConn turns each Read and Write on a net.Conn into a short, bounded
// attempt. The runtime netpoller has no "try once" call, so a deadline of
// window is armed first; expiry surfaces as os.ErrDeadlineExceeded, which
// tlv.IsWouldBlock treats as would-block. Bytes moved before the deadline are
// still reported.
type pollConn struct {
	conn   net.Conn
	window time.Duration
}

func (p pollConn) Read(b []byte) (int, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(p.window)); err != nil {
		return 0, err
	}
	return p.conn.Read(b)
}

func (p pollConn) Write(b []byte) (int, error) {
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.window)); err != nil {
		return 0, err
	}
	return p.conn.Write(b)
}
