// Package testhelpers provides common utilities and helper functions for
// testing the chat server.
//
// It contains reusable helpers shared across package tests: dialing a room,
// sending and receiving frames with timeouts, and polling for conditions, to
// reduce code duplication in test files.
package testhelpers

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/Tyrowin/tlvchat/internal/tlv"
)

// TextType is the frame type used by tests for plain text payloads.
const TextType uint16 = 1

// DialRoom connects to addr and sends the room handshake line.
func DialRoom(addr, room string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte(room + "\n")); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// MustDialRoom is DialRoom that fails the test on error and closes the
// connection at cleanup.
func MustDialRoom(t *testing.T, addr, room string) net.Conn {
	t.Helper()
	conn, err := DialRoom(addr, room)
	if err != nil {
		t.Fatalf("Failed to join room %q: %v", room, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendText writes one text frame.
func SendText(conn net.Conn, text string) error {
	msg, err := tlv.NewMessage(TextType, []byte(text))
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return tlv.WriteMessage(conn, msg)
}

// ReceiveMessage reads one frame, giving up after timeout.
func ReceiveMessage(conn net.Conn, timeout time.Duration) (tlv.Message, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return tlv.Message{}, err
	}
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	return tlv.ReadMessage(conn, 0)
}

// ReceiveText reads one frame and returns its payload as a string.
func ReceiveText(conn net.Conn, timeout time.Duration) (string, error) {
	msg, err := ReceiveMessage(conn, timeout)
	if err != nil {
		return "", err
	}
	if msg.Type() != TextType {
		return "", fmt.Errorf("unexpected frame type %d", msg.Type())
	}
	return string(msg.Payload()), nil
}

// ExpectTexts reads len(want) frames from conn and checks them in order.
func ExpectTexts(t *testing.T, conn net.Conn, want ...string) {
	t.Helper()
	for i, expected := range want {
		got, err := ReceiveText(conn, 5*time.Second)
		if err != nil {
			t.Fatalf("Failed to receive message %d (%q): %v", i, expected, err)
		}
		if got != expected {
			t.Fatalf("Message %d: expected %q, got %q", i, expected, got)
		}
	}
}

// ExpectClosed checks that the peer closes conn within timeout.
func ExpectClosed(t *testing.T, conn net.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	buf := make([]byte, 64)
	for {
		_, err := conn.Read(buf)
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			t.Fatalf("Connection still open after %s", timeout)
		}
		return
	}
}

// WaitFor polls cond every 5ms until it returns true or timeout passes.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", msg)
}
