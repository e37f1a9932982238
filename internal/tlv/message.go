// Package tlv implements the length-prefixed binary frame used on the chat
// wire and the resumable readers and writers that move frames across
// non-blocking sockets.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Header field sizes in bytes.
const (
	TypeSize   = 2
	LengthSize = 4
	HeaderSize = TypeSize + LengthSize
)

// Frame errors.
var (
	ErrPayloadTooLarge = errors.New("tlv: payload exceeds 32-bit length")
	ErrFrameTooLarge   = errors.New("tlv: frame length exceeds limit")
)

// Message is one frame on the wire:
//
//	┌──────────────┬────────────────┬──────────────────────┐
//	│ type (u16 BE)│ length (u32 BE)│ payload (length B)   │
//	└──────────────┴────────────────┴──────────────────────┘
//
// A Message is immutable once built. Payload returns the backing slice and
// callers must not modify it; that lets a room hand the same Message to every
// member without copying.
type Message struct {
	msgType uint16
	payload []byte
}

// NewMessage builds a Message, taking ownership of payload.
func NewMessage(msgType uint16, payload []byte) (Message, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return Message{}, ErrPayloadTooLarge
	}
	if payload == nil {
		payload = []byte{}
	}
	return Message{msgType: msgType, payload: payload}, nil
}

// Type returns the frame type.
func (m Message) Type() uint16 {
	return m.msgType
}

// Length returns the payload length as carried on the wire.
func (m Message) Length() uint32 {
	return uint32(len(m.payload))
}

// Payload returns the frame payload. The slice must be treated as read-only.
func (m Message) Payload() []byte {
	return m.payload
}

// Encode returns the complete wire form of the message.
func (m Message) Encode() []byte {
	buf := make([]byte, HeaderSize+len(m.payload))
	binary.BigEndian.PutUint16(buf[0:TypeSize], m.msgType)
	binary.BigEndian.PutUint32(buf[TypeSize:HeaderSize], m.Length())
	copy(buf[HeaderSize:], m.payload)
	return buf
}

// String is used in log lines; it never prints the payload.
func (m Message) String() string {
	return fmt.Sprintf("tlv.Message{type=%d length=%d}", m.msgType, m.Length())
}

// WriteMessage writes m to w, blocking until the whole frame is written.
func WriteMessage(w io.Writer, m Message) error {
	_, err := w.Write(m.Encode())
	return err
}

// ReadMessage reads exactly one frame from r, blocking until it is complete.
// A maxPayload of zero disables the length check.
func ReadMessage(r io.Reader, maxPayload uint32) (Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}

	msgType := binary.BigEndian.Uint16(header[0:TypeSize])
	length := binary.BigEndian.Uint32(header[TypeSize:HeaderSize])
	if maxPayload > 0 && length > maxPayload {
		return Message{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxPayload)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, err
	}

	return Message{msgType: msgType, payload: payload}, nil
}
