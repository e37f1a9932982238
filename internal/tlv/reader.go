package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrReaderFailed is returned by every Poll after a Reader hit a hard error.
var ErrReaderFailed = errors.New("tlv: reader failed")

// ReadStatus is the outcome of a single Reader.Poll.
type ReadStatus uint8

const (
	// ReadPending means more bytes are needed; poll again later.
	ReadPending ReadStatus = iota
	// ReadComplete means a whole frame was decoded and is in ReadResult.Message.
	ReadComplete
	// ReadClosed means the peer closed its side at a frame boundary. No
	// Message is produced.
	ReadClosed
)

func (s ReadStatus) String() string {
	switch s {
	case ReadPending:
		return "pending"
	case ReadComplete:
		return "complete"
	case ReadClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ReadResult carries the outcome of a Poll together with the number of bytes
// consumed by it.
type ReadResult struct {
	Status  ReadStatus
	Message Message
	N       int
}

type frameField uint8

const (
	fieldType frameField = iota
	fieldLength
	fieldPayload
)

// Reader decodes one frame at a time from a non-blocking source. Each Poll
// issues at most one Read and never asks for more than the current field
// still needs, so nothing past the frame is ever consumed. Partial header
// bytes are kept in their own scratch arrays and the payload buffer is
// allocated only once the length is known.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	maxPayload uint32

	field   frameField
	cursor  int
	typeBuf [TypeSize]byte
	lenBuf  [LengthSize]byte
	msgType uint16
	payload []byte

	err error
}

// NewReader returns a Reader that rejects frames whose length exceeds
// maxPayload. Zero disables the check.
func NewReader(maxPayload uint32) *Reader {
	return &Reader{maxPayload: maxPayload}
}

// Err returns the terminal error, if any.
func (r *Reader) Err() error {
	return r.err
}

// InFrame reports whether some bytes of a frame have been consumed but the
// frame is not complete yet.
func (r *Reader) InFrame() bool {
	return r.field != fieldType || r.cursor > 0
}

// Poll advances decoding with at most one Read on src.
//
// Bytes returned alongside a would-block error are kept and decoding resumes
// from the same position on the next call. A zero-byte read without error, or
// io.EOF, at a frame boundary reports ReadClosed. The same condition in the
// middle of a frame, or any other error, is terminal.
func (r *Reader) Poll(src io.Reader) (ReadResult, error) {
	if r.err != nil {
		return ReadResult{}, fmt.Errorf("%w: %w", ErrReaderFailed, r.err)
	}

	n, err := src.Read(r.pending())
	if n < 0 {
		n = 0
	}
	r.cursor += n

	done, advErr := r.advance()
	if advErr != nil {
		return r.fail(n, advErr)
	}
	if done {
		msg := Message{msgType: r.msgType, payload: r.payload}
		r.reset()
		return ReadResult{Status: ReadComplete, Message: msg, N: n}, nil
	}

	switch {
	case err == nil && n > 0:
		return ReadResult{Status: ReadPending, N: n}, nil
	case IsWouldBlock(err):
		return ReadResult{Status: ReadPending, N: n}, nil
	case err == nil, errors.Is(err, io.EOF):
		if r.InFrame() {
			return r.fail(n, io.ErrUnexpectedEOF)
		}
		return ReadResult{Status: ReadClosed, N: n}, nil
	default:
		return r.fail(n, err)
	}
}

// pending returns the unfilled part of the field being decoded.
func (r *Reader) pending() []byte {
	switch r.field {
	case fieldType:
		return r.typeBuf[r.cursor:]
	case fieldLength:
		return r.lenBuf[r.cursor:]
	default:
		return r.payload[r.cursor:]
	}
}

// advance moves to the next field when the current one is full and reports
// whether the frame is complete.
func (r *Reader) advance() (bool, error) {
	if r.field == fieldType && r.cursor == TypeSize {
		r.msgType = binary.BigEndian.Uint16(r.typeBuf[:])
		r.field = fieldLength
		r.cursor = 0
	}

	if r.field == fieldLength && r.cursor == LengthSize {
		length := binary.BigEndian.Uint32(r.lenBuf[:])
		if r.maxPayload > 0 && length > r.maxPayload {
			return false, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, r.maxPayload)
		}
		r.payload = make([]byte, length)
		r.field = fieldPayload
		r.cursor = 0
	}

	return r.field == fieldPayload && r.cursor == len(r.payload), nil
}

func (r *Reader) fail(n int, err error) (ReadResult, error) {
	r.err = err
	r.payload = nil
	return ReadResult{N: n}, err
}

func (r *Reader) reset() {
	r.field = fieldType
	r.cursor = 0
	r.msgType = 0
	r.payload = nil
}
