package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrWriterFailed is returned by every Poll after a Writer hit a hard error.
var ErrWriterFailed = errors.New("tlv: writer failed")

// WriteStatus is the outcome of a single Writer.Poll.
type WriteStatus uint8

const (
	// WritePending means part of the frame is still unwritten.
	WritePending WriteStatus = iota
	// WriteComplete means the whole frame has been handed to the sink.
	WriteComplete
	// WriteStalled means the sink accepted zero bytes without reporting an
	// error. It is neither progress nor failure; the caller decides whether
	// to retry or give up.
	WriteStalled
)

func (s WriteStatus) String() string {
	switch s {
	case WritePending:
		return "pending"
	case WriteComplete:
		return "complete"
	case WriteStalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// WriteResult carries the outcome of a Poll together with the number of bytes
// written by it.
type WriteResult struct {
	Status WriteStatus
	N      int
}

// Writer flushes one Message to a non-blocking sink, segment by segment:
// type, length, payload. Each Poll issues at most one Write.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	msg     Message
	typeBuf [TypeSize]byte
	lenBuf  [LengthSize]byte

	field  frameField
	cursor int
	err    error
}

// NewWriter returns a Writer that owns its own cursor over m.
func NewWriter(m Message) *Writer {
	w := &Writer{msg: m}
	binary.BigEndian.PutUint16(w.typeBuf[:], m.Type())
	binary.BigEndian.PutUint32(w.lenBuf[:], m.Length())
	return w
}

// Done reports whether every byte of the frame has been written.
func (w *Writer) Done() bool {
	return w.field == fieldPayload && w.cursor == len(w.msg.payload)
}

// Err returns the terminal error, if any.
func (w *Writer) Err() error {
	return w.err
}

// Poll advances the flush with at most one Write on dst. Bytes accepted
// together with a would-block error count as progress.
func (w *Writer) Poll(dst io.Writer) (WriteResult, error) {
	if w.err != nil {
		return WriteResult{}, fmt.Errorf("%w: %w", ErrWriterFailed, w.err)
	}
	if w.Done() {
		return WriteResult{Status: WriteComplete}, nil
	}

	n, err := dst.Write(w.pending())
	if n < 0 {
		n = 0
	}
	w.cursor += n
	w.advance()

	switch {
	case err != nil && !IsWouldBlock(err):
		w.err = err
		return WriteResult{N: n}, err
	case w.Done():
		return WriteResult{Status: WriteComplete, N: n}, nil
	case err == nil && n == 0:
		return WriteResult{Status: WriteStalled}, nil
	default:
		return WriteResult{Status: WritePending, N: n}, nil
	}
}

func (w *Writer) pending() []byte {
	switch w.field {
	case fieldType:
		return w.typeBuf[w.cursor:]
	case fieldLength:
		return w.lenBuf[w.cursor:]
	default:
		return w.msg.payload[w.cursor:]
	}
}

func (w *Writer) advance() {
	if w.field == fieldType && w.cursor == TypeSize {
		w.field = fieldLength
		w.cursor = 0
	}
	if w.field == fieldLength && w.cursor == LengthSize {
		w.field = fieldPayload
		w.cursor = 0
	}
}
