package tlv_test

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/tlvchat/internal/tlv"
)

// chunkedSource hands out its chunks one Read at a time and reports
// ErrWouldBlock between chunks, like a socket whose data arrives in bursts.
type chunkedSource struct {
	chunks  [][]byte
	blocked bool
	tail    error
}

func (s *chunkedSource) Read(p []byte) (int, error) {
	if s.blocked {
		s.blocked = false
		return 0, tlv.ErrWouldBlock
	}
	for len(s.chunks) > 0 && len(s.chunks[0]) == 0 {
		s.chunks = s.chunks[1:]
	}
	if len(s.chunks) == 0 {
		if s.tail != nil {
			return 0, s.tail
		}
		return 0, tlv.ErrWouldBlock
	}
	n := copy(p, s.chunks[0])
	s.chunks[0] = s.chunks[0][n:]
	if len(s.chunks[0]) == 0 {
		s.chunks = s.chunks[1:]
		s.blocked = true
	}
	return n, nil
}

// zeroSource always reports zero bytes with no error.
type zeroSource struct{}

func (zeroSource) Read([]byte) (int, error) { return 0, nil }

// failingSource returns err on every Read.
type failingSource struct{ err error }

func (s failingSource) Read([]byte) (int, error) { return 0, s.err }

func mustMessage(t *testing.T, msgType uint16, payload []byte) tlv.Message {
	t.Helper()
	msg, err := tlv.NewMessage(msgType, payload)
	require.NoError(t, err)
	return msg
}

func randomPayload(rng *rand.Rand, n int) []byte {
	p := make([]byte, n)
	rng.Read(p)
	return p
}

// pollUntilDone drives r until it leaves ReadPending, bounding the number of
// polls so a bug cannot hang the test.
func pollUntilDone(t *testing.T, r *tlv.Reader, src io.Reader) tlv.ReadResult {
	t.Helper()
	for i := 0; i < 1<<20; i++ {
		res, err := r.Poll(src)
		require.NoError(t, err)
		if res.Status != tlv.ReadPending {
			return res
		}
	}
	t.Fatal("reader never completed")
	return tlv.ReadResult{}
}

func TestReaderRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tests := []struct {
		name    string
		msgType uint16
		length  int
	}{
		{name: "empty payload", msgType: 0, length: 0},
		{name: "single byte", msgType: 1, length: 1},
		{name: "max type", msgType: 65535, length: 17},
		{name: "one kilobyte", msgType: 0x0102, length: 1024},
		{name: "largest tested length", msgType: 42, length: 65536},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payload := randomPayload(rng, tc.length)
			msg := mustMessage(t, tc.msgType, payload)

			src := &chunkedSource{chunks: [][]byte{msg.Encode()}}
			res := pollUntilDone(t, tlv.NewReader(0), src)

			require.Equal(t, tlv.ReadComplete, res.Status)
			assert.Equal(t, tc.msgType, res.Message.Type())
			assert.Equal(t, uint32(tc.length), res.Message.Length())
			assert.True(t, bytes.Equal(payload, res.Message.Payload()))
		})
	}
}

func TestReaderResumesAtEveryBoundary(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	msg := mustMessage(t, 0xBEEF, randomPayload(rng, 37))
	encoded := msg.Encode()

	for split := 0; split <= len(encoded); split++ {
		first := append([]byte(nil), encoded[:split]...)
		second := append([]byte(nil), encoded[split:]...)
		src := &chunkedSource{chunks: [][]byte{first, second}}

		res := pollUntilDone(t, tlv.NewReader(0), src)

		require.Equal(t, tlv.ReadComplete, res.Status, "split at %d", split)
		assert.Equal(t, msg.Type(), res.Message.Type(), "split at %d", split)
		assert.Equal(t, msg.Payload(), res.Message.Payload(), "split at %d", split)
	}
}

func TestReaderByteAtATime(t *testing.T) {
	msg := mustMessage(t, 9, []byte("hello, room"))
	encoded := msg.Encode()

	chunks := make([][]byte, len(encoded))
	for i := range encoded {
		chunks[i] = []byte{encoded[i]}
	}
	src := &chunkedSource{chunks: chunks}
	r := tlv.NewReader(0)

	var polls int
	var res tlv.ReadResult
	for res.Status != tlv.ReadComplete {
		var err error
		res, err = r.Poll(src)
		require.NoError(t, err)
		polls++
		require.Less(t, polls, 10*len(encoded))
	}

	assert.Equal(t, msg.Payload(), res.Message.Payload())
	assert.False(t, r.InFrame())
}

func TestReaderDecodesBackToBackFrames(t *testing.T) {
	a := mustMessage(t, 1, []byte("first"))
	b := mustMessage(t, 2, nil)
	c := mustMessage(t, 3, []byte("third"))

	stream := append(append(a.Encode(), b.Encode()...), c.Encode()...)
	src := &chunkedSource{chunks: [][]byte{stream}}
	r := tlv.NewReader(0)

	for _, want := range []tlv.Message{a, b, c} {
		res := pollUntilDone(t, r, src)
		require.Equal(t, tlv.ReadComplete, res.Status)
		assert.Equal(t, want.Type(), res.Message.Type())
		assert.Equal(t, want.Payload(), res.Message.Payload())
	}
}

func TestReaderHalfClose(t *testing.T) {
	t.Run("zero bytes without error", func(t *testing.T) {
		res, err := tlv.NewReader(0).Poll(zeroSource{})
		require.NoError(t, err)
		assert.Equal(t, tlv.ReadClosed, res.Status)
		assert.Zero(t, res.Message.Length())
	})

	t.Run("EOF at frame boundary", func(t *testing.T) {
		res, err := tlv.NewReader(0).Poll(failingSource{err: io.EOF})
		require.NoError(t, err)
		assert.Equal(t, tlv.ReadClosed, res.Status)
	})

	t.Run("distinct from decoded empty frame", func(t *testing.T) {
		empty := mustMessage(t, 0, nil)
		src := &chunkedSource{chunks: [][]byte{empty.Encode()}}
		res := pollUntilDone(t, tlv.NewReader(0), src)
		assert.Equal(t, tlv.ReadComplete, res.Status)
	})

	t.Run("close mid frame is an error", func(t *testing.T) {
		msg := mustMessage(t, 5, []byte("truncated"))
		src := &chunkedSource{chunks: [][]byte{msg.Encode()[:4]}, tail: io.EOF}
		r := tlv.NewReader(0)

		var err error
		for i := 0; i < 10 && err == nil; i++ {
			_, err = r.Poll(src)
		}
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestReaderTerminalError(t *testing.T) {
	boom := errors.New("connection reset")
	r := tlv.NewReader(0)

	_, err := r.Poll(failingSource{err: boom})
	require.ErrorIs(t, err, boom)

	_, err = r.Poll(&chunkedSource{chunks: [][]byte{{0, 1}}})
	assert.ErrorIs(t, err, tlv.ErrReaderFailed)
	assert.ErrorIs(t, err, boom)
}

func TestReaderRejectsOversizedFrame(t *testing.T) {
	msg := mustMessage(t, 1, make([]byte, 100))
	src := &chunkedSource{chunks: [][]byte{msg.Encode()}}
	r := tlv.NewReader(64)

	var err error
	for i := 0; i < 10 && err == nil; i++ {
		_, err = r.Poll(src)
	}
	assert.ErrorIs(t, err, tlv.ErrFrameTooLarge)
	assert.ErrorIs(t, r.Err(), tlv.ErrFrameTooLarge)
}

func TestReadMessageBlocking(t *testing.T) {
	msg := mustMessage(t, 77, []byte("blocking path"))
	var buf bytes.Buffer
	require.NoError(t, tlv.WriteMessage(&buf, msg))

	got, err := tlv.ReadMessage(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, msg.Type(), got.Type())
	assert.Equal(t, msg.Payload(), got.Payload())

	_, err = tlv.ReadMessage(bytes.NewReader(msg.Encode()[:8]), 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
