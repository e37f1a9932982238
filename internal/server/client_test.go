package server

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/tlvchat/internal/tlv"
)

func textMessage(t *testing.T, text string) tlv.Message {
	t.Helper()
	msg, err := tlv.NewMessage(1, []byte(text))
	require.NoError(t, err)
	return msg
}

// readUntil polls c until a message arrives or the deadline passes.
func readUntil(t *testing.T, c *Client) tlv.Message {
	t.Helper()
	var got tlv.Message
	require.Eventually(t, func() bool {
		msg, ok := c.TryReadMessage()
		if ok {
			got = msg
		}
		return ok
	}, 2*time.Second, time.Millisecond)
	return got
}

func TestClientReadsFrameSplitAcrossWrites(t *testing.T) {
	serverSide, clientSide := tcpPair(t)
	c := NewClient(serverSide, testConfig(), nopLogger(), nil)

	encoded := textMessage(t, "split frame").Encode()

	_, err := clientSide.Write(encoded[:4])
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	_, ok := c.TryReadMessage()
	assert.False(t, ok, "partial header must not yield a message")
	assert.True(t, c.Alive())

	_, err = clientSide.Write(encoded[4:])
	require.NoError(t, err)

	msg := readUntil(t, c)
	assert.Equal(t, uint16(1), msg.Type())
	assert.Equal(t, "split frame", string(msg.Payload()))
}

func TestClientReturnsOneMessagePerCall(t *testing.T) {
	serverSide, clientSide := tcpPair(t)
	c := NewClient(serverSide, testConfig(), nopLogger(), nil)

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, tlv.WriteMessage(clientSide, textMessage(t, text)))
	}

	for _, want := range []string{"one", "two", "three"} {
		msg := readUntil(t, c)
		assert.Equal(t, want, string(msg.Payload()))
	}
}

func TestClientHalfCloseAtFrameBoundary(t *testing.T) {
	serverSide, clientSide := tcpPair(t)
	c := NewClient(serverSide, testConfig(), nopLogger(), nil)

	require.NoError(t, tlv.WriteMessage(clientSide, textMessage(t, "bye")))
	require.NoError(t, clientSide.Close())

	msg := readUntil(t, c)
	assert.Equal(t, "bye", string(msg.Payload()))

	require.Eventually(t, func() bool {
		c.TryReadMessage()
		return c.PeerClosed()
	}, 2*time.Second, time.Millisecond)
	assert.NoError(t, c.Err())
	assert.False(t, c.Alive())
}

func TestClientCloseMidFrameIsAnError(t *testing.T) {
	serverSide, clientSide := tcpPair(t)
	c := NewClient(serverSide, testConfig(), nopLogger(), nil)

	encoded := textMessage(t, "truncated").Encode()
	_, err := clientSide.Write(encoded[:8])
	require.NoError(t, err)
	require.NoError(t, clientSide.Close())

	require.Eventually(t, func() bool {
		c.TryReadMessage()
		return c.Err() != nil
	}, 2*time.Second, time.Millisecond)
	assert.False(t, c.PeerClosed())
	assert.True(t, errors.Is(c.Err(), io.ErrUnexpectedEOF), "got %v", c.Err())
}

func TestClientRejectsOversizedFrame(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPayloadSize = 8
	serverSide, clientSide := tcpPair(t)
	c := NewClient(serverSide, cfg, nopLogger(), nil)

	require.NoError(t, tlv.WriteMessage(clientSide, textMessage(t, "far too long for the limit")))

	require.Eventually(t, func() bool {
		c.TryReadMessage()
		return c.Err() != nil
	}, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, c.Err(), tlv.ErrFrameTooLarge)
}

func TestClientFlushesInOrder(t *testing.T) {
	serverSide, clientSide := tcpPair(t)
	c := NewClient(serverSide, testConfig(), nopLogger(), nil)

	c.EnqueueAndFlush([]tlv.Message{textMessage(t, "a"), textMessage(t, "b")})
	c.EnqueueAndFlush([]tlv.Message{textMessage(t, "c")})
	for c.Queued() > 0 && c.Alive() {
		c.EnqueueAndFlush(nil)
	}
	require.True(t, c.Alive())

	require.NoError(t, clientSide.SetReadDeadline(time.Now().Add(2*time.Second)))
	for _, want := range []string{"a", "b", "c"} {
		msg, err := tlv.ReadMessage(clientSide, 0)
		require.NoError(t, err)
		assert.Equal(t, want, string(msg.Payload()))
	}
}

func TestClientKeepsPartialWriteQueued(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		_ = serverSide.Close()
		_ = clientSide.Close()
	})
	c := NewClient(serverSide, testConfig(), nopLogger(), nil)

	// Nobody reads the pipe, so every write attempt times out.
	c.EnqueueAndFlush([]tlv.Message{textMessage(t, "queued")})
	assert.True(t, c.Alive())
	assert.Equal(t, 1, c.Queued())

	received := make(chan tlv.Message, 1)
	go func() {
		msg, err := tlv.ReadMessage(clientSide, 0)
		if err == nil {
			received <- msg
		}
	}()

	require.Eventually(t, func() bool {
		c.EnqueueAndFlush(nil)
		return c.Queued() == 0
	}, 2*time.Second, time.Millisecond)

	select {
	case msg := <-received:
		assert.Equal(t, "queued", string(msg.Payload()))
	case <-time.After(2 * time.Second):
		t.Fatal("frame never delivered")
	}
}

func TestClientSlowConsumer(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueuedFrames = 2
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		_ = serverSide.Close()
		_ = clientSide.Close()
	})
	c := NewClient(serverSide, cfg, nopLogger(), nil)

	c.EnqueueAndFlush([]tlv.Message{textMessage(t, "1"), textMessage(t, "2")})
	assert.True(t, c.Alive())

	c.EnqueueAndFlush([]tlv.Message{textMessage(t, "3")})
	assert.False(t, c.Alive())
	assert.ErrorIs(t, c.Err(), ErrSlowConsumer)
	assert.Equal(t, 0, c.Queued())
}

func TestClientRateLimitDiscardsFrames(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = RateLimitConfig{Burst: 1, RefillInterval: time.Hour}
	serverSide, clientSide := tcpPair(t)
	c := NewClient(serverSide, cfg, nopLogger(), nil)

	require.NoError(t, tlv.WriteMessage(clientSide, textMessage(t, "first")))
	require.NoError(t, tlv.WriteMessage(clientSide, textMessage(t, "second")))

	msg := readUntil(t, c)
	assert.Equal(t, "first", string(msg.Payload()))

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		_, ok := c.TryReadMessage()
		require.False(t, ok, "rate-limited frame must be discarded")
	}
	assert.True(t, c.Alive(), "rate limiting does not disconnect")
}

func TestClientIDsAreUnique(t *testing.T) {
	a, _ := tcpPair(t)
	b, _ := tcpPair(t)

	ca := NewClient(a, testConfig(), nopLogger(), nil)
	cb := NewClient(b, testConfig(), nopLogger(), nil)

	assert.NotEmpty(t, ca.ID())
	assert.NotEqual(t, ca.ID(), cb.ID())
	assert.NotEmpty(t, ca.Addr())
}
