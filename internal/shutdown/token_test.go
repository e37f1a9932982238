package shutdown_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/tlvchat/internal/shutdown"
)

func TestNewTokenIsActive(t *testing.T) {
	token := shutdown.New()

	assert.False(t, token.IsCanceled())
	select {
	case <-token.Done():
		t.Fatal("Done closed before Cancel")
	default:
	}
	assert.False(t, token.WaitTimeout(10*time.Millisecond))
}

func TestCancelBeforeWaitReturnsImmediately(t *testing.T) {
	token := shutdown.New()
	token.Cancel()

	returned := make(chan struct{})
	go func() {
		token.Wait()
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked after Cancel")
	}
	assert.True(t, token.IsCanceled())
}

func TestCancelWakesAllWaiters(t *testing.T) {
	token := shutdown.New()
	const waiters = 8

	var started, finished sync.WaitGroup
	started.Add(waiters)
	finished.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			started.Done()
			token.Wait()
			finished.Done()
		}()
	}
	started.Wait()
	token.Cancel()

	done := make(chan struct{})
	go func() {
		finished.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not every waiter woke up")
	}
}

func TestCancelIsIdempotentAndOneWay(t *testing.T) {
	token := shutdown.New()
	token.Cancel()
	token.Cancel()

	assert.True(t, token.IsCanceled())
	assert.True(t, token.WaitTimeout(time.Millisecond))
}

func TestIsCanceledConvergesAfterConcurrentCancel(t *testing.T) {
	token := shutdown.New()
	go token.Cancel()

	require.Eventually(t, token.IsCanceled, time.Second, time.Millisecond)
}

func TestFromContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	token := shutdown.FromContext(ctx)
	assert.False(t, token.IsCanceled())

	cancel()
	assert.True(t, token.WaitTimeout(time.Second))
}

func TestTokenContext(t *testing.T) {
	token := shutdown.New()
	ctx, cancel := token.Context(context.Background())
	defer cancel()

	token.Cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled with the token")
	}
}
