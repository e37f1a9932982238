// Package shutdown provides the cooperative cancellation token shared by the
// room manager and every room loop.
package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Token is a one-way Active -> Canceled signal. Loops poll IsCanceled (or
// select on Done) at their suspension points; nothing is ever preempted.
//
// The zero value is not usable; create tokens with New.
type Token struct {
	canceled atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
	done chan struct{}
}

// New returns an active token.
func New() *Token {
	t := &Token{done: make(chan struct{})}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// FromContext returns a token that is canceled once ctx is done.
func FromContext(ctx context.Context) *Token {
	t := New()
	context.AfterFunc(ctx, t.Cancel)
	return t
}

// Cancel moves the token to Canceled and wakes every waiter. Calling it more
// than once is harmless.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.canceled.Load() {
		t.mu.Unlock()
		return
	}
	t.canceled.Store(true)
	close(t.done)
	t.mu.Unlock()

	t.cond.Broadcast()
}

// IsCanceled reports the state without taking the lock.
func (t *Token) IsCanceled() bool {
	return t.canceled.Load()
}

// Done returns a channel closed on cancellation, for use in select.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the token is canceled. It returns immediately if Cancel
// already happened.
func (t *Token) Wait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.canceled.Load() {
		t.cond.Wait()
	}
}

// WaitTimeout waits at most d and reports whether the token was canceled.
func (t *Token) WaitTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-t.done:
		return true
	case <-timer.C:
		return t.IsCanceled()
	}
}

// Context returns a context canceled together with the token.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
