// Package workerpool provides a fixed-capacity set of execution slots. A
// submission that finds every slot busy is rejected, never queued.
package workerpool

import (
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Pool runs at most Capacity tasks at once.
type Pool struct {
	group    errgroup.Group
	capacity int
	active   atomic.Int64
}

// New returns a pool with the given number of slots. Capacities below one
// are raised to one.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	p := &Pool{capacity: capacity}
	p.group.SetLimit(capacity)
	return p
}

// Submit starts task in a free slot and reports whether a slot was found.
func (p *Pool) Submit(task func()) bool {
	return p.group.TryGo(func() error {
		p.active.Add(1)
		defer p.active.Add(-1)
		task()
		return nil
	})
}

// ActiveCount returns the number of tasks currently running. It never
// exceeds Capacity; a task just accepted by Submit may not be counted yet.
func (p *Pool) ActiveCount() int {
	return int(p.active.Load())
}

// Capacity returns the number of slots.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Join blocks until every submitted task has returned.
func (p *Pool) Join() {
	_ = p.group.Wait()
}
