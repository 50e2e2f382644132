package engine

import (
	"context"
	"sync"
)

// Coordinator serializes work onto a single goroutine. Loading manifests,
// assembling files and finishing archives only ever happen inside Run, so
// those paths need no locking between themselves.
type Coordinator struct {
	mu      sync.Mutex
	pending []func()

	signal chan struct{}
}

func NewCoordinator() *Coordinator {
	return &Coordinator{signal: make(chan struct{}, 1)}
}

// Post queues fn to run on the coordinating goroutine. It never blocks.
func (c *Coordinator) Post(fn func()) {
	c.mu.Lock()
	c.pending = append(c.pending, fn)
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
		// Signal already pending
	}
}

// Do runs fn on the coordinating goroutine and waits for it to return.
func (c *Coordinator) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	c.Post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains posted functions in order until ctx is done. Work still queued
// at that point is dropped.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.signal:
		}

		for {
			c.mu.Lock()
			batch := c.pending
			c.pending = nil
			c.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				if ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}
}
