package session

import (
	"context"
	"sync"
)

// Completion is a one-shot handle for a Start or Stop request. It becomes
// ready exactly once, when the matching reply arrives or the request fails.
// A start superseded by Stop is abandoned and never becomes ready.
type Completion struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// resolve reports whether this call made the completion ready.
func (c *Completion) resolve(err error) bool {
	resolved := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		resolved = true
	})
	return resolved
}

// Done is closed when the completion becomes ready.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Ready reports whether the completion has become ready.
func (c *Completion) Ready() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Err returns the outcome once ready, and nil before that.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the completion is ready or ctx is done.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
