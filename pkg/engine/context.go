package engine

import (
	"context"
	"sync"
)

// ResolverContext is the reactive context passed to an operation's
// resolver (and, with its own scope, to a field resolver's Subscribe
// function). It satisfies schema.ReactiveContext.
type ResolverContext struct {
	ctx context.Context

	mu       sync.Mutex
	cleanups []func()

	onEmit func(value any)
}

// Context returns the context bound to this resolver invocation —
// cancelled when the owning subscription unsubscribes.
func (c *ResolverContext) Context() context.Context { return c.ctx }

// Emit schedules value through the post-processing pipeline. Calling
// Emit after the owning subscription has been torn down is a no-op.
func (c *ResolverContext) Emit(value any) {
	if c.onEmit != nil {
		c.onEmit(value)
	}
}

// OnCleanup registers a LIFO disposer, run when the resolver's scope
// ends (unsubscribe, or resolver error).
func (c *ResolverContext) OnCleanup(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, fn)
}

// runCleanups drains and runs the registered disposers in LIFO order.
// Safe to call more than once; subsequent calls are no-ops.
func (c *ResolverContext) runCleanups() {
	c.mu.Lock()
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}
