// Package asyncutil provides the bridge's generic concurrency primitives
// that Go's standard library doesn't hand you directly: a single-slot
// resource cell with supersede/dispose semantics, a deferred-with-timeout
// helper, and abort-signal-style context composition.
package asyncutil

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Disposer is anything a ResourceCell knows how to tear down.
type Disposer interface {
	Dispose() error
}

// Factory creates a T, observing ctx for cancellation.
type Factory[T Disposer] func(ctx context.Context) (T, error)

// ResourceCell holds at most one live resource of type T. Create supersedes
// any in-flight creation and disposes any currently held resource before
// starting a new one; if a superseded creation's factory still resolves
// after a newer Create has taken over, the late result is disposed instead
// of becoming current.
type ResourceCell[T Disposer] struct {
	mu        sync.Mutex
	current   T
	hasCur    bool
	cancel    context.CancelFunc
	gen       uint64
	inFlight  bool
}

// NewResourceCell returns an empty cell.
func NewResourceCell[T Disposer]() *ResourceCell[T] {
	return &ResourceCell[T]{}
}

// Create aborts any prior in-flight creation and any currently held
// resource, then awaits factory under a context chained from ctx. On
// success the new instance becomes Current; if a newer Create has since
// run, the freshly created instance is disposed and a resource_superseded
// error is returned instead.
func (c *ResourceCell[T]) Create(ctx context.Context, factory Factory[T]) (T, error) {
	var zero T

	c.mu.Lock()
	// Dispose whatever is running or held before starting the new attempt.
	if c.cancel != nil {
		c.cancel()
	}
	c.disposeCurrentLocked()
	childCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.gen++
	myGen := c.gen
	c.inFlight = true
	c.mu.Unlock()

	instance, err := factory(childCtx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen == myGen {
		c.inFlight = false
	}

	if err != nil {
		if c.gen == myGen {
			c.cancel = nil
		}
		return zero, err
	}

	if c.gen != myGen {
		// Superseded while the factory was running: dispose the late
		// arrival, it never becomes current.
		if disposeErr := instance.Dispose(); disposeErr != nil {
			logrus.WithField("prefix", "asyncutil.ResourceCell").
				Debugf("dispose of superseded resource failed: %v", disposeErr)
		}
		return zero, errResourceSuperseded{}
	}

	c.current = instance
	c.hasCur = true
	return instance, nil
}

// Current returns the held instance, or the zero value and false if none.
func (c *ResourceCell[T]) Current() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.hasCur
}

// Creating reports whether a Create call is currently awaiting its factory.
func (c *ResourceCell[T]) Creating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Dispose cancels any in-flight creation and disposes the current
// resource, tolerating disposal errors. It is idempotent.
func (c *ResourceCell[T]) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.disposeCurrentLocked()
	c.gen++
	c.inFlight = false
}

func (c *ResourceCell[T]) disposeCurrentLocked() {
	if !c.hasCur {
		return
	}
	if err := c.current.Dispose(); err != nil {
		logrus.WithField("prefix", "asyncutil.ResourceCell").
			Debugf("dispose failed: %v", err)
	}
	var zero T
	c.current = zero
	c.hasCur = false
}

type errResourceSuperseded struct{}

func (errResourceSuperseded) Error() string {
	return "asyncutil: resource creation superseded by a newer create"
}

// IsSuperseded reports whether err is the "superseded by a newer creation" error.
func IsSuperseded(err error) bool {
	_, ok := err.(errResourceSuperseded)
	return ok
}
