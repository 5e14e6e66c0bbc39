package asyncutil

import "context"

// Chain returns a context that is cancelled when outer is cancelled, with
// its own cancel function for the caller's own independent cancellation.
// Go's context package gives this natively (context.WithCancel's child
// always observes its parent), so no explicit fan-in of multiple abort
// signals is needed.
func Chain(outer context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(outer)
}
