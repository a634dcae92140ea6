// internal/browser/session/context_utils.go
package session

import (
	"context"
	"time"
)

// CombineContext returns a context derived from primary that is also cancelled
// when secondary is done. Values (notably the chromedp target) come from primary,
// while secondary contributes the caller's deadline or cancellation.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	// Derive from primary to inherit the CDP target and the session's own lifetime.
	combined, cancel := context.WithCancel(primary)

	// Link secondary's lifecycle to the combined context.
	// The goroutine exits when either side is done, so it never outlives the call.
	go func() {
		select {
		case <-secondary.Done():
			// Caller gave up or hit its deadline: stop the CDP call too.
			cancel()
		case <-combined.Done():
			// Session closed or the caller's cancel already ran.
		}
	}()
	return combined, cancel
}

// valueOnlyContext keeps the parent's values but drops its deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

// Deadline always reports no deadline.
func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }

// Done returns nil, so the parent can never cancel it.
func (valueOnlyContext) Done() <-chan struct{} { return nil }

// Err always returns nil.
func (valueOnlyContext) Err() error { return nil }

// Detach returns a context that inherits values from ctx but is never cancelled by it.
// The browser process is rooted on a detached context so that an interrupted run
// can still close it gracefully.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
