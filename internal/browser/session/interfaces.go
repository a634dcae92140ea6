// internal/browser/session/interfaces.go
package session

import (
	"context"

	"github.com/chromedp/chromedp"
)

// ActionExecutor runs chromedp actions against a live tab. Elements hold one
// instead of the Session so that every action goes through the session's
// pacing and error classification.
type ActionExecutor interface {
	// RunActions executes actions bounded by ctx. The implementation combines ctx
	// with the long-lived tab context that carries the CDP target.
	RunActions(ctx context.Context, actions ...chromedp.Action) error
}

var _ ActionExecutor = (*Session)(nil)
