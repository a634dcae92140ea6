// internal/browser/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/autosetname/internal/browser"
)

// Options tunes how a Session issues commands.
type Options struct {
	// ActionRate caps actions per second. The main flow and the modal watcher
	// share the same limiter because they share the same page.
	ActionRate float64
	// ActionTimeout bounds each individual command.
	ActionTimeout time.Duration
}

// Session is a chromedp-backed browser.Driver bound to one browser process.
type Session struct {
	id     string
	ctx    context.Context // chromedp tab context; carries the CDP target.
	cancel context.CancelFunc
	// allocCancel terminates the browser process itself.
	allocCancel context.CancelFunc
	logger      *zap.Logger

	limiter       *rate.Limiter
	actionTimeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ browser.Driver = (*Session)(nil)

// New wraps an already started chromedp tab context. The session takes ownership
// of both cancel functions and releases them in Close.
func New(tabCtx context.Context, tabCancel, allocCancel context.CancelFunc, logger *zap.Logger, opts Options) *Session {
	if opts.ActionRate <= 0 {
		opts.ActionRate = 20
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Second
	}
	id := uuid.New().String()
	return &Session{
		id:            id,
		ctx:           tabCtx,
		cancel:        tabCancel,
		allocCancel:   allocCancel,
		logger:        logger.With(zap.String("session_id", id)),
		limiter:       rate.NewLimiter(rate.Limit(opts.ActionRate), 1),
		actionTimeout: opts.ActionTimeout,
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Alive reports whether the session still accepts commands.
func (s *Session) Alive() bool {
	return !s.closed.Load() && s.ctx.Err() == nil
}

// RunActions executes chromedp actions against the session's tab, bounded by ctx.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	if !s.Alive() {
		return browser.ErrSessionInvalid
	}
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	if err := s.limiter.Wait(opCtx); err != nil {
		return s.classify(ctx, err)
	}
	if err := chromedp.Run(opCtx, actions...); err != nil {
		return s.classify(ctx, err)
	}
	return nil
}

// classify maps driver failures onto the browser error taxonomy. Errors caused by
// the caller's own deadline are returned as-is.
func (s *Session) classify(callerCtx context.Context, err error) error {
	if s.ctx.Err() != nil || s.closed.Load() {
		return fmt.Errorf("%w: %v", browser.ErrSessionInvalid, err)
	}
	if callerCtx.Err() != nil {
		return callerCtx.Err()
	}
	if browser.IsSessionInvalid(err) {
		return fmt.Errorf("%w: %v", browser.ErrSessionInvalid, err)
	}
	// The node was found but re-rendered or removed before the action landed.
	if isStaleNode(err) {
		return fmt.Errorf("%w: %v", browser.ErrNotReady, err)
	}
	return err
}

// staleNodeMessages are the CDP error texts for a node handle that no longer
// points at a live, laid out element.
var staleNodeMessages = []string{
	"No node with given id found",
	"Could not compute box model",
	"Node is detached",
	"Node does not have a layout object",
}

func isStaleNode(err error) bool {
	var cdpErr *cdproto.Error
	if !errors.As(err, &cdpErr) {
		return false
	}
	for _, msg := range staleNodeMessages {
		if strings.Contains(cdpErr.Message, msg) {
			return true
		}
	}
	return false
}

// Navigate loads a URL in the session's tab.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating", zap.String("url", url))
	if err := s.RunActions(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Find probes the current page once for q.
func (s *Session) Find(ctx context.Context, q browser.ElementQuery) (browser.Element, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.actionTimeout)
	defer cancel()

	var nodes []*cdp.Node
	if err := s.RunActions(probeCtx, chromedp.Nodes(q.Selector, &nodes, queryOptions(q.Kind, chromedp.AtLeast(0))...)); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, q)
	}
	node := nodes[0]

	if q.Readiness == browser.Clickable {
		if err := s.checkClickable(probeCtx, node); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", browser.ErrNotReady, q, err)
		}
	}
	return &nodeElement{exec: s, node: node, timeout: s.actionTimeout}, nil
}

// checkClickable requires the node to be laid out with a non-empty box and not disabled.
func (s *Session) checkClickable(ctx context.Context, node *cdp.Node) error {
	if _, disabled := node.Attribute("disabled"); disabled {
		return errors.New("element is disabled")
	}
	if node.AttributeValue("aria-disabled") == "true" {
		return errors.New("element is aria-disabled")
	}
	var box *dom.BoxModel
	err := s.RunActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		box, err = dom.GetBoxModel().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	if err != nil {
		if browser.IsSessionInvalid(err) {
			return err
		}
		return fmt.Errorf("element is not rendered: %w", err)
	}
	if box == nil || box.Width <= 0 || box.Height <= 0 {
		return errors.New("element has an empty box")
	}
	return nil
}

// Close terminates the tab and the browser process. Only the first call does work.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Info("Closing browser session.")
		s.closed.Store(true)

		// chromedp.Cancel closes the target gracefully and waits for it.
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.ctx) }()
		select {
		case err := <-done:
			// A target that is already gone has nothing left to close.
			if err != nil && !errors.Is(err, context.Canceled) && !browser.IsSessionInvalid(err) {
				s.closeErr = fmt.Errorf("failed to close browser tab: %w", err)
			}
		case <-ctx.Done():
			s.logger.Warn("Timed out closing browser tab gracefully; killing the process.", zap.Error(ctx.Err()))
		}

		s.cancel()
		if s.allocCancel != nil {
			s.allocCancel()
		}
		s.logger.Info("Browser session closed.")
	})
	return s.closeErr
}

// queryOptions translates a selector kind into chromedp query options.
func queryOptions(kind browser.SelectorKind, extra ...chromedp.QueryOption) []chromedp.QueryOption {
	var by chromedp.QueryOption
	switch kind {
	case browser.ByID:
		by = chromedp.ByID
	case browser.ByXPath:
		by = chromedp.BySearch
	default:
		by = chromedp.ByQuery
	}
	return append([]chromedp.QueryOption{by}, extra...)
}

// nodeElement is a browser.Element backed by a resolved DOM node.
type nodeElement struct {
	exec    ActionExecutor
	node    *cdp.Node
	timeout time.Duration
}

func (e *nodeElement) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

func (e *nodeElement) run(ctx context.Context, actions ...chromedp.Action) error {
	actionCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.exec.RunActions(actionCtx, actions...)
}

func (e *nodeElement) Click(ctx context.Context) error {
	return e.run(ctx, chromedp.MouseClickNode(e.node))
}

func (e *nodeElement) Clear(ctx context.Context) error {
	return e.run(ctx, chromedp.Clear(e.ids(), chromedp.ByNodeID))
}

func (e *nodeElement) Type(ctx context.Context, text string) error {
	return e.run(ctx, chromedp.SendKeys(e.ids(), text, chromedp.ByNodeID))
}

func (e *nodeElement) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.run(ctx, chromedp.Text(e.ids(), &text, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	return text, nil
}
