// Package browsertest provides a scripted in-memory page that implements
// browser.Driver, for exercising the login flow without a real browser.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/autosetname/internal/browser"
)

// ElementOption customizes a scripted element.
type ElementOption func(*element)

// AppearAfter makes the element show up in the DOM d after it was added.
func AppearAfter(d time.Duration) ElementOption {
	return func(e *element) { e.appearAt = time.Now().Add(d) }
}

// ReadyAfter makes the element clickable only d after it was added.
func ReadyAfter(d time.Duration) ElementOption {
	return func(e *element) { e.readyAt = time.Now().Add(d) }
}

// WithText sets the element's text content.
func WithText(text string) ElementOption {
	return func(e *element) { e.text = text }
}

// VanishAfterClicks removes the element once it has been clicked n times.
func VanishAfterClicks(n int) ElementOption {
	return func(e *element) { e.vanishAfter = n }
}

// OnClick runs fn, outside the page lock, every time the element is clicked.
func OnClick(fn func(p *Page)) ElementOption {
	return func(e *element) { e.onClick = fn }
}

// FailActions makes every action on the element return err.
func FailActions(err error) ElementOption {
	return func(e *element) { e.actionErr = err }
}

// FailProbes makes every Find for the element return err.
func FailProbes(err error) ElementOption {
	return func(e *element) { e.probeErr = err }
}

type element struct {
	query       browser.ElementQuery
	appearAt    time.Time
	readyAt     time.Time
	text        string
	value       string
	clicks      int
	probes      int
	vanishAfter int
	removed     bool
	onClick     func(*Page)
	actionErr   error
	probeErr    error
}

// Page is a fake browser.Driver. All methods are safe for concurrent use.
type Page struct {
	mu          sync.Mutex
	elements    map[string]*element
	alive       bool
	closeCalls  int
	navigations []string
	log         []string
	navErr      error
}

var _ browser.Driver = (*Page)(nil)

// New returns an empty, live page.
func New() *Page {
	return &Page{elements: make(map[string]*element), alive: true}
}

func key(q browser.ElementQuery) string {
	return q.Kind.String() + ":" + q.Selector
}

// Add scripts an element matching q. Readiness is taken from the query used to
// look it up, not from q.
func (p *Page) Add(q browser.ElementQuery, opts ...ElementOption) {
	e := &element{query: q}
	for _, opt := range opts {
		opt(e)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[key(q)] = e
}

// Remove detaches the element matching q, if any.
func (p *Page) Remove(q browser.ElementQuery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.elements[key(q)]; ok {
		e.removed = true
	}
}

// Invalidate kills the session. Every later call fails with ErrSessionInvalid.
func (p *Page) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
	p.log = append(p.log, "invalidate")
}

// InvalidateAfter kills the session d from now.
func (p *Page) InvalidateAfter(d time.Duration) {
	time.AfterFunc(d, p.Invalidate)
}

// FailNavigation makes Navigate return err.
func (p *Page) FailNavigation(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navErr = err
}

// Clicks returns how many times the element matching q was clicked.
func (p *Page) Clicks(q browser.ElementQuery) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.elements[key(q)]; ok {
		return e.clicks
	}
	return 0
}

// Probes returns how many times Find was called for q.
func (p *Page) Probes(q browser.ElementQuery) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.elements[key(q)]; ok {
		return e.probes
	}
	return 0
}

// Value returns the text typed into the element matching q.
func (p *Page) Value(q browser.ElementQuery) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.elements[key(q)]; ok {
		return e.value
	}
	return ""
}

// CloseCalls returns how many times Close was called.
func (p *Page) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

// Navigations returns the URLs passed to Navigate.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Log returns the ordered list of UI actions, e.g. "click:id:idSIButton9".
// Typed text is never recorded.
func (p *Page) Log() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.log...)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive {
		return browser.ErrSessionInvalid
	}
	if p.navErr != nil {
		return p.navErr
	}
	p.navigations = append(p.navigations, url)
	p.log = append(p.log, "navigate:"+url)
	return nil
}

func (p *Page) Find(ctx context.Context, q browser.ElementQuery) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive {
		return nil, browser.ErrSessionInvalid
	}
	e, ok := p.elements[key(q)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, q)
	}
	e.probes++
	if e.probeErr != nil {
		return nil, e.probeErr
	}
	now := time.Now()
	if e.removed || now.Before(e.appearAt) {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, q)
	}
	if q.Readiness == browser.Clickable && now.Before(e.readyAt) {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotReady, q)
	}
	return &handle{page: p, el: e, key: key(q)}, nil
}

func (p *Page) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	if p.alive {
		p.log = append(p.log, "close")
	}
	p.alive = false
	return nil
}

// handle is the browser.Element returned by Find.
type handle struct {
	page *Page
	el   *element
	key  string
}

// check must be called with the page lock held.
func (h *handle) check() error {
	if !h.page.alive {
		return browser.ErrSessionInvalid
	}
	if h.el.removed {
		return fmt.Errorf("%w: stale element %s", browser.ErrNotFound, h.key)
	}
	return h.el.actionErr
}

func (h *handle) Click(ctx context.Context) error {
	h.page.mu.Lock()
	if err := h.check(); err != nil {
		h.page.mu.Unlock()
		return err
	}
	h.el.clicks++
	h.page.log = append(h.page.log, "click:"+h.key)
	if h.el.vanishAfter > 0 && h.el.clicks >= h.el.vanishAfter {
		h.el.removed = true
	}
	onClick := h.el.onClick
	h.page.mu.Unlock()

	if onClick != nil {
		onClick(h.page)
	}
	return nil
}

func (h *handle) Clear(ctx context.Context) error {
	h.page.mu.Lock()
	defer h.page.mu.Unlock()
	if err := h.check(); err != nil {
		return err
	}
	h.el.value = ""
	h.page.log = append(h.page.log, "clear:"+h.key)
	return nil
}

func (h *handle) Type(ctx context.Context, text string) error {
	h.page.mu.Lock()
	defer h.page.mu.Unlock()
	if err := h.check(); err != nil {
		return err
	}
	h.el.value += text
	h.page.log = append(h.page.log, "type:"+h.key)
	return nil
}

func (h *handle) Text(ctx context.Context) (string, error) {
	h.page.mu.Lock()
	defer h.page.mu.Unlock()
	if err := h.check(); err != nil {
		return "", err
	}
	return h.el.text, nil
}
