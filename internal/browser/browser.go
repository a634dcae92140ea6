// internal/browser/browser.go
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/chromedp"
)

// Readiness is the predicate an element must satisfy before it is handed to a caller.
type Readiness int

const (
	// Present only requires the node to exist in the DOM.
	Present Readiness = iota
	// Clickable requires the node to be rendered and not disabled.
	Clickable
)

func (r Readiness) String() string {
	switch r {
	case Present:
		return "present"
	case Clickable:
		return "clickable"
	default:
		return fmt.Sprintf("readiness(%d)", int(r))
	}
}

// SelectorKind identifies how ElementQuery.Selector is interpreted.
type SelectorKind int

const (
	ByCSS SelectorKind = iota
	ByID
	ByXPath
)

func (k SelectorKind) String() string {
	switch k {
	case ByCSS:
		return "css"
	case ByID:
		return "id"
	case ByXPath:
		return "xpath"
	default:
		return fmt.Sprintf("selector(%d)", int(k))
	}
}

// ElementQuery is a declarative locator paired with a readiness predicate.
// Queries are values and are never mutated after construction.
type ElementQuery struct {
	// Name is a short human label used in log lines.
	Name      string
	Kind      SelectorKind
	Selector  string
	Readiness Readiness
}

func (q ElementQuery) String() string {
	return fmt.Sprintf("%s(%s %q, %s)", q.Name, q.Kind, q.Selector, q.Readiness)
}

// CSS builds a query for a CSS selector.
func CSS(name, selector string, r Readiness) ElementQuery {
	return ElementQuery{Name: name, Kind: ByCSS, Selector: selector, Readiness: r}
}

// ID builds a query for an element id.
func ID(name, id string, r Readiness) ElementQuery {
	return ElementQuery{Name: name, Kind: ByID, Selector: id, Readiness: r}
}

// XPath builds a query for an XPath expression.
func XPath(name, expr string, r Readiness) ElementQuery {
	return ElementQuery{Name: name, Kind: ByXPath, Selector: expr, Readiness: r}
}

// Element is a live handle to a node on the current page. Handles go stale when
// the page re-renders; callers act on them promptly and re-query on failure.
type Element interface {
	Click(ctx context.Context) error
	Clear(ctx context.Context) error
	Type(ctx context.Context, text string) error
	Text(ctx context.Context) (string, error)
}

// Driver is the browser capability the automation consumes. A Driver is owned by
// exactly one orchestrator run; the modal watcher borrows it but never closes it.
type Driver interface {
	// Navigate loads url in the session's page.
	Navigate(ctx context.Context, url string) error
	// Find performs a single, non-blocking probe for q. It returns ErrNotFound when
	// nothing matches, ErrNotReady when the readiness predicate fails, and
	// ErrSessionInvalid once the session is gone. Polling belongs to the wait package.
	Find(ctx context.Context, q ElementQuery) (Element, error)
	// Alive reports whether the session can still accept commands.
	Alive() bool
	// Close terminates the session. It is idempotent.
	Close(ctx context.Context) error
}

var (
	// ErrNotFound means no node matched the query.
	ErrNotFound = errors.New("element not found")
	// ErrNotReady means a node matched but failed the readiness predicate.
	ErrNotReady = errors.New("element not ready")
	// ErrSessionInvalid means the browser connection is gone.
	ErrSessionInvalid = errors.New("browser session is no longer valid")
	// ErrNoBrowser means no usable browser executable could be resolved.
	ErrNoBrowser = errors.New("no browser executable found")
)

// IsSessionInvalid reports whether err means the underlying browser session died.
func IsSessionInvalid(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSessionInvalid) ||
		errors.Is(err, chromedp.ErrInvalidContext) ||
		errors.Is(err, chromedp.ErrInvalidTarget) ||
		errors.Is(err, chromedp.ErrChannelClosed)
}

// IsAbsent reports whether err is the routine "element is not there (yet)" case.
func IsAbsent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotReady)
}
