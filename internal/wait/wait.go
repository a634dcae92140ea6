// Package wait holds the single polling primitive used to locate and act on page
// elements. No other package sleeps or retries against the page on its own.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xkilldash9x/autosetname/internal/browser"
)

// DefaultInterval is used when a Policy leaves Interval unset.
const DefaultInterval = 100 * time.Millisecond

// ErrTimeout means the readiness predicate never held within the policy timeout.
var ErrTimeout = errors.New("timed out waiting for element")

// Policy bounds a wait.
type Policy struct {
	Timeout  time.Duration
	Interval time.Duration
}

func (p Policy) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultInterval
	}
	return p.Interval
}

// For polls drv until q is satisfied or the policy times out. It probes once
// immediately, so a zero timeout is a single check.
//
// It returns ErrTimeout (wrapping the last probe error) no earlier than
// p.Timeout, browser.ErrSessionInvalid as soon as the session dies, and ctx.Err()
// when ctx is cancelled. Transient probe errors are retried.
func For(ctx context.Context, drv browser.Driver, q browser.ElementQuery, p Policy) (browser.Element, error) {
	var el browser.Element
	err := poll(ctx, q, p, func(probeCtx context.Context) error {
		found, err := drv.Find(probeCtx, q)
		if err != nil {
			return err
		}
		el = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return el, nil
}

// Act waits for q and runs fn on the element. When fn fails because the handle went
// stale, the element is looked up again within the same overall timeout. fn runs
// on ctx, not the probe deadline, so an action is never cut off half way.
func Act(ctx context.Context, drv browser.Driver, q browser.ElementQuery, p Policy, fn func(context.Context, browser.Element) error) error {
	return poll(ctx, q, p, func(probeCtx context.Context) error {
		el, err := drv.Find(probeCtx, q)
		if err != nil {
			return err
		}
		if err := fn(ctx, el); err != nil {
			if browser.IsAbsent(err) || browser.IsSessionInvalid(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	})
}

// poll runs op at a constant interval until it succeeds, fails permanently, or the
// policy deadline passes. Every op call gets a context bounded by that deadline.
func poll(ctx context.Context, q browser.ElementQuery, p Policy, op func(probeCtx context.Context) error) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	// A zero timeout still gets its one probe.
	probeCtx := deadlineCtx
	if p.Timeout <= 0 {
		probeCtx = ctx
	}

	var (
		lastErr   error
		permanent bool
	)
	b := backoff.WithContext(backoff.NewConstantBackOff(p.interval()), deadlineCtx)
	err := backoff.Retry(func() error {
		err := op(probeCtx)
		switch {
		case err == nil:
			return nil
		case browser.IsSessionInvalid(err):
			permanent = true
			return backoff.Permanent(err)
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
			return err
		}
		lastErr = err
		return err
	}, b)

	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	}
	// Only the deadline stops a constant backoff, so this is a timeout.
	if lastErr == nil {
		lastErr = err
	}
	return fmt.Errorf("%w after %s: %s: %w", ErrTimeout, p.Timeout, q, lastErr)
}

// Click waits for q and clicks it.
func Click(ctx context.Context, drv browser.Driver, q browser.ElementQuery, p Policy) error {
	return Act(ctx, drv, q, p, func(ctx context.Context, el browser.Element) error {
		return el.Click(ctx)
	})
}

// Fill waits for q, clears it and types text.
func Fill(ctx context.Context, drv browser.Driver, q browser.ElementQuery, p Policy, text string) error {
	return Act(ctx, drv, q, p, func(ctx context.Context, el browser.Element) error {
		if err := el.Clear(ctx); err != nil {
			return err
		}
		return el.Type(ctx, text)
	})
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTimeout reports whether err is a wait timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
