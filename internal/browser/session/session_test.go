// internal/browser/session/session_test.go
package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autosetname/internal/browser"
)

// newDetachedSession builds a Session around plain contexts. No browser is
// attached, which is enough to exercise lifecycle and error classification.
func newDetachedSession(t *testing.T) (*Session, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	tabCtx, tabCancel := context.WithCancel(context.Background())
	var tabCancels, allocCancels atomic.Int32
	s := New(tabCtx,
		func() { tabCancels.Add(1); tabCancel() },
		func() { allocCancels.Add(1) },
		zaptest.NewLogger(t),
		Options{ActionRate: 1000, ActionTimeout: time.Second},
	)
	return s, &tabCancels, &allocCancels
}

func TestNew_AppliesDefaults(t *testing.T) {
	s := New(context.Background(), func() {}, nil, zaptest.NewLogger(t), Options{})
	assert.Equal(t, 10*time.Second, s.actionTimeout)
	assert.InDelta(t, 20.0, float64(s.limiter.Limit()), 0.001)
	assert.NotEmpty(t, s.ID())
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s, tabCancels, allocCancels := newDetachedSession(t)
	require.True(t, s.Alive())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, s.Close(ctx))
	assert.NoError(t, s.Close(ctx))
	assert.NoError(t, s.Close(ctx))

	assert.False(t, s.Alive())
	assert.EqualValues(t, 1, tabCancels.Load())
	assert.EqualValues(t, 1, allocCancels.Load())
}

func TestSession_ActionsAfterCloseAreSessionInvalid(t *testing.T) {
	s, _, _ := newDetachedSession(t)
	require.NoError(t, s.Close(context.Background()))

	err := s.RunActions(context.Background(), chromedp.Navigate("about:blank"))
	assert.ErrorIs(t, err, browser.ErrSessionInvalid)

	_, err = s.Find(context.Background(), browser.ID("submit", "idSIButton9", browser.Clickable))
	assert.True(t, browser.IsSessionInvalid(err))

	err = s.Navigate(context.Background(), "about:blank")
	assert.ErrorIs(t, err, browser.ErrSessionInvalid)
}

func TestSession_DeadTabContextIsNotAlive(t *testing.T) {
	tabCtx, tabCancel := context.WithCancel(context.Background())
	s := New(tabCtx, tabCancel, nil, zaptest.NewLogger(t), Options{})
	tabCancel()
	assert.False(t, s.Alive())
}

func TestSession_Classify(t *testing.T) {
	s, _, _ := newDetachedSession(t)

	t.Run("CallerDeadlineWins", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()
		<-ctx.Done()
		err := s.classify(ctx, context.Canceled)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, browser.IsSessionInvalid(err))
	})

	t.Run("ChromedpTargetErrors", func(t *testing.T) {
		err := s.classify(context.Background(), chromedp.ErrInvalidTarget)
		assert.ErrorIs(t, err, browser.ErrSessionInvalid)
	})

	t.Run("StaleNodeIsNotReady", func(t *testing.T) {
		stale := []error{
			&cdproto.Error{Code: -32000, Message: "No node with given id found"},
			&cdproto.Error{Code: -32000, Message: "Could not compute box model."},
			fmt.Errorf("click: %w", &cdproto.Error{Code: -32000, Message: "Node is detached from document"}),
		}
		for _, cause := range stale {
			err := s.classify(context.Background(), cause)
			assert.ErrorIs(t, err, browser.ErrNotReady, cause.Error())
			assert.True(t, browser.IsAbsent(err))
			assert.False(t, browser.IsSessionInvalid(err))
		}
	})

	t.Run("OtherCDPErrorsPassThrough", func(t *testing.T) {
		other := &cdproto.Error{Code: -32602, Message: "Invalid parameters"}
		err := s.classify(context.Background(), other)
		assert.False(t, browser.IsAbsent(err))
		assert.Same(t, error(other), err)
	})

	t.Run("OtherErrorsPassThrough", func(t *testing.T) {
		other := assert.AnError
		assert.Same(t, other, s.classify(context.Background(), other))
	})

	t.Run("ClosedSessionAlwaysInvalid", func(t *testing.T) {
		require.NoError(t, s.Close(context.Background()))
		err := s.classify(context.Background(), assert.AnError)
		assert.ErrorIs(t, err, browser.ErrSessionInvalid)
	})
}

func TestQueryOptions(t *testing.T) {
	for _, kind := range []browser.SelectorKind{browser.ByCSS, browser.ByID, browser.ByXPath} {
		opts := queryOptions(kind, chromedp.AtLeast(0))
		assert.Len(t, opts, 2, kind.String())
	}
}
