// Package watcher dismisses a recurring modal in the background while the main
// flow keeps driving the same page.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/autosetname/internal/browser"
	"github.com/xkilldash9x/autosetname/internal/config"
	"github.com/xkilldash9x/autosetname/internal/wait"
)

// StopReason explains why a watcher finished.
type StopReason int

const (
	ReachedTarget StopReason = iota
	OverallTimeout
	SessionInvalid
	Cancelled
	Panicked
)

func (r StopReason) String() string {
	switch r {
	case ReachedTarget:
		return "reached_target"
	case OverallTimeout:
		return "overall_timeout"
	case SessionInvalid:
		return "session_invalid"
	case Cancelled:
		return "cancelled"
	case Panicked:
		return "panicked"
	default:
		return fmt.Sprintf("stop_reason(%d)", int(r))
	}
}

// errPending keeps the backoff loop going until the target click count is reached.
var errPending = errors.New("modal watcher: target not reached")

// Options bounds a watcher run.
type Options struct {
	PerAttempt   time.Duration
	Overall      time.Duration
	TargetClicks int
	Backoff      time.Duration
	// PollInterval is handed to the wait primitive for each attempt.
	PollInterval time.Duration
}

// OptionsFromConfig maps the watcher section of the configuration.
func OptionsFromConfig(cfg config.WatcherConfig, pollInterval time.Duration) Options {
	return Options{
		PerAttempt:   cfg.PerAttemptTimeout,
		Overall:      cfg.OverallTimeout,
		TargetClicks: cfg.TargetClicks,
		Backoff:      cfg.Backoff,
		PollInterval: pollInterval,
	}
}

// Result summarizes a finished watcher.
type Result struct {
	Clicks   int
	Attempts int
	Reason   StopReason
	Elapsed  time.Duration
	// LastErr is the last non-timeout error seen, for diagnostics only.
	LastErr error
}

// Task is a running watcher. Wait must be called to join it.
type Task struct {
	group  *errgroup.Group
	cancel context.CancelFunc
	result Result

	joinOnce sync.Once
}

// Start launches the watcher against drv. The watcher borrows drv and never
// closes it. It never returns an error or panics into the caller; everything
// it observed is reported through Wait.
func Start(ctx context.Context, drv browser.Driver, q browser.ElementQuery, opts Options, logger *zap.Logger) *Task {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	t := &Task{group: g, cancel: cancel}

	logger = logger.Named("watcher")
	g.Go(func() error {
		t.run(gctx, drv, q, opts, logger)
		return nil
	})
	return t
}

// Wait blocks until the watcher has stopped and returns its result. It is safe to
// call more than once.
func (t *Task) Wait() Result {
	t.joinOnce.Do(func() {
		_ = t.group.Wait()
		t.cancel()
	})
	return t.result
}

// Stop asks the watcher to finish early and joins it.
func (t *Task) Stop() Result {
	t.cancel()
	return t.Wait()
}

func (t *Task) run(ctx context.Context, drv browser.Driver, q browser.ElementQuery, opts Options, logger *zap.Logger) {
	start := time.Now()
	res := &t.result
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Modal watcher panicked; stopping.", zap.Any("panic", r))
			res.Reason = Panicked
			res.LastErr = fmt.Errorf("watcher panic: %v", r)
		}
		res.Elapsed = time.Since(start)
		logger.Info("Modal watcher stopped.",
			zap.Int("clicks", res.Clicks),
			zap.Int("attempts", res.Attempts),
			zap.Stringer("reason", res.Reason),
			zap.Duration("elapsed", res.Elapsed),
		)
	}()

	deadline := start.Add(opts.Overall)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	logger.Info("Modal watcher started.",
		zap.Stringer("query", q),
		zap.Int("target_clicks", opts.TargetClicks),
		zap.Duration("overall_timeout", opts.Overall),
	)

	if res.Clicks >= opts.TargetClicks {
		res.Reason = ReachedTarget
		return
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(opts.Backoff), runCtx)
	err := backoff.Retry(func() error {
		if !drv.Alive() {
			return backoff.Permanent(browser.ErrSessionInvalid)
		}
		if err := runCtx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		res.Attempts++
		perAttempt := min(opts.PerAttempt, time.Until(deadline))
		err := wait.Click(runCtx, drv, q, wait.Policy{Timeout: perAttempt, Interval: opts.PollInterval})
		switch {
		case err == nil:
			res.Clicks++
			logger.Debug("Dismissed modal.", zap.Int("clicks", res.Clicks))
			if res.Clicks >= opts.TargetClicks {
				return nil
			}
		case browser.IsSessionInvalid(err):
			res.LastErr = err
			return backoff.Permanent(err)
		case wait.IsTimeout(err) || runCtx.Err() != nil:
			// Nothing to dismiss this round.
		default:
			res.LastErr = err
			logger.Debug("Modal dismissal attempt failed.", zap.Error(err))
		}
		return errPending
	}, b)

	switch {
	case err == nil:
		res.Reason = ReachedTarget
	case browser.IsSessionInvalid(err):
		res.Reason = SessionInvalid
	default:
		// Only the context stops a constant backoff.
		res.Reason = stopReason(ctx)
	}
}

// stopReason tells apart an external cancellation from the watcher's own deadline.
func stopReason(parent context.Context) StopReason {
	if parent.Err() != nil {
		return Cancelled
	}
	return OverallTimeout
}
