// File: internal/orchestrator/orchestrator.go
// Description: Sequences one run: launch the browser, sign in, set the profile
// name, and always shut the browser down again.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autosetname/internal/browser"
	"github.com/xkilldash9x/autosetname/internal/browser/launcher"
	"github.com/xkilldash9x/autosetname/internal/config"
	"github.com/xkilldash9x/autosetname/internal/login"
	"github.com/xkilldash9x/autosetname/internal/profile"
	"github.com/xkilldash9x/autosetname/internal/wait"
)

// closeTimeout bounds the graceful browser shutdown.
const closeTimeout = 10 * time.Second

var (
	// ErrConfig marks errors the operator fixes in configuration or flags.
	ErrConfig = errors.New("configuration error")
	// ErrPanic marks a run that was aborted by a recovered panic.
	ErrPanic = errors.New("unexpected panic")
)

// Status is the overall verdict of a run.
type Status int

const (
	// Succeeded means every mandatory login step applied and the name was submitted.
	Succeeded Status = iota
	// Partial means the run reached the end but something along the way failed.
	Partial
	// Failed means the run was aborted.
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Partial:
		return "partial"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ExitCode maps the verdict onto a process exit code.
func (s Status) ExitCode() int {
	if s == Failed {
		return 1
	}
	return 0
}

// Result is everything a run produced.
type Result struct {
	RunID   string
	Status  Status
	Login   login.Report
	Profile profile.Result
	Err     error
	Elapsed time.Duration
}

// LaunchFunc starts a browser session.
type LaunchFunc func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Driver, error)

// DefaultLaunch starts a real browser through chromedp.
func DefaultLaunch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Driver, error) {
	s, err := launcher.Launch(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Orchestrator owns the browser session for the length of a run.
type Orchestrator struct {
	cfg    config.Interface
	logger *zap.Logger
	launch LaunchFunc
}

// New creates an Orchestrator. A nil launch selects DefaultLaunch.
func New(cfg config.Interface, logger *zap.Logger, launch LaunchFunc) (*Orchestrator, error) {
	if cfg == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if launch == nil {
		launch = DefaultLaunch
	}
	return &Orchestrator{cfg: cfg, logger: logger.Named("orchestrator"), launch: launch}, nil
}

// Run performs one complete run. It never panics and never leaves the browser
// running: the session is closed on every path once it has been launched.
func (o *Orchestrator) Run(ctx context.Context, creds login.Credentials) (res Result) {
	start := time.Now()
	res.RunID = uuid.NewString()
	logger := o.logger.With(zap.String("run_id", res.RunID))

	defer func() {
		res.Elapsed = time.Since(start)
		fields := []zap.Field{
			zap.Stringer("status", res.Status),
			zap.Duration("elapsed", res.Elapsed),
			zap.String("login", res.Login.Summary()),
			zap.String("profile_name", res.Profile.Name),
			zap.Bool("profile_submitted", res.Profile.Submitted),
		}
		if res.Err != nil {
			logger.Error("Run finished.", append(fields, zap.Error(res.Err))...)
			return
		}
		logger.Info("Run finished.", fields...)
	}()

	// Configuration problems surface before anything is launched.
	if err := creds.Validate(); err != nil {
		return fail(res, fmt.Errorf("%w: %w", ErrConfig, err))
	}
	flow := o.cfg.Flow()
	setter := profile.NewSetter(o.cfg.Profile(), flow.PollInterval, profile.Selectors{}, logger)
	name, err := setter.Generate()
	if err != nil {
		return fail(res, fmt.Errorf("%w: %w", ErrConfig, err))
	}

	drv, err := o.launch(ctx, o.cfg.Browser(), logger)
	if err != nil {
		if errors.Is(err, browser.ErrNoBrowser) {
			err = fmt.Errorf("%w: %w", ErrConfig, err)
		}
		return fail(res, fmt.Errorf("failed to start browser session: %w", err))
	}
	defer o.terminate(drv, logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic during run.", zap.Any("panic", r), zap.Stack("stack"))
			res = fail(res, fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()

	if err := drv.Navigate(ctx, flow.EntryURL); err != nil {
		return fail(res, err)
	}

	res.Login = login.NewMachine(flow, o.cfg.Watcher(), logger).Run(ctx, drv, creds)
	if res.Login.Interrupted || ctx.Err() != nil {
		return fail(res, fmt.Errorf("run interrupted: %w", ctx.Err()))
	}

	res.Profile = setter.Submit(ctx, drv, name)

	if flow.ObserveDelay > 0 {
		logger.Info("Keeping the window open before shutting down.", zap.Duration("delay", flow.ObserveDelay))
		_ = wait.Sleep(ctx, flow.ObserveDelay)
	}

	res.Status = verdict(res)
	return res
}

// terminate closes the session. The driver's Close is idempotent; this is the
// only place the orchestrator calls it.
func (o *Orchestrator) terminate(drv browser.Driver, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := drv.Close(ctx); err != nil {
		logger.Warn("Error while closing the browser session.", zap.Error(err))
	}
}

func fail(res Result, err error) Result {
	res.Status = Failed
	res.Err = err
	return res
}

func verdict(res Result) Status {
	if len(res.Login.Failures()) == 0 && res.Profile.Submitted {
		return Succeeded
	}
	return Partial
}
