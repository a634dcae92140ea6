// Package login drives a fresh page load through the Microsoft account sign-in
// flow up to the authenticated profile page.
//
// Every step tolerates its target being absent. No step is skipped because an
// earlier one failed; the per-step outcomes in the Report tell the caller how far
// the flow really got.
package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autosetname/internal/browser"
	"github.com/xkilldash9x/autosetname/internal/config"
	"github.com/xkilldash9x/autosetname/internal/wait"
	"github.com/xkilldash9x/autosetname/internal/watcher"
)

// Credentials are the account identity and secret.
type Credentials struct {
	Email    string
	Password string
}

// Validate requires both fields.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Email) == "" {
		return errors.New("email is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// String never reveals the password.
func (c Credentials) String() string {
	return MaskEmail(c.Email)
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	first := []rune(local)[0]
	return string(first) + "***@" + domain
}

// Option configures a Machine.
type Option func(*Machine)

// WithSelectors overrides the default element locators.
func WithSelectors(s Selectors) Option {
	return func(m *Machine) { m.sel = s }
}

// Machine runs the login steps in order.
type Machine struct {
	flow        config.FlowConfig
	watcherOpts watcher.Options
	sel         Selectors
	logger      *zap.Logger
}

// NewMachine builds a Machine from the flow and watcher configuration.
func NewMachine(flow config.FlowConfig, watcherCfg config.WatcherConfig, logger *zap.Logger, opts ...Option) *Machine {
	m := &Machine{
		flow:        flow,
		watcherOpts: watcher.OptionsFromConfig(watcherCfg, flow.PollInterval),
		sel:         DefaultSelectors(),
		logger:      logger.Named("login"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) policy(timeout time.Duration) wait.Policy {
	return wait.Policy{Timeout: timeout, Interval: m.flow.PollInterval}
}

// Run drives drv through every step. It never returns an error: failures are
// recorded per step in the Report. Run stops early only when ctx is done.
func (m *Machine) Run(ctx context.Context, drv browser.Driver, creds Credentials) Report {
	var report Report
	m.logger.Info("Starting login flow.", zap.String("account", creds.String()))

	steps := []func(context.Context, browser.Driver) StepResult{
		m.dismissPromo,
		m.clickLoginEntry,
	}
	if m.flow.AnotherAccount.Enabled {
		steps = append(steps, m.useAnotherAccount)
	}
	steps = append(steps,
		func(ctx context.Context, drv browser.Driver) StepResult { return m.enterIdentity(ctx, drv, creds.Email) },
		m.awaitSecretField,
		func(ctx context.Context, drv browser.Driver) StepResult { return m.enterSecret(ctx, drv, creds.Password) },
		m.skipCheckpoints,
		func(ctx context.Context, drv browser.Driver) StepResult {
			res, watcherRes := m.declineStaySignedIn(ctx, drv)
			report.Watcher = watcherRes
			return res
		},
	)

	for _, step := range steps {
		if ctx.Err() != nil {
			report.Interrupted = true
			m.logger.Warn("Login flow interrupted.", zap.Error(ctx.Err()))
			break
		}
		res := step(ctx, drv)
		m.log(res)
		report.Steps = append(report.Steps, res)
	}

	m.logger.Info("Login flow finished.", zap.String("steps", report.Summary()))
	return report
}

func (m *Machine) log(res StepResult) {
	fields := []zap.Field{zap.String("step", string(res.Step)), zap.Stringer("outcome", res.Outcome)}
	if res.Detail != "" {
		fields = append(fields, zap.String("detail", res.Detail))
	}
	switch res.Outcome {
	case Failed:
		m.logger.Warn("Login step failed.", append(fields, zap.Error(res.Err))...)
	case NotApplicable:
		m.logger.Info("Login step not applicable.", fields...)
	default:
		m.logger.Info("Login step applied.", fields...)
	}
}

// result maps an error onto a step outcome. A timeout means "not there", which is
// fine for optional steps and a failure for mandatory ones.
func result(step Step, err error, detail string) StepResult {
	res := StepResult{Step: step, Detail: detail, Err: err}
	switch {
	case err == nil:
		res.Outcome = Applied
	case wait.IsTimeout(err) && !step.mandatory():
		res.Outcome = NotApplicable
		res.Err = nil
	default:
		res.Outcome = Failed
	}
	return res
}

// dismissPromo retries the promo modal close button a bounded number of times.
func (m *Machine) dismissPromo(ctx context.Context, drv browser.Driver) StepResult {
	cfg := m.flow.PromoModal
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := wait.Click(ctx, drv, m.sel.PromoClose, m.policy(cfg.Timeout))
		if err == nil {
			return result(StepPromoModal, nil, fmt.Sprintf("dismissed on attempt %d", attempt))
		}
		if browser.IsSessionInvalid(err) || ctx.Err() != nil {
			return result(StepPromoModal, err, "")
		}
		lastErr = err
		m.logger.Debug("Promo modal not found yet.", zap.Int("attempt", attempt), zap.Error(err))
	}
	if lastErr == nil {
		return StepResult{Step: StepPromoModal, Outcome: NotApplicable, Detail: "disabled"}
	}
	return result(StepPromoModal, lastErr, fmt.Sprintf("not shown after %d attempts", cfg.MaxAttempts))
}

func (m *Machine) clickLoginEntry(ctx context.Context, drv browser.Driver) StepResult {
	err := wait.Click(ctx, drv, m.sel.LoginLink, m.policy(m.flow.LoginButtonTimeout))
	return result(StepLoginEntry, err, "")
}

func (m *Machine) useAnotherAccount(ctx context.Context, drv browser.Driver) StepResult {
	err := wait.Click(ctx, drv, m.sel.AnotherAccount, m.policy(m.flow.AnotherAccount.Timeout))
	return result(StepAnotherAccount, err, "")
}

func (m *Machine) enterIdentity(ctx context.Context, drv browser.Driver, email string) StepResult {
	p := m.policy(m.flow.IdentityTimeout)
	if err := wait.Fill(ctx, drv, m.sel.Identity, p, email); err != nil {
		return result(StepIdentity, err, "identity input")
	}
	if err := wait.Click(ctx, drv, m.sel.Next, p); err != nil {
		return result(StepIdentity, err, "next button")
	}
	return result(StepIdentity, nil, "")
}

// awaitSecretField is the gate between identity and secret entry.
func (m *Machine) awaitSecretField(ctx context.Context, drv browser.Driver) StepResult {
	_, err := wait.For(ctx, drv, m.sel.Secret, m.policy(m.flow.SecretTimeout))
	return result(StepSecretGate, err, "")
}

func (m *Machine) enterSecret(ctx context.Context, drv browser.Driver, password string) StepResult {
	p := m.policy(m.flow.SecretTimeout)
	if err := wait.Fill(ctx, drv, m.sel.Secret, p, password); err != nil {
		return result(StepSecret, err, "password input")
	}
	if err := wait.Click(ctx, drv, m.sel.Submit, p); err != nil {
		return result(StepSecret, err, "sign-in button")
	}
	return result(StepSecret, nil, "")
}

// skipCheckpoints clicks "skip" for as long as the interstitial keeps coming back.
// With MaxSkips unset only the absence of the control ends the loop.
func (m *Machine) skipCheckpoints(ctx context.Context, drv browser.Driver) StepResult {
	cfg := m.flow.Checkpoint
	skips := 0
	for cfg.MaxSkips == 0 || skips < cfg.MaxSkips {
		err := wait.Click(ctx, drv, m.sel.Skip, m.policy(cfg.Timeout))
		if wait.IsTimeout(err) {
			break
		}
		if err != nil {
			return result(StepCheckpoint, err, fmt.Sprintf("after %d skip(s)", skips))
		}
		skips++
		m.logger.Info("Skipped security checkpoint.", zap.Int("skips", skips))
		if err := wait.Sleep(ctx, m.flow.SettleDelay); err != nil {
			return result(StepCheckpoint, err, fmt.Sprintf("after %d skip(s)", skips))
		}
	}
	if skips == 0 {
		return StepResult{Step: StepCheckpoint, Outcome: NotApplicable}
	}
	return result(StepCheckpoint, nil, fmt.Sprintf("skipped %d checkpoint(s)", skips))
}

// declineStaySignedIn answers "no" to the stay-signed-in prompt, then runs the
// modal watcher and joins it. The watcher only starts after the decline click.
func (m *Machine) declineStaySignedIn(ctx context.Context, drv browser.Driver) (StepResult, *watcher.Result) {
	cfg := m.flow.StaySignedIn
	p := m.policy(cfg.Timeout)

	heading, err := wait.For(ctx, drv, m.sel.StayHeading, p)
	if err != nil {
		return result(StepStaySignedIn, err, "prompt not shown"), nil
	}
	text, err := heading.Text(ctx)
	if err != nil {
		if browser.IsAbsent(err) {
			return StepResult{Step: StepStaySignedIn, Outcome: NotApplicable, Detail: "prompt went away"}, nil
		}
		return result(StepStaySignedIn, err, "reading prompt"), nil
	}
	if strings.TrimSpace(text) != cfg.PromptText {
		return StepResult{
			Step:    StepStaySignedIn,
			Outcome: NotApplicable,
			Detail:  fmt.Sprintf("heading %q is not the expected prompt", text),
		}, nil
	}

	if err := wait.Click(ctx, drv, m.sel.Decline, p); err != nil {
		// The prompt is on screen, so a missing decline button is a real failure.
		return StepResult{Step: StepStaySignedIn, Outcome: Failed, Detail: "decline button", Err: err}, nil
	}
	if err := wait.Sleep(ctx, m.flow.SettleDelay); err != nil {
		return result(StepStaySignedIn, err, "declined"), nil
	}

	task := watcher.Start(ctx, drv, m.sel.WatcherClose, m.watcherOpts, m.logger)
	wres := task.Wait()
	return result(StepStaySignedIn, nil, fmt.Sprintf("declined; watcher dismissed %d modal(s) (%s)", wres.Clicks, wres.Reason)), &wres
}
