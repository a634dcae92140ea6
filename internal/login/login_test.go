package login

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autosetname/internal/browser"
	"github.com/xkilldash9x/autosetname/internal/browser/browsertest"
	"github.com/xkilldash9x/autosetname/internal/config"
	"github.com/xkilldash9x/autosetname/internal/watcher"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var creds = Credentials{Email: "steve@example.com", Password: "hunter2!"}

func testFlow() config.FlowConfig {
	cfg := config.NewDefaultConfig().Flow()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.PromoModal = config.PromoModalConfig{MaxAttempts: 2, Timeout: 20 * time.Millisecond}
	cfg.LoginButtonTimeout = 20 * time.Millisecond
	cfg.AnotherAccount.Timeout = 20 * time.Millisecond
	cfg.IdentityTimeout = 100 * time.Millisecond
	cfg.SecretTimeout = 100 * time.Millisecond
	cfg.Checkpoint = config.CheckpointConfig{Timeout: 20 * time.Millisecond}
	cfg.StaySignedIn.Timeout = 30 * time.Millisecond
	cfg.SettleDelay = time.Millisecond
	return cfg
}

func testWatcher() config.WatcherConfig {
	return config.WatcherConfig{
		PerAttemptTimeout: 20 * time.Millisecond,
		OverallTimeout:    150 * time.Millisecond,
		TargetClicks:      3,
		Backoff:           2 * time.Millisecond,
	}
}

func newMachine(t *testing.T, flow config.FlowConfig) *Machine {
	t.Helper()
	return NewMachine(flow, testWatcher(), zaptest.NewLogger(t))
}

// minimalPage has only the identity and secret inputs and their buttons.
func minimalPage() *browsertest.Page {
	sel := DefaultSelectors()
	page := browsertest.New()
	page.Add(sel.Identity)
	page.Add(sel.Next)
	page.Add(sel.Secret)
	return page
}

func outcomes(r Report) map[Step]Outcome {
	out := make(map[Step]Outcome, len(r.Steps))
	for _, s := range r.Steps {
		out[s.Step] = s.Outcome
	}
	return out
}

func steps(r Report) []Step {
	out := make([]Step, 0, len(r.Steps))
	for _, s := range r.Steps {
		out = append(out, s.Step)
	}
	return out
}

func TestRun_MinimalPage(t *testing.T) {
	sel := DefaultSelectors()
	page := minimalPage()

	report := newMachine(t, testFlow()).Run(context.Background(), page, creds)

	want := map[Step]Outcome{
		StepPromoModal:   NotApplicable,
		StepLoginEntry:   NotApplicable,
		StepIdentity:     Applied,
		StepSecretGate:   Applied,
		StepSecret:       Applied,
		StepCheckpoint:   NotApplicable,
		StepStaySignedIn: NotApplicable,
	}
	if diff := cmp.Diff(want, outcomes(report)); diff != "" {
		t.Errorf("step outcomes mismatch (-want +got):\n%s", diff)
	}
	wantOrder := []Step{StepPromoModal, StepLoginEntry, StepIdentity, StepSecretGate, StepSecret, StepCheckpoint, StepStaySignedIn}
	if diff := cmp.Diff(wantOrder, steps(report)); diff != "" {
		t.Errorf("step order mismatch (-want +got):\n%s", diff)
	}

	assert.Nil(t, report.Watcher, "no prompt, no watcher")
	assert.False(t, report.Interrupted)
	assert.Empty(t, report.Failures())
	assert.Equal(t, creds.Email, page.Value(sel.Identity))
	assert.Equal(t, creds.Password, page.Value(sel.Secret))
	assert.Equal(t, 2, page.Clicks(sel.Next), "next and sign-in share one button")
	assert.True(t, page.Alive())
}

func TestRun_FullPageWithPromptAndWatcher(t *testing.T) {
	sel := DefaultSelectors()
	page := minimalPage()
	// The promo shows up late, so the second attempt catches it.
	page.Add(sel.PromoClose, browsertest.AppearAfter(25*time.Millisecond))
	page.Add(sel.LoginLink)
	page.Add(sel.Skip, browsertest.VanishAfterClicks(2))
	page.Add(sel.StayHeading, browsertest.WithText("保持登录状态?"))
	page.Add(sel.Decline, browsertest.OnClick(func(p *browsertest.Page) {
		p.Add(sel.WatcherClose)
	}))

	report := newMachine(t, testFlow()).Run(context.Background(), page, creds)

	for _, s := range report.Steps {
		assert.Equal(t, Applied, s.Outcome, "step %s: %s %v", s.Step, s.Detail, s.Err)
	}
	require.NotNil(t, report.Watcher)
	assert.Equal(t, watcher.ReachedTarget, report.Watcher.Reason)
	assert.Equal(t, 3, page.Clicks(sel.WatcherClose))
	assert.Equal(t, 2, page.Clicks(sel.Skip))
	assert.True(t, page.Alive(), "the session outlives the watcher")

	// The watcher starts only after the decline click.
	log := page.Log()
	declineAt, firstWatcherClick := -1, -1
	for i, entry := range log {
		if entry == "click:id:declineButton" && declineAt < 0 {
			declineAt = i
		}
		if strings.Contains(entry, "关闭 Aria") && firstWatcherClick < 0 {
			firstWatcherClick = i
		}
	}
	require.GreaterOrEqual(t, declineAt, 0)
	assert.Greater(t, firstWatcherClick, declineAt)
}

func TestRun_PromptTextMismatch(t *testing.T) {
	sel := DefaultSelectors()
	page := minimalPage()
	page.Add(sel.StayHeading, browsertest.WithText("Stay signed in?"))
	page.Add(sel.Decline)

	report := newMachine(t, testFlow()).Run(context.Background(), page, creds)

	got, ok := report.Outcome(StepStaySignedIn)
	require.True(t, ok)
	assert.Equal(t, NotApplicable, got)
	assert.Nil(t, report.Watcher)
	assert.Zero(t, page.Clicks(sel.Decline))
}

func TestRun_MissingIdentityStillRunsLaterSteps(t *testing.T) {
	sel := DefaultSelectors()
	page := browsertest.New()
	page.Add(sel.Secret)
	page.Add(sel.Submit)

	report := newMachine(t, testFlow()).Run(context.Background(), page, creds)

	got := outcomes(report)
	assert.Equal(t, Failed, got[StepIdentity])
	assert.Equal(t, Applied, got[StepSecretGate])
	assert.Equal(t, Applied, got[StepSecret])
	require.Len(t, report.Failures(), 1)
	assert.ErrorContains(t, report.Failures()[0].Err, "timed out")
}

func TestRun_SecretGateTimeoutIsFailure(t *testing.T) {
	sel := DefaultSelectors()
	page := browsertest.New()
	page.Add(sel.Identity)
	page.Add(sel.Next)

	report := newMachine(t, testFlow()).Run(context.Background(), page, creds)
	got := outcomes(report)
	assert.Equal(t, Applied, got[StepIdentity])
	assert.Equal(t, Failed, got[StepSecretGate])
	assert.Equal(t, Failed, got[StepSecret])
	assert.Equal(t, NotApplicable, got[StepCheckpoint])
}

func TestRun_SessionInvalidatedMidFlow(t *testing.T) {
	sel := DefaultSelectors()
	page := minimalPage()
	// The browser dies as soon as the identity is submitted.
	page.Add(sel.Next, browsertest.OnClick(func(p *browsertest.Page) { p.Invalidate() }))

	start := time.Now()
	var report Report
	require.NotPanics(t, func() {
		report = newMachine(t, testFlow()).Run(context.Background(), page, creds)
	})

	got := outcomes(report)
	assert.Equal(t, Applied, got[StepIdentity])
	for _, step := range []Step{StepSecretGate, StepSecret, StepCheckpoint, StepStaySignedIn} {
		assert.Equal(t, Failed, got[step], string(step))
	}
	for _, f := range report.Failures() {
		assert.True(t, browser.IsSessionInvalid(f.Err), "step %s: %v", f.Step, f.Err)
	}
	assert.Less(t, time.Since(start), time.Second, "a dead session must not be waited on")
}

func TestRun_ContextCancelledInterrupts(t *testing.T) {
	page := browsertest.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := newMachine(t, testFlow()).Run(ctx, page, creds)
	assert.True(t, report.Interrupted)
	assert.Empty(t, report.Steps)
}

func TestRun_CheckpointSkipCap(t *testing.T) {
	sel := DefaultSelectors()
	page := minimalPage()
	page.Add(sel.Skip) // never goes away

	flow := testFlow()
	flow.Checkpoint.MaxSkips = 4
	report := newMachine(t, flow).Run(context.Background(), page, creds)

	got, _ := report.Outcome(StepCheckpoint)
	assert.Equal(t, Applied, got)
	assert.Equal(t, 4, page.Clicks(sel.Skip))
}

func TestRun_StaleCheckpointHandleIsNotAFailure(t *testing.T) {
	sel := DefaultSelectors()
	page := minimalPage()
	// The skip control re-renders under every click, so the handle is always stale.
	page.Add(sel.Skip, browsertest.FailActions(fmt.Errorf("%w: node is detached", browser.ErrNotReady)))

	report := newMachine(t, testFlow()).Run(context.Background(), page, creds)

	got, _ := report.Outcome(StepCheckpoint)
	assert.Equal(t, NotApplicable, got)
	assert.Empty(t, report.Failures())
	assert.Greater(t, page.Probes(sel.Skip), 1, "the handle is looked up again after a stale click")
}

func TestRun_AnotherAccountStep(t *testing.T) {
	sel := DefaultSelectors()
	page := minimalPage()
	page.Add(sel.AnotherAccount)

	flow := testFlow()
	flow.AnotherAccount.Enabled = true
	report := newMachine(t, flow).Run(context.Background(), page, creds)

	got, ok := report.Outcome(StepAnotherAccount)
	require.True(t, ok)
	assert.Equal(t, Applied, got)
	assert.Equal(t, StepAnotherAccount, report.Steps[2].Step)

	// Disabled by default: the step is not even recorded.
	report = newMachine(t, testFlow()).Run(context.Background(), minimalPage(), creds)
	_, ok = report.Outcome(StepAnotherAccount)
	assert.False(t, ok)
}

func TestRun_PromoDisabled(t *testing.T) {
	sel := DefaultSelectors()
	page := minimalPage()
	page.Add(sel.PromoClose)

	flow := testFlow()
	flow.PromoModal.MaxAttempts = 0
	report := newMachine(t, flow).Run(context.Background(), page, creds)

	assert.Equal(t, StepResult{Step: StepPromoModal, Outcome: NotApplicable, Detail: "disabled"}, report.Steps[0])
	assert.Zero(t, page.Clicks(sel.PromoClose))
}

func TestRun_SecretIsNeverLoggedByThePage(t *testing.T) {
	page := minimalPage()
	newMachine(t, testFlow()).Run(context.Background(), page, creds)
	for _, entry := range page.Log() {
		assert.NotContains(t, entry, creds.Password)
	}
}

func TestCredentials(t *testing.T) {
	assert.NoError(t, creds.Validate())
	assert.Error(t, Credentials{Password: "x"}.Validate())
	assert.Error(t, Credentials{Email: "a@b.c"}.Validate())
	assert.Equal(t, "s***@example.com", creds.String())
	assert.NotContains(t, creds.String(), creds.Password)
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "张***@example.cn", MaskEmail("张三@example.cn"))
	assert.Equal(t, "***", MaskEmail("not-an-email"))
	assert.Equal(t, "***", MaskEmail("@example.com"))
}

func TestReportSummary(t *testing.T) {
	r := Report{Steps: []StepResult{
		{Step: StepIdentity, Outcome: Applied},
		{Step: StepCheckpoint, Outcome: NotApplicable},
	}}
	assert.Equal(t, "identity=applied checkpoint=not_applicable", r.Summary())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
