// Package profile generates a random display name and submits it on the
// profile edit page.
package profile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autosetname/internal/browser"
	"github.com/xkilldash9x/autosetname/internal/config"
	"github.com/xkilldash9x/autosetname/internal/wait"
)

// Selectors locates the profile name form.
type Selectors struct {
	NameInput browser.ElementQuery
	Confirm   browser.ElementQuery
}

// DefaultSelectors returns the locators of the minecraft.net profile name form.
func DefaultSelectors() Selectors {
	return Selectors{
		NameInput: browser.ID("profile name input", "change-java-profile-name", browser.Present),
		Confirm: browser.CSS("set profile name button",
			`button.MC_Button.MC_Button_Hero.MC_Style_Green_5.redeem__text-transform[aria-label="设置您的档案名称"]`,
			browser.Clickable),
	}
}

// Result describes one submission attempt.
type Result struct {
	Name string
	// Submitted is true once the confirm button was clicked. Whether the site
	// accepted the name is not observed.
	Submitted bool
	Err       error
}

// Setter fills and submits the profile name form.
type Setter struct {
	cfg          config.ProfileConfig
	pollInterval time.Duration
	sel          Selectors
	logger       *zap.Logger
}

// NewSetter builds a Setter. A zero Selectors value selects the defaults.
func NewSetter(cfg config.ProfileConfig, pollInterval time.Duration, sel Selectors, logger *zap.Logger) *Setter {
	if sel == (Selectors{}) {
		sel = DefaultSelectors()
	}
	return &Setter{cfg: cfg, pollInterval: pollInterval, sel: sel, logger: logger.Named("profile")}
}

// Generate produces a name from the configured length and prefix.
func (s *Setter) Generate() (string, error) {
	return GenerateName(s.cfg.NameLength, s.cfg.Prefix)
}

// Set generates a name and submits it. A configuration error is returned before
// any page interaction.
func (s *Setter) Set(ctx context.Context, drv browser.Driver) Result {
	name, err := s.Generate()
	if err != nil {
		s.logger.Error("Cannot generate profile name.", zap.Error(err))
		return Result{Err: err}
	}
	return s.Submit(ctx, drv, name)
}

// Submit types name into the form and clicks confirm. It is best effort: failures
// are logged and reported in the Result, never raised.
func (s *Setter) Submit(ctx context.Context, drv browser.Driver, name string) Result {
	res := Result{Name: name}
	p := wait.Policy{Timeout: s.cfg.FieldTimeout, Interval: s.pollInterval}
	s.logger.Info("Setting profile name.", zap.String("name", name))

	if err := wait.Fill(ctx, drv, s.sel.NameInput, p, name); err != nil {
		res.Err = err
		s.logger.Warn("Could not fill the profile name.", zap.Error(err))
		return res
	}
	if err := wait.Click(ctx, drv, s.sel.Confirm, p); err != nil {
		res.Err = err
		s.logger.Warn("Could not confirm the profile name.", zap.Error(err))
		return res
	}
	res.Submitted = true
	s.logger.Info("Profile name submitted.", zap.String("name", name))

	// Give the page a moment to process the submission.
	if err := wait.Sleep(ctx, s.cfg.SubmitSettle); err != nil {
		s.logger.Debug("Settle pause cut short.", zap.Error(err))
	}
	return res
}
