package login

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/autosetname/internal/watcher"
)

// Outcome is the tri-state result of one login step.
type Outcome int

const (
	// Applied means the step found its target and acted on it.
	Applied Outcome = iota
	// NotApplicable means the target never showed up, which is normal for this account or run.
	NotApplicable
	// Failed means the step could not do what it needed to.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case NotApplicable:
		return "not_applicable"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Step names one stage of the login flow.
type Step string

const (
	StepPromoModal     Step = "promo_modal"
	StepLoginEntry     Step = "login_entry"
	StepAnotherAccount Step = "another_account"
	StepIdentity       Step = "identity"
	StepSecretGate     Step = "secret_gate"
	StepSecret         Step = "secret"
	StepCheckpoint     Step = "checkpoint"
	StepStaySignedIn   Step = "stay_signed_in"
)

// mandatory steps turn a timeout into a failure instead of "not applicable".
func (s Step) mandatory() bool {
	switch s {
	case StepIdentity, StepSecretGate, StepSecret:
		return true
	default:
		return false
	}
}

// StepResult records what happened at one step.
type StepResult struct {
	Step    Step
	Outcome Outcome
	Detail  string
	Err     error
}

// Report is everything the login flow observed.
type Report struct {
	Steps []StepResult
	// Watcher is set only when the modal watcher was started.
	Watcher *watcher.Result
	// Interrupted is set when the run context ended before all steps ran.
	Interrupted bool
}

// Outcome returns the outcome recorded for step.
func (r Report) Outcome(step Step) (Outcome, bool) {
	for _, s := range r.Steps {
		if s.Step == step {
			return s.Outcome, true
		}
	}
	return 0, false
}

// Failures returns the steps that failed, in order.
func (r Report) Failures() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Outcome == Failed {
			out = append(out, s)
		}
	}
	return out
}

// Summary renders "step=outcome" pairs for logging.
func (r Report) Summary() string {
	parts := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		parts = append(parts, fmt.Sprintf("%s=%s", s.Step, s.Outcome))
	}
	return strings.Join(parts, " ")
}
