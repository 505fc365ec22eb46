package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/partyplanner/internal/catalog"
	"github.com/mohammad-safakhou/partyplanner/internal/gateway"
	"github.com/mohammad-safakhou/partyplanner/internal/jsonrepair"
	"github.com/mohammad-safakhou/partyplanner/internal/planner"
	"github.com/mohammad-safakhou/partyplanner/internal/prompts"
)

// Outcome tags.
const (
	TagRanLocalText    = "ran-local-text"
	TagRanLocalJSON    = "ran-local-json"
	TagSkippedExternal = "skipped-external"
	TagSkippedUnknown  = "skipped-unknown"
	TagSkippedLimit    = "skipped-limit"
	TagFailed          = "failed"
)

// Run statuses.
const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
	StatusFailed   = "failed"
)

// Failure kinds reported to callers.
const (
	FailureUnknownStep     = "unknown_step"
	FailureModelInvocation = "model_invocation"
	FailureTimeout         = "timeout"
	FailureMalformedOutput = "malformed_output"
	FailureMissingField    = "missing_field"
	FailureMissingTemplate = "missing_template"
	FailureCanceled        = "canceled"
	FailureStepLimit       = "step_limit"
)

// StepOutcome records what happened to one plan step.
type StepOutcome struct {
	Index       int    `json:"index"`
	Step        string `json:"step"`
	Description string `json:"description"`
	Tag         string `json:"tag"`
	Error       string `json:"error,omitempty"`
}

// StepFailure identifies the step that stopped a run.
type StepFailure struct {
	Index int
	Step  string
	Kind  string
	Err   error
}

func (f *StepFailure) Error() string {
	return fmt.Sprintf("step %d (%s) %s: %v", f.Index, f.Step, f.Kind, f.Err)
}

func (f *StepFailure) Unwrap() error { return f.Err }

// MarshalJSON emits the descriptor shared by the API and the CLI.
func (f *StepFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		StepIndex int    `json:"step_index"`
		Step      string `json:"step"`
		Kind      string `json:"kind"`
		Message   string `json:"message"`
	}{f.Index, f.Step, f.Kind, msg})
}

// StepLimitError reports steps dropped by the configured step limit.
type StepLimitError struct {
	Planned int
	Limit   int
}

func (e *StepLimitError) Error() string {
	return fmt.Sprintf("plan has %d steps, only the first %d were run", e.Planned, e.Limit)
}

// Result is the transcript of one run. When Partial is set Failure says why
// the run stopped and History holds only steps committed before it. Plan is
// always the plan as returned by the model, even when the step limit cut it.
type Result struct {
	RunID    string             `json:"run_id"`
	Plan     planner.ActionPlan `json:"plan"`
	History  []gateway.Message  `json:"history"`
	Outcomes []StepOutcome      `json:"outcomes"`
	Partial  bool               `json:"partial"`
	Failure  *StepFailure       `json:"failure,omitempty"`
}

// Tags lists outcome tags in step order.
func (r Result) Tags() []string {
	out := make([]string, len(r.Outcomes))
	for i, o := range r.Outcomes {
		out[i] = o.Tag
	}
	return out
}

// Status summarises the run.
func (r Result) Status() string {
	if r.Partial {
		return StatusPartial
	}
	return StatusComplete
}

// ErrorKind maps an error from the run onto a failure kind.
func ErrorKind(err error) string {
	var (
		malformed *jsonrepair.MalformedOutputError
		missing   *planner.MissingFieldError
		unknown   *catalog.UnknownStepError
		invErr    *gateway.ModelInvocationError
		tmpl      *prompts.MissingTemplateError
		limit     *StepLimitError
		failure   *StepFailure
	)
	switch {
	case errors.As(err, &failure):
		return failure.Kind
	case errors.As(err, &malformed):
		return FailureMalformedOutput
	case errors.As(err, &missing):
		return FailureMissingField
	case errors.As(err, &unknown):
		return FailureUnknownStep
	case errors.As(err, &invErr) && invErr.Timeout:
		return FailureTimeout
	case errors.As(err, &invErr):
		return FailureModelInvocation
	case errors.As(err, &tmpl):
		return FailureMissingTemplate
	case errors.As(err, &limit):
		return FailureStepLimit
	default:
		return "internal"
	}
}
