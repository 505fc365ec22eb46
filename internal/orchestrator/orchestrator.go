// Package orchestrator executes action plans: it asks the planning model for
// a plan, then walks the steps in order while accumulating the conversation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/partyplanner/config"
	"github.com/mohammad-safakhou/partyplanner/internal/catalog"
	"github.com/mohammad-safakhou/partyplanner/internal/gateway"
	"github.com/mohammad-safakhou/partyplanner/internal/jsonrepair"
	"github.com/mohammad-safakhou/partyplanner/internal/planner"
	"github.com/mohammad-safakhou/partyplanner/internal/prompts"
	"github.com/mohammad-safakhou/partyplanner/internal/telemetry"
)

// Model is the subset of the gateway the orchestrator drives.
type Model interface {
	RequestPlan(ctx context.Context, capability string, history []gateway.Message, userInput string, entries []catalog.Entry) (string, error)
	InvokeAction(ctx context.Context, step, userInput, description string, history []gateway.Message) (string, error)
}

// Options configures an Orchestrator.
type Options struct {
	Capability  string
	UnknownStep string
	MaxSteps    int
	Metrics     *telemetry.Metrics
	Logger      *log.Logger
}

// OptionsFromConfig maps planner settings onto Options.
func OptionsFromConfig(cfg config.PlannerConfig) Options {
	cfg = cfg.Normalize()
	return Options{
		Capability:  cfg.Capability,
		UnknownStep: cfg.UnknownStep,
		MaxSteps:    cfg.MaxSteps,
	}
}

// Orchestrator is safe for concurrent runs. Each run owns its history.
type Orchestrator struct {
	model    Model
	catalog  *catalog.Catalog
	opts     Options
	logger   *log.Logger
	newRunID func() string
}

// New builds an orchestrator around the default catalog.
func New(model Model, defaults *catalog.Catalog, opts Options) *Orchestrator {
	if opts.Capability == "" {
		opts.Capability = prompts.PartyPlanner
	}
	if opts.UnknownStep == "" {
		opts.UnknownStep = config.UnknownStepAbort
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Orchestrator{
		model:    model,
		catalog:  defaults,
		opts:     opts,
		logger:   logger,
		newRunID: func() string { return uuid.NewString() },
	}
}

// Catalog returns the default catalog.
func (o *Orchestrator) Catalog() *catalog.Catalog { return o.catalog }

// Request is one orchestration input. A nil Catalog selects the default.
type Request struct {
	RunID     string
	UserInput string
	Catalog   *catalog.Catalog
}

// PlanError is returned when no plan could be obtained. No step runs.
type PlanError struct {
	RunID string
	Err   error
}

func (e *PlanError) Error() string { return fmt.Sprintf("run %s: planning failed: %v", e.RunID, e.Err) }

func (e *PlanError) Unwrap() error { return e.Err }

// Run plans and executes a request. Plan failures are returned as *PlanError.
// Step failures produce a partial Result with a nil error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	runID := req.RunID
	if runID == "" {
		runID = o.newRunID()
	}
	cat := req.Catalog
	if cat == nil {
		cat = o.catalog
	}

	ctx, span := telemetry.StartSpan(ctx, "orchestrator.run")
	span.SetAttributes(attribute.String("run.id", runID))
	defer span.End()

	start := time.Now()
	res := Result{RunID: runID, History: []gateway.Message{}, Outcomes: []StepOutcome{}}

	plan, err := o.plan(ctx, req.UserInput, cat)
	if err != nil {
		o.opts.Metrics.RunFinished(StatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "planning failed")
		o.logger.Printf("run %s: planning failed: %v", runID, err)
		return Result{}, &PlanError{RunID: runID, Err: err}
	}
	span.SetAttributes(attribute.Int("plan.steps", plan.Len()))
	res.Plan = plan
	steps := plan.Truncate(o.opts.MaxSteps)
	if steps.Len() < plan.Len() {
		o.logger.Printf("run %s: plan has %d steps, running the first %d", runID, plan.Len(), steps.Len())
	}

	for i, step := range steps.Actions {
		if err := ctx.Err(); err != nil {
			o.fail(&res, i, step, FailureCanceled, err)
			break
		}
		if stop := o.execute(ctx, &res, req.UserInput, cat, i, step); stop {
			break
		}
	}
	if !res.Partial && steps.Len() < plan.Len() {
		o.limit(&res, steps.Len())
	}

	status := res.Status()
	o.opts.Metrics.RunFinished(status)
	span.SetAttributes(attribute.String("run.status", status))
	if res.Partial {
		span.SetStatus(codes.Error, res.Failure.Error())
	}
	o.logger.Printf("run %s: %s after %d/%d steps in %s", runID, status, len(res.Outcomes), plan.Len(), time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (o *Orchestrator) plan(ctx context.Context, input string, cat *catalog.Catalog) (planner.ActionPlan, error) {
	raw, err := o.model.RequestPlan(context.WithoutCancel(ctx), o.opts.Capability, nil, input, cat.Entries())
	if err != nil {
		return planner.ActionPlan{}, err
	}
	return planner.Parse(raw)
}

// execute processes one step and reports whether the run must stop.
func (o *Orchestrator) execute(ctx context.Context, res *Result, input string, cat *catalog.Catalog, i int, step planner.ActionStep) bool {
	entry, err := cat.Lookup(step.Step)
	if err != nil {
		var unknown *catalog.UnknownStepError
		if errors.As(err, &unknown) && o.opts.UnknownStep == config.UnknownStepSkip {
			o.logger.Printf("run %s: step %d %q is not in the catalog, skipping", res.RunID, i, step.Step)
			o.record(res, i, step, TagSkippedUnknown, nil)
			return false
		}
		o.fail(res, i, step, FailureUnknownStep, err)
		return true
	}

	if entry.Side == catalog.ExternalIntegration {
		o.logger.Printf("run %s: step %d %q deferred to the external integration", res.RunID, i, step.Step)
		o.record(res, i, step, TagSkippedExternal, nil)
		return false
	}

	// the in-flight call is not interrupted by caller cancellation; the
	// gateway timeout still bounds it
	raw, err := o.model.InvokeAction(context.WithoutCancel(ctx), step.Step, input, step.Description, cloneHistory(res.History))
	if err != nil {
		o.fail(res, i, step, classify(err), err)
		return true
	}

	content, tag := raw, TagRanLocalText
	if entry.Returns == catalog.JSON {
		v, err := jsonrepair.Parse(raw)
		if err != nil {
			o.fail(res, i, step, FailureMalformedOutput, err)
			return true
		}
		if content, err = jsonrepair.Canonical(v); err != nil {
			o.fail(res, i, step, FailureMalformedOutput, err)
			return true
		}
		tag = TagRanLocalJSON
	}
	res.History = append(res.History, gateway.Message{Role: gateway.RoleAssistant, Content: content})
	o.record(res, i, step, tag, nil)
	return false
}

func (o *Orchestrator) record(res *Result, i int, step planner.ActionStep, tag string, err error) {
	out := StepOutcome{Index: i, Step: step.Step, Description: step.Description, Tag: tag}
	if err != nil {
		out.Error = err.Error()
	}
	res.Outcomes = append(res.Outcomes, out)
	o.opts.Metrics.StepProcessed(tag)
}

func (o *Orchestrator) fail(res *Result, i int, step planner.ActionStep, kind string, err error) {
	o.logger.Printf("run %s: step %d %q failed (%s): %v", res.RunID, i, step.Step, kind, err)
	o.record(res, i, step, TagFailed, err)
	res.Partial = true
	res.Failure = &StepFailure{Index: i, Step: step.Step, Kind: kind, Err: err}
}

// limit marks every step past n as dropped and reports the run as partial.
func (o *Orchestrator) limit(res *Result, n int) {
	dropped := res.Plan.Actions[n:]
	err := &StepLimitError{Planned: res.Plan.Len(), Limit: n}
	o.logger.Printf("run %s: %v", res.RunID, err)
	for j, step := range dropped {
		o.record(res, n+j, step, TagSkippedLimit, nil)
	}
	res.Partial = true
	res.Failure = &StepFailure{Index: n, Step: dropped[0].Step, Kind: FailureStepLimit, Err: err}
}

func classify(err error) string {
	var invErr *gateway.ModelInvocationError
	var missing *prompts.MissingTemplateError
	switch {
	case errors.As(err, &invErr) && invErr.Timeout:
		return FailureTimeout
	case errors.As(err, &invErr):
		return FailureModelInvocation
	case errors.As(err, &missing):
		return FailureMissingTemplate
	default:
		return FailureModelInvocation
	}
}

func cloneHistory(h []gateway.Message) []gateway.Message {
	out := make([]gateway.Message, len(h))
	copy(out, h)
	return out
}
