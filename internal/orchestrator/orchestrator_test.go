package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"reflect"
	"testing"

	"github.com/mohammad-safakhou/partyplanner/config"
	"github.com/mohammad-safakhou/partyplanner/internal/catalog"
	"github.com/mohammad-safakhou/partyplanner/internal/gateway"
	"github.com/mohammad-safakhou/partyplanner/internal/jsonrepair"
	"github.com/mohammad-safakhou/partyplanner/internal/planner"
	"github.com/mohammad-safakhou/partyplanner/internal/telemetry"
)

type actionCall struct {
	step        string
	input       string
	description string
	history     []gateway.Message
}

type stubModel struct {
	plan     string
	planErr  error
	replies  map[string]string
	errs     map[string]error
	calls    []actionCall
	onInvoke func(step string)
	entries  []catalog.Entry
}

func (s *stubModel) RequestPlan(ctx context.Context, capability string, history []gateway.Message, userInput string, entries []catalog.Entry) (string, error) {
	s.entries = entries
	return s.plan, s.planErr
}

func (s *stubModel) InvokeAction(ctx context.Context, step, userInput, description string, history []gateway.Message) (string, error) {
	s.calls = append(s.calls, actionCall{step: step, input: userInput, description: description, history: history})
	if s.onInvoke != nil {
		s.onInvoke(step)
	}
	if err := s.errs[step]; err != nil {
		return "", err
	}
	return s.replies[step], nil
}

func newTestOrchestrator(model Model, opts Options) *Orchestrator {
	opts.Logger = log.New(io.Discard, "", 0)
	return New(model, catalog.Default(), opts)
}

func TestRunScenarioLocalJSONThenExternal(t *testing.T) {
	model := &stubModel{
		plan:    `{"actions":[{"step":"google_query_translator","description":"d1"},{"step":"party_planner_orama_step","description":"d2"}]}`,
		replies: map[string]string{"google_query_translator": `{"query": "null pointer exception example"}`},
	}
	o := newTestOrchestrator(model, Options{})

	res, err := o.Run(context.Background(), Request{UserInput: "Can you give me an example of null pointer exception?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.History) != 1 {
		t.Fatalf("expected history length 1, got %d", len(res.History))
	}
	if want := []string{TagRanLocalJSON, TagSkippedExternal}; !reflect.DeepEqual(res.Tags(), want) {
		t.Fatalf("outcomes = %v, want %v", res.Tags(), want)
	}
	if res.Partial || res.Failure != nil {
		t.Fatalf("expected complete run, got %+v", res.Failure)
	}
	if res.RunID == "" {
		t.Fatalf("expected run id")
	}
	if len(model.calls) != 1 || model.calls[0].description != "d1" {
		t.Fatalf("unexpected invoke calls %+v", model.calls)
	}
}

func TestRunEmptyPlan(t *testing.T) {
	model := &stubModel{plan: `{"actions": []}`}
	o := newTestOrchestrator(model, Options{})

	res, err := o.Run(context.Background(), Request{UserInput: "hi"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.History) != 0 || len(res.Outcomes) != 0 {
		t.Fatalf("expected empty transcript, got %+v", res)
	}
	if len(model.calls) != 0 {
		t.Fatalf("expected no InvokeAction calls, got %d", len(model.calls))
	}
	if res.Status() != StatusComplete {
		t.Fatalf("expected complete status")
	}
}

func TestRunExternalStepLeavesHistoryUnchanged(t *testing.T) {
	model := &stubModel{
		plan:    `{"actions":[{"step":"optimize_query","description":"a"},{"step":"perform_orama_search","description":"b"},{"step":"give_reply","description":"c"}]}`,
		replies: map[string]string{"optimize_query": "short query", "give_reply": "final answer"},
	}
	o := newTestOrchestrator(model, Options{})

	res, err := o.Run(context.Background(), Request{UserInput: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := []string{TagRanLocalText, TagSkippedExternal, TagRanLocalText}; !reflect.DeepEqual(res.Tags(), want) {
		t.Fatalf("outcomes = %v, want %v", res.Tags(), want)
	}
	if len(res.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(res.History))
	}
	// give_reply sees only the optimize_query output
	if got := model.calls[1].history; len(got) != 1 || got[0].Content != "short query" {
		t.Fatalf("unexpected history passed to give_reply: %+v", got)
	}
}

func TestRunLocalTextStoredVerbatim(t *testing.T) {
	raw := "  Here {is} an answer with 'odd' text\n"
	model := &stubModel{
		plan:    `{"actions":[{"step":"give_reply","description":""}]}`,
		replies: map[string]string{"give_reply": raw},
	}
	o := newTestOrchestrator(model, Options{})

	res, err := o.Run(context.Background(), Request{UserInput: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.History[0].Content != raw || res.History[0].Role != gateway.RoleAssistant {
		t.Fatalf("expected verbatim assistant entry, got %+v", res.History[0])
	}
	if model.calls[0].description != "" {
		t.Fatalf("empty description should pass through unchanged")
	}
}

func TestRunLocalJSONStoresRepairedValue(t *testing.T) {
	model := &stubModel{
		plan:    `{"actions":[{"step":"generate_queries","description":"d"}]}`,
		replies: map[string]string{"generate_queries": "```json\n{queries: ['a', 'b',]\n```"},
	}
	o := newTestOrchestrator(model, Options{})

	res, err := o.Run(context.Background(), Request{UserInput: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.History[0].Content; got != `{"queries":["a","b"]}` {
		t.Fatalf("expected canonical repaired JSON, got %q", got)
	}
}

func TestRunMalformedStepOutputIsPartial(t *testing.T) {
	model := &stubModel{
		plan:    `{"actions":[{"step":"optimize_query"},{"step":"generate_queries"},{"step":"give_reply"}]}`,
		replies: map[string]string{"optimize_query": "q1", "generate_queries": "sorry, no queries"},
	}
	o := newTestOrchestrator(model, Options{})

	res, err := o.Run(context.Background(), Request{UserInput: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Partial || res.Failure.Kind != FailureMalformedOutput || res.Failure.Index != 1 {
		t.Fatalf("expected malformed failure at step 1, got %+v", res.Failure)
	}
	var malformed *jsonrepair.MalformedOutputError
	if !errors.As(res.Failure, &malformed) {
		t.Fatalf("failure should wrap MalformedOutputError")
	}
	if len(res.History) != 1 || len(model.calls) != 2 {
		t.Fatalf("run should stop after the failing step")
	}
}

func TestRunUnknownStepAborts(t *testing.T) {
	model := &stubModel{
		plan:    `{"actions":[{"step":"optimize_query"},{"step":"launch_rockets"},{"step":"give_reply"}]}`,
		replies: map[string]string{"optimize_query": "q1", "give_reply": "never"},
	}
	o := newTestOrchestrator(model, Options{})

	res, err := o.Run(context.Background(), Request{UserInput: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Partial {
		t.Fatalf("expected partial run")
	}
	var unknown *catalog.UnknownStepError
	if !errors.As(res.Failure, &unknown) || unknown.Step != "launch_rockets" {
		t.Fatalf("expected UnknownStepError, got %v", res.Failure)
	}
	if len(res.History) != 1 || res.History[0].Content != "q1" {
		t.Fatalf("history should hold only prior steps, got %+v", res.History)
	}
	if want := []string{TagRanLocalText, TagFailed}; !reflect.DeepEqual(res.Tags(), want) {
		t.Fatalf("outcomes = %v, want %v", res.Tags(), want)
	}
	if len(model.calls) != 1 {
		t.Fatalf("no step should run after the unknown one")
	}
}

func TestRunUnknownStepSkipPolicy(t *testing.T) {
	model := &stubModel{
		plan:    `{"actions":[{"step":"launch_rockets"},{"step":"give_reply"}]}`,
		replies: map[string]string{"give_reply": "done"},
	}
	o := newTestOrchestrator(model, Options{UnknownStep: config.UnknownStepSkip})

	res, err := o.Run(context.Background(), Request{UserInput: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Partial {
		t.Fatalf("skip policy should complete the run")
	}
	if want := []string{TagSkippedUnknown, TagRanLocalText}; !reflect.DeepEqual(res.Tags(), want) {
		t.Fatalf("outcomes = %v, want %v", res.Tags(), want)
	}
}

func TestRunGatewayFailureIsPartial(t *testing.T) {
	model := &stubModel{
		plan:    `{"actions":[{"step":"optimize_query"},{"step":"give_reply"}]}`,
		replies: map[string]string{"optimize_query": "q1"},
		errs: map[string]error{"give_reply": &gateway.ModelInvocationError{
			Op: gateway.OpInvokeAction, Key: "give_reply", Timeout: true, Err: context.DeadlineExceeded,
		}},
	}
	o := newTestOrchestrator(model, Options{})

	res, err := o.Run(context.Background(), Request{UserInput: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Partial || res.Failure.Kind != FailureTimeout || res.Failure.Step != "give_reply" {
		t.Fatalf("expected timeout failure on give_reply, got %+v", res.Failure)
	}
	if len(res.History) != 1 {
		t.Fatalf("expected history from the first step only")
	}
	if ErrorKind(res.Failure) != FailureTimeout {
		t.Fatalf("ErrorKind should follow the failure kind")
	}
}

func TestRunPlanFailures(t *testing.T) {
	cases := []struct {
		name  string
		model *stubModel
		kind  string
	}{
		{name: "prose", model: &stubModel{plan: "I would rather not."}, kind: FailureMalformedOutput},
		{name: "missing actions", model: &stubModel{plan: `{"steps": []}`}, kind: FailureMissingField},
		{name: "backend", model: &stubModel{planErr: &gateway.ModelInvocationError{Op: gateway.OpRequestPlan, Err: errors.New("boom")}}, kind: FailureModelInvocation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := newTestOrchestrator(tc.model, Options{})
			_, err := o.Run(context.Background(), Request{UserInput: "q"})
			var planErr *PlanError
			if !errors.As(err, &planErr) {
				t.Fatalf("expected PlanError, got %v", err)
			}
			if got := ErrorKind(err); got != tc.kind {
				t.Fatalf("ErrorKind = %s, want %s", got, tc.kind)
			}
			if len(tc.model.calls) != 0 {
				t.Fatalf("no step may run when planning fails")
			}
		})
	}
	var missing *planner.MissingFieldError
	_, err := newTestOrchestrator(&stubModel{plan: `{}`}, Options{}).Run(context.Background(), Request{})
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFieldError through PlanError, got %v", err)
	}
}

func TestRunCancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	model := &stubModel{
		plan:    `{"actions":[{"step":"optimize_query"},{"step":"give_reply"}]}`,
		replies: map[string]string{"optimize_query": "q1", "give_reply": "never"},
	}
	model.onInvoke = func(step string) {
		if step == "optimize_query" {
			cancel()
		}
	}
	o := newTestOrchestrator(model, Options{})

	res, err := o.Run(ctx, Request{UserInput: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// the in-flight step completes and is committed before the run stops
	if len(res.History) != 1 || res.History[0].Content != "q1" {
		t.Fatalf("expected in-flight step to commit, got %+v", res.History)
	}
	if !res.Partial || res.Failure.Kind != FailureCanceled || !errors.Is(res.Failure, context.Canceled) {
		t.Fatalf("expected canceled failure, got %+v", res.Failure)
	}
	if len(model.calls) != 1 {
		t.Fatalf("no step should start after cancellation")
	}
}

func TestRunMaxStepsReportsDroppedSteps(t *testing.T) {
	model := &stubModel{
		plan:    `{"actions":[{"step":"optimize_query"},{"step":"give_reply"},{"step":"give_reply"}]}`,
		replies: map[string]string{"optimize_query": "a", "give_reply": "b"},
	}
	o := newTestOrchestrator(model, Options{MaxSteps: 2})

	res, err := o.Run(context.Background(), Request{UserInput: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Plan.Len() != 3 {
		t.Fatalf("expected the full plan to be kept, got %d steps", res.Plan.Len())
	}
	if len(model.calls) != 2 || len(res.History) != 2 {
		t.Fatalf("expected 2 executed steps, got calls=%v history=%d", model.calls, len(res.History))
	}
	want := []string{TagRanLocalText, TagRanLocalText, TagSkippedLimit}
	if !reflect.DeepEqual(res.Tags(), want) {
		t.Fatalf("outcomes = %v, want %v", res.Tags(), want)
	}
	if !res.Partial || res.Status() != StatusPartial {
		t.Fatalf("expected a partial run, got status %s", res.Status())
	}
	if res.Failure == nil || res.Failure.Kind != FailureStepLimit || res.Failure.Index != 2 || res.Failure.Step != "give_reply" {
		t.Fatalf("unexpected failure %+v", res.Failure)
	}
	var limit *StepLimitError
	if !errors.As(res.Failure, &limit) || limit.Planned != 3 || limit.Limit != 2 {
		t.Fatalf("expected StepLimitError, got %v", res.Failure.Err)
	}
	if ErrorKind(res.Failure) != FailureStepLimit {
		t.Fatalf("ErrorKind = %s", ErrorKind(res.Failure))
	}
}

func TestRunMaxStepsWithinLimit(t *testing.T) {
	model := &stubModel{
		plan:    `{"actions":[{"step":"optimize_query"},{"step":"give_reply"}]}`,
		replies: map[string]string{"optimize_query": "a", "give_reply": "b"},
	}
	o := newTestOrchestrator(model, Options{MaxSteps: 2})

	res, err := o.Run(context.Background(), Request{UserInput: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Partial || res.Failure != nil || len(res.Outcomes) != 2 {
		t.Fatalf("expected complete run, got %+v", res)
	}
}

func TestResultJSONCarriesFailure(t *testing.T) {
	res := Result{
		RunID:   "r1",
		Partial: true,
		Failure: &StepFailure{Index: 1, Step: "mystery", Kind: FailureUnknownStep, Err: &catalog.UnknownStepError{Step: "mystery"}},
	}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got struct {
		Failure struct {
			StepIndex int    `json:"step_index"`
			Step      string `json:"step"`
			Kind      string `json:"kind"`
			Message   string `json:"message"`
		} `json:"failure"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	f := got.Failure
	if f.StepIndex != 1 || f.Step != "mystery" || f.Kind != FailureUnknownStep || f.Message == "" {
		t.Fatalf("unexpected failure descriptor %s", b)
	}
}

func TestRunUsesCatalogOverride(t *testing.T) {
	override, err := catalog.New(
		catalog.Entry{Name: "give_reply", Description: "answer", Side: catalog.ExternalIntegration},
	)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	model := &stubModel{plan: `{"actions":[{"step":"give_reply"}]}`}
	o := newTestOrchestrator(model, Options{Metrics: telemetry.NewMetrics()})

	res, err := o.Run(context.Background(), Request{UserInput: "q", Catalog: override})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(model.entries) != 1 || model.entries[0].Name != "give_reply" {
		t.Fatalf("planner should see the override catalog, got %+v", model.entries)
	}
	if want := []string{TagSkippedExternal}; !reflect.DeepEqual(res.Tags(), want) {
		t.Fatalf("outcomes = %v, want %v", res.Tags(), want)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.PlannerConfig{UnknownStep: "SKIP", MaxSteps: 5})
	if opts.Capability != "party_planner" || opts.UnknownStep != config.UnknownStepSkip || opts.MaxSteps != 5 {
		t.Fatalf("unexpected options %+v", opts)
	}
}
