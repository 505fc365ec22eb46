// Package planner turns a planning model completion into an ActionPlan.
package planner

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/partyplanner/internal/jsonrepair"
)

// ActionStep is one entry of a plan. Step must resolve in the action catalog
// before it is dispatched.
type ActionStep struct {
	Step        string `json:"step"`
	Description string `json:"description"`
}

// ActionPlan is the ordered list of steps proposed for one request.
type ActionPlan struct {
	Actions []ActionStep `json:"actions"`
}

// Len returns the number of steps.
func (p ActionPlan) Len() int { return len(p.Actions) }

// MissingFieldError reports a plan or step lacking a required field.
// Index is -1 for plan-level fields.
type MissingFieldError struct {
	Field string
	Index int
}

func (e *MissingFieldError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("plan is missing required field %q", e.Field)
	}
	return fmt.Sprintf("plan action %d is missing required field %q", e.Index, e.Field)
}

// Parse repairs a raw completion and decodes it into an ActionPlan.
// Unrecognized keys are ignored and an absent description is empty.
func Parse(raw string) (ActionPlan, error) {
	doc, err := jsonrepair.Parse(raw)
	if err != nil {
		return ActionPlan{}, err
	}
	return FromDocument(doc, raw)
}

// FromDocument converts an already decoded plan value. raw is only used to
// annotate schema errors.
func FromDocument(doc any, raw string) (ActionPlan, error) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return ActionPlan{}, &MissingFieldError{Field: "actions", Index: -1}
	}
	rawActions, ok := obj["actions"]
	if !ok || rawActions == nil {
		return ActionPlan{}, &MissingFieldError{Field: "actions", Index: -1}
	}
	if items, ok := rawActions.([]any); ok {
		for i, item := range items {
			step, isObj := item.(map[string]any)
			if !isObj {
				continue
			}
			if s, present := step["step"]; !present || s == nil {
				return ActionPlan{}, &MissingFieldError{Field: "step", Index: i}
			} else if str, isStr := s.(string); isStr && strings.TrimSpace(str) == "" {
				return ActionPlan{}, &MissingFieldError{Field: "step", Index: i}
			}
		}
	}
	if err := validateDocument(doc); err != nil {
		return ActionPlan{}, &jsonrepair.MalformedOutputError{Reason: "invalid action plan", Raw: raw, Err: err}
	}

	items := rawActions.([]any)
	plan := ActionPlan{Actions: make([]ActionStep, 0, len(items))}
	for _, item := range items {
		step := item.(map[string]any)
		desc, _ := step["description"].(string)
		plan.Actions = append(plan.Actions, ActionStep{
			Step:        strings.TrimSpace(step["step"].(string)),
			Description: desc,
		})
	}
	return plan, nil
}

// Truncate returns a copy of the plan limited to max steps. A non-positive
// max leaves the plan unchanged.
func (p ActionPlan) Truncate(max int) ActionPlan {
	if max <= 0 || len(p.Actions) <= max {
		return p
	}
	out := make([]ActionStep, max)
	copy(out, p.Actions[:max])
	return ActionPlan{Actions: out}
}
