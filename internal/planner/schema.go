package planner

import (
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed action_plan_schema.json
var planSchemaJSON string

var (
	compileOnce sync.Once
	planSchema  *jsonschema.Schema
	compileErr  error
)

// PlanSchema returns the compiled JSON Schema for action plans.
func PlanSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("action_plan_schema.json", strings.NewReader(planSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("action_plan_schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile action plan schema: %w", err)
			return
		}
		planSchema = schema
	})
	return planSchema, compileErr
}

// validateDocument checks a decoded plan value against the schema.
func validateDocument(doc any) error {
	schema, err := PlanSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("plan does not match schema: %w", err)
	}
	return nil
}
