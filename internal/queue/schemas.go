package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const runRequestedV1 = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["run_id", "user_input"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "user_input": {"type": "string"},
    "requested_at": {"type": "string"},
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "side"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "side": {"type": "string"},
          "returns": {"type": "string"}
        }
      }
    }
  },
  "additionalProperties": true
}`

// SchemaRegistry stores compiled payload schemas keyed by event type and version.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

func registryKey(eventType, version string) string { return eventType + "@" + version }

// NewSchemaRegistry returns a registry holding the run payload schemas.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	r := &SchemaRegistry{schemas: make(map[string]*jsonschema.Schema)}
	if err := r.Register(EventRunRequested, PayloadV1, []byte(runRequestedV1)); err != nil {
		return nil, err
	}
	return r, nil
}

// Register compiles and stores a schema.
func (r *SchemaRegistry) Register(eventType, version string, schema []byte) error {
	if eventType == "" || version == "" {
		return fmt.Errorf("event type and version must be provided")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	r.mu.Lock()
	r.schemas[registryKey(eventType, version)] = compiled
	r.mu.Unlock()
	return nil
}

// Validate checks payload against the schema for eventType and version.
func (r *SchemaRegistry) Validate(eventType, version string, payload []byte) error {
	r.mu.RLock()
	schema, ok := r.schemas[registryKey(eventType, version)]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no schema registered for event %q version %q", eventType, version)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("payload validation failed: %w", err)
	}
	return nil
}
