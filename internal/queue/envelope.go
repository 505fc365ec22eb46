// Package queue carries asynchronous run requests over Redis Streams.
package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/partyplanner/internal/catalog"
)

// Event types and payload versions understood by the worker.
const (
	EventRunRequested = "run.requested"
	PayloadV1         = "v1"
)

// Envelope wraps every stream entry.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Attempt        int             `json:"attempt"`
	PayloadVersion string          `json:"payload_version"`
	Data           json.RawMessage `json:"data"`
}

// validate checks required envelope fields. A zero OccurredAt is filled in.
func (e *Envelope) validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return fmt.Errorf("event_id is required")
	case strings.TrimSpace(e.EventType) == "":
		return fmt.Errorf("event_type is required")
	case strings.TrimSpace(e.PayloadVersion) == "":
		return fmt.Errorf("payload_version is required")
	case e.Attempt < 0:
		return fmt.Errorf("attempt must be >= 0")
	case len(e.Data) == 0:
		return fmt.Errorf("data payload is required")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return nil
}

// decodeEnvelope parses and validates a stream value.
func decodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.validate(); err != nil {
		return env, err
	}
	return env, nil
}

// RunRequest is the payload of a run.requested event.
type RunRequest struct {
	RunID       string          `json:"run_id"`
	UserInput   string          `json:"user_input"`
	Actions     []catalog.Entry `json:"actions,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
}

// DecodeRunRequest extracts the payload of a run.requested envelope.
func DecodeRunRequest(env Envelope) (RunRequest, error) {
	if env.EventType != EventRunRequested {
		return RunRequest{}, fmt.Errorf("unexpected event type %q", env.EventType)
	}
	var req RunRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return RunRequest{}, fmt.Errorf("decode run request: %w", err)
	}
	return req, nil
}
