package server

import (
	"github.com/mohammad-safakhou/partyplanner/internal/catalog"
	"github.com/mohammad-safakhou/partyplanner/internal/gateway"
	"github.com/mohammad-safakhou/partyplanner/internal/orchestrator"
)

// HTTPError is the body of every error response.
type HTTPError struct {
	Error string `json:"error"`
}

// RunRequest is the body of POST /v1/runs.
type RunRequest struct {
	UserInput string          `json:"user_input"`
	Actions   []catalog.Entry `json:"actions,omitempty"`
	Async     bool            `json:"async,omitempty"`
}

// RunError describes why a run stopped.
type RunError struct {
	StepIndex *int   `json:"step_index,omitempty"`
	Step      string `json:"step,omitempty"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// RunResponse is returned for synchronous runs.
type RunResponse struct {
	RunID    string                     `json:"run_id"`
	Status   string                     `json:"status"`
	History  []gateway.Message          `json:"history"`
	Outcomes []orchestrator.StepOutcome `json:"outcomes"`
	Partial  bool                       `json:"partial"`
	Error    *RunError                  `json:"error,omitempty"`
}

// QueuedResponse is returned for asynchronous runs.
type QueuedResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// EmbeddingsRequest is the body of POST /v1/embeddings.
type EmbeddingsRequest struct {
	Input  []string `json:"input"`
	Model  string   `json:"model,omitempty"`
	Intent string   `json:"intent,omitempty"`
}

// EmbeddingsResponse carries one vector per input.
type EmbeddingsResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
}

func runResponse(res orchestrator.Result) RunResponse {
	out := RunResponse{
		RunID:    res.RunID,
		Status:   res.Status(),
		History:  res.History,
		Outcomes: res.Outcomes,
		Partial:  res.Partial,
	}
	if f := res.Failure; f != nil {
		idx := f.Index
		out.Error = &RunError{StepIndex: &idx, Step: f.Step, Kind: f.Kind, Message: f.Err.Error()}
	}
	return out
}
