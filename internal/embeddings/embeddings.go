// Package embeddings serves vector generation for the supported model names.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/partyplanner/internal/telemetry"
)

// Intent tells asymmetric models whether a text is a query or a document.
type Intent string

const (
	IntentQuery   Intent = "query"
	IntentPassage Intent = "passage"
)

// ModelInfo describes a public model name.
type ModelInfo struct {
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
	// Prefixed models expect "query: " or "passage: " in front of each input.
	Prefixed bool `json:"prefixed"`
}

var models = map[string]ModelInfo{
	"bge-small":             {Name: "bge-small", Dimensions: 384},
	"bge-base":              {Name: "bge-base", Dimensions: 768},
	"bge-large":             {Name: "bge-large", Dimensions: 1024},
	"multilingual-e5-small": {Name: "multilingual-e5-small", Dimensions: 384, Prefixed: true},
	"multilingual-e5-base":  {Name: "multilingual-e5-base", Dimensions: 768, Prefixed: true},
	"multilingual-e5-large": {Name: "multilingual-e5-large", Dimensions: 1024, Prefixed: true},
}

// ErrUnknownModel is returned for model names outside the table.
var ErrUnknownModel = errors.New("unknown embedding model")

// ErrInvalidInput is returned for empty or oversize requests.
var ErrInvalidInput = errors.New("invalid embedding input")

// Lookup resolves a model name case-insensitively.
func Lookup(name string) (ModelInfo, error) {
	m, ok := models[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return ModelInfo{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return m, nil
}

// Models lists the table sorted by name.
func Models() []ModelInfo {
	out := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Embedder produces vectors of the requested size.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string, dimensions int) ([][]float32, error)
}

// Request is one embedding call.
type Request struct {
	Input  []string `json:"input"`
	Model  string   `json:"model"`
	Intent Intent   `json:"intent"`
}

// Response carries vectors in input order.
type Response struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
}

// Service validates requests and delegates to an Embedder.
type Service struct {
	embedder     Embedder
	defaultModel string
	maxInputs    int
	metrics      *telemetry.Metrics
}

// NewService builds a Service. maxInputs <= 0 means unbounded.
func NewService(embedder Embedder, defaultModel string, maxInputs int, metrics *telemetry.Metrics) *Service {
	if defaultModel == "" {
		defaultModel = "bge-small"
	}
	return &Service{embedder: embedder, defaultModel: defaultModel, maxInputs: maxInputs, metrics: metrics}
}

// Embed computes embeddings for req.
func (s *Service) Embed(ctx context.Context, req Request) (Response, error) {
	name := req.Model
	if strings.TrimSpace(name) == "" {
		name = s.defaultModel
	}
	info, err := Lookup(name)
	if err != nil {
		return Response{}, err
	}
	if len(req.Input) == 0 {
		return Response{}, fmt.Errorf("%w: input is empty", ErrInvalidInput)
	}
	if s.maxInputs > 0 && len(req.Input) > s.maxInputs {
		return Response{}, fmt.Errorf("%w: %d inputs exceeds limit of %d", ErrInvalidInput, len(req.Input), s.maxInputs)
	}
	intent := Intent(strings.ToLower(string(req.Intent)))
	switch intent {
	case "":
		intent = IntentQuery
	case IntentQuery, IntentPassage:
	default:
		return Response{}, fmt.Errorf("%w: unknown intent %q", ErrInvalidInput, req.Intent)
	}

	texts := req.Input
	if info.Prefixed {
		texts = make([]string, len(req.Input))
		for i, t := range req.Input {
			texts[i] = string(intent) + ": " + t
		}
	}
	vecs, err := s.embedder.CreateEmbedding(ctx, texts, info.Dimensions)
	if err != nil {
		return Response{}, fmt.Errorf("embed with %s: %w", info.Name, err)
	}
	if len(vecs) != len(texts) {
		return Response{}, fmt.Errorf("embed with %s: expected %d vectors, got %d", info.Name, len(texts), len(vecs))
	}
	s.metrics.EmbeddingInputs(info.Name, len(texts))
	return Response{Model: info.Name, Embeddings: vecs, Dimensions: info.Dimensions}, nil
}
