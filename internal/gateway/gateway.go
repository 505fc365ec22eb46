// Package gateway is the single path from the orchestrator to a language
// model backend.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/partyplanner/internal/catalog"
	"github.com/mohammad-safakhou/partyplanner/internal/prompts"
	"github.com/mohammad-safakhou/partyplanner/internal/telemetry"
)

const (
	OpRequestPlan  = "request_plan"
	OpInvokeAction = "invoke_action"

	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Backend performs a chat completion round trip.
type Backend interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// ModelInvocationError wraps a failed backend round trip. Timeout is set when
// the call hit its deadline.
type ModelInvocationError struct {
	Op      string
	Key     string
	Timeout bool
	Err     error
}

func (e *ModelInvocationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("model invocation %s(%s) timed out: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("model invocation %s(%s) failed: %v", e.Op, e.Key, e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// Gateway renders prompts and performs one backend call per operation.
type Gateway struct {
	backend  Backend
	registry *prompts.Registry
	timeout  time.Duration
	metrics  *telemetry.Metrics
	logger   *log.Logger
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithTimeout bounds every backend round trip. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithMetrics records call counts and latency.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New constructs a Gateway.
func New(backend Backend, registry *prompts.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		backend:  backend,
		registry: registry,
		timeout:  30 * time.Second,
		logger:   log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Timeout returns the per-call bound.
func (g *Gateway) Timeout() time.Duration { return g.timeout }

// RequestPlan asks the planning capability for an action plan. The entries
// are rendered into the system prompt so the model only proposes steps the
// catalog can resolve.
func (g *Gateway) RequestPlan(ctx context.Context, capability string, history []Message, userInput string, entries []catalog.Entry) (string, error) {
	description := catalog.Describe(entries)
	system, err := g.registry.Render(capability, prompts.RoleSystem, description, "")
	if err != nil {
		return "", err
	}
	user, err := g.registry.Render(capability, prompts.RoleUser, userInput, description)
	if err != nil {
		return "", err
	}
	return g.roundTrip(ctx, OpRequestPlan, capability, buildConversation(system, history, user))
}

// InvokeAction runs a local step with the conversation so far.
func (g *Gateway) InvokeAction(ctx context.Context, step, userInput, description string, history []Message) (string, error) {
	system, err := g.registry.Render(step, prompts.RoleSystem, description, "")
	if err != nil {
		return "", err
	}
	user, err := g.registry.Render(step, prompts.RoleUser, userInput, description)
	if err != nil {
		return "", err
	}
	return g.roundTrip(ctx, OpInvokeAction, step, buildConversation(system, history, user))
}

// buildConversation copies history so the backend never aliases the caller's slice.
func buildConversation(system string, history []Message, user string) []Message {
	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: user})
	return msgs
}

func (g *Gateway) roundTrip(ctx context.Context, op, key string, msgs []Message) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "gateway."+op)
	span.SetAttributes(attribute.String("gateway.key", key), attribute.Int("gateway.messages", len(msgs)))
	defer span.End()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := g.backend.Chat(ctx, msgs)
	elapsed := time.Since(start)
	if err != nil {
		timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
		result := "error"
		if timeout {
			result = "timeout"
		}
		g.metrics.GatewayCall(op, result, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		g.logger.Printf("%s %s failed after %s: %v", op, key, elapsed.Round(time.Millisecond), err)
		return "", &ModelInvocationError{Op: op, Key: key, Timeout: timeout, Err: err}
	}
	g.metrics.GatewayCall(op, "ok", elapsed)
	return out, nil
}
