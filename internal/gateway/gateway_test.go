package gateway

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/partyplanner/internal/catalog"
	"github.com/mohammad-safakhou/partyplanner/internal/prompts"
)

type stubBackend struct {
	reply string
	err   error
	delay time.Duration
	calls [][]Message
}

func (s *stubBackend) Chat(ctx context.Context, messages []Message) (string, error) {
	s.calls = append(s.calls, messages)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.reply, s.err
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestRequestPlanBuildsConversation(t *testing.T) {
	backend := &stubBackend{reply: `{"actions":[]}`}
	g := New(backend, prompts.Default(), WithLogger(quietLogger()))

	out, err := g.RequestPlan(context.Background(), prompts.PartyPlanner, nil, "plan a party", catalog.DefaultEntries())
	if err != nil {
		t.Fatalf("RequestPlan: %v", err)
	}
	if out != `{"actions":[]}` {
		t.Fatalf("unexpected completion %q", out)
	}
	if len(backend.calls) != 1 {
		t.Fatalf("expected one backend call, got %d", len(backend.calls))
	}
	msgs := backend.calls[0]
	if len(msgs) != 2 || msgs[0].Role != RoleSystem || msgs[1].Role != RoleUser {
		t.Fatalf("unexpected conversation %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "- google_query_translator:") {
		t.Fatalf("system prompt should list catalog steps: %q", msgs[0].Content)
	}
	if !strings.Contains(msgs[1].Content, "plan a party") {
		t.Fatalf("user prompt should carry input: %q", msgs[1].Content)
	}
}

func TestInvokeActionPassesHistoryInOrder(t *testing.T) {
	backend := &stubBackend{reply: "ok"}
	g := New(backend, prompts.Default(), WithLogger(quietLogger()))
	history := []Message{
		{Role: RoleAssistant, Content: "first"},
		{Role: RoleAssistant, Content: "second"},
	}
	if _, err := g.InvokeAction(context.Background(), "give_reply", "question", "describe", history); err != nil {
		t.Fatalf("InvokeAction: %v", err)
	}
	msgs := backend.calls[0]
	if len(msgs) != 4 {
		t.Fatalf("expected system+2 history+user, got %d", len(msgs))
	}
	if msgs[1].Content != "first" || msgs[2].Content != "second" || msgs[3].Role != RoleUser {
		t.Fatalf("unexpected conversation %+v", msgs)
	}
	msgs[1].Content = "mutated"
	if history[0].Content != "first" {
		t.Fatalf("conversation must not alias caller history")
	}
}

func TestInvokeActionMissingTemplate(t *testing.T) {
	backend := &stubBackend{reply: "ok"}
	g := New(backend, prompts.Default(), WithLogger(quietLogger()))
	_, err := g.InvokeAction(context.Background(), "perform_orama_search", "q", "", nil)
	var missing *prompts.MissingTemplateError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingTemplateError, got %v", err)
	}
	if len(backend.calls) != 0 {
		t.Fatalf("backend must not be called without a template")
	}
}

func TestBackendFailureIsModelInvocationError(t *testing.T) {
	backend := &stubBackend{err: errors.New("quota exceeded")}
	g := New(backend, prompts.Default(), WithLogger(quietLogger()))
	_, err := g.InvokeAction(context.Background(), "optimize_query", "q", "", nil)
	var invErr *ModelInvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected ModelInvocationError, got %v", err)
	}
	if invErr.Timeout || invErr.Op != OpInvokeAction || invErr.Key != "optimize_query" {
		t.Fatalf("unexpected error %+v", invErr)
	}
	if len(backend.calls) != 1 {
		t.Fatalf("gateway must not retry, got %d calls", len(backend.calls))
	}
}

func TestBackendTimeout(t *testing.T) {
	backend := &stubBackend{reply: "late", delay: time.Second}
	g := New(backend, prompts.Default(), WithTimeout(20*time.Millisecond), WithLogger(quietLogger()))
	_, err := g.InvokeAction(context.Background(), "optimize_query", "q", "", nil)
	var invErr *ModelInvocationError
	if !errors.As(err, &invErr) || !invErr.Timeout {
		t.Fatalf("expected timeout ModelInvocationError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline error, got %v", err)
	}
}

func TestDefaultLocalActionsHaveTemplates(t *testing.T) {
	reg := prompts.Default()
	for _, e := range catalog.DefaultEntries() {
		if e.Side != catalog.Local {
			continue
		}
		if !reg.Has(e.Name) {
			t.Fatalf("local action %s has no prompt templates", e.Name)
		}
	}
}
