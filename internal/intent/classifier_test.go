package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/orca/internal/llm"
	"github.com/kalambet/orca/internal/memory"
)

// mockCompleter implements llm.Completer for testing.
type mockCompleter struct {
	response string
	err      error
	delay    time.Duration
	calls    int
}

func (m *mockCompleter) Complete(ctx context.Context, _ []llm.Message, _ llm.Params) (string, error) {
	m.calls++
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

func TestClassify_ModelResponse(t *testing.T) {
	mock := &mockCompleter{
		response: `{"inferred_goal":"reply to Anna about the contract","entities":{"person":["Anna"],"file":["contract.pdf"]},"priority":"high","required_workers":["email","doc"],"confidence":0.92}`,
	}
	c := NewClassifier(mock, nil)
	got := c.Classify(context.Background(), "reply to Anna about contract.pdf", nil)

	want := Record{
		RawInput:        "reply to Anna about contract.pdf",
		Goal:            "reply to Anna about the contract",
		Entities:        map[string][]string{"person": {"Anna"}, "file": {"contract.pdf"}},
		Priority:        PriorityHigh,
		RequiredWorkers: []string{"email", "doc"},
		Confidence:      0.92,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Classify mismatch (-want +got):\n%s", diff)
	}
}

func TestClassify_FiltersUnknownWorkers(t *testing.T) {
	mock := &mockCompleter{
		response: `{"inferred_goal":"x","entities":{},"priority":"urgent","required_workers":["fax","file","file"],"confidence":1.7}`,
	}
	c := NewClassifier(mock, []string{"file", "knowledge"})
	got := c.Classify(context.Background(), "organize things", nil)

	if diff := cmp.Diff([]string{"file"}, got.RequiredWorkers); diff != "" {
		t.Errorf("workers mismatch (-want +got):\n%s", diff)
	}
	if got.Priority != PriorityMedium {
		t.Errorf("Priority = %q, want medium for invalid value", got.Priority)
	}
	if got.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", got.Confidence)
	}
}

func TestClassify_NoUsableWorkersFallsBackToKeywords(t *testing.T) {
	mock := &mockCompleter{
		response: `{"inferred_goal":"x","entities":{},"priority":"low","required_workers":["fax"],"confidence":0.6}`,
	}
	c := NewClassifier(mock, nil)
	got := c.Classify(context.Background(), "schedule a meeting", nil)
	if diff := cmp.Diff([]string{"schedule"}, got.RequiredWorkers); diff != "" {
		t.Errorf("workers mismatch (-want +got):\n%s", diff)
	}
	if got.Confidence != 0.6 {
		t.Errorf("Confidence = %v, want model value kept", got.Confidence)
	}
}

func TestClassify_MalformedJSON(t *testing.T) {
	mock := &mockCompleter{response: `not valid json {{{`}
	c := NewClassifier(mock, nil)
	got := c.Classify(context.Background(), "帮我整理下载文件夹", nil)

	if got.Confidence != FallbackConfidence {
		t.Errorf("Confidence = %v, want fallback sentinel", got.Confidence)
	}
	if diff := cmp.Diff([]string{"file"}, got.RequiredWorkers); diff != "" {
		t.Errorf("workers mismatch (-want +got):\n%s", diff)
	}
}

func TestClassify_CompleterError(t *testing.T) {
	mock := &mockCompleter{err: errors.New("connection refused")}
	c := NewClassifier(mock, nil)
	got := c.Classify(context.Background(), "hello", nil)

	if got.Confidence != FallbackConfidence || got.RequiredWorkers[0] != FallbackWorker {
		t.Errorf("got %+v, want knowledge fallback", got)
	}
}

func TestClassify_Timeout(t *testing.T) {
	mock := &mockCompleter{response: `{"required_workers":["email"]}`, delay: 5 * time.Second}
	c := NewClassifier(mock, nil)
	c.timeout = 50 * time.Millisecond

	start := time.Now()
	got := c.Classify(context.Background(), "check my email", nil)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Classify took %v, want bounded by timeout", elapsed)
	}
	if got.Confidence != FallbackConfidence {
		t.Errorf("Confidence = %v, want fallback on timeout", got.Confidence)
	}
	if diff := cmp.Diff([]string{"email"}, got.RequiredWorkers); diff != "" {
		t.Errorf("workers mismatch (-want +got):\n%s", diff)
	}
}

// TestClassify_NoCompleter exercises the deterministic path without any model.
func TestClassify_NoCompleter(t *testing.T) {
	c := NewClassifier(nil, nil)
	got := c.Classify(context.Background(), "帮我整理下载文件夹", []memory.Turn{{Role: memory.RoleUser, Text: "earlier"}})

	want := Record{
		RawInput:        "帮我整理下载文件夹",
		Goal:            "帮我整理下载文件夹",
		Entities:        map[string][]string{},
		Priority:        PriorityMedium,
		RequiredWorkers: []string{"file"},
		Confidence:      FallbackConfidence,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Classify mismatch (-want +got):\n%s", diff)
	}
}

func TestClassify_EmptyInputSkipsModel(t *testing.T) {
	mock := &mockCompleter{response: `{}`}
	c := NewClassifier(mock, nil)
	got := c.Classify(context.Background(), "", nil)
	if mock.calls != 0 {
		t.Errorf("completer called %d times for empty input", mock.calls)
	}
	if got.RequiredWorkers[0] != FallbackWorker {
		t.Errorf("workers = %v", got.RequiredWorkers)
	}
}
