package agents

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/kalambet/orca/internal/llm"
	"github.com/kalambet/orca/internal/memory"
	"github.com/kalambet/orca/internal/worker"
)

type mockCompleter struct {
	answer   string
	err      error
	messages []llm.Message
	params   llm.Params
}

func (m *mockCompleter) Complete(_ context.Context, msgs []llm.Message, p llm.Params) (string, error) {
	m.messages = msgs
	m.params = p
	return m.answer, m.err
}

type temporaryErr struct{}

func (temporaryErr) Error() string   { return "model overloaded" }
func (temporaryErr) Temporary() bool { return true }

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	s := newStore(t)
	for _, kv := range []struct {
		cat, key string
		val      any
	}{
		{"prefs", "editor", "Alice prefers vim keybindings"},
		{"projects", "orca", map[string]any{"content": "Orca routes requests to workers", "owner": "alice"}},
		{"contacts", "bob", "Bob works on billing"},
		{memory.ArchivedTasksCategory, "t1", "vim request archived"},
	} {
		if err := s.SaveKnowledge(kv.cat, kv.key, kv.val); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestSearchTerms(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Which editor does Alice use?", []string{"which", "editor", "does", "alice", "use"}},
		{"a b", nil},
		{"会议纪要", []string{"会议纪要", "会议", "议纪", "纪要"}},
		{"查询orca项目", []string{"查询", "orca", "项目"}},
	}
	for _, tt := range tests {
		if got := searchTerms(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("searchTerms(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLookup_RanksByTermHits(t *testing.T) {
	w := NewKnowledgeWorker(seededStore(t), nil, "")
	got := w.Lookup("alice vim", "", 5)

	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2 (archived tasks excluded): %+v", len(got), got)
	}
	if got[0].Key != "editor" || got[0].Score != 2 {
		t.Errorf("top match = %+v, want prefs/editor with 2 hits", got[0])
	}
	if got[1].Key != "orca" {
		t.Errorf("second match = %+v", got[1])
	}
}

func TestQA_WithoutCompleter(t *testing.T) {
	w := NewKnowledgeWorker(seededStore(t), nil, "")
	res := mustSucceed(t, w.Execute(t.Context(), subtask(worker.QA, map[string]any{"question": "who works on billing?"})))
	if !strings.Contains(res["answer"].(string), "Bob works on billing") {
		t.Errorf("answer = %q", res["answer"])
	}

	res = mustSucceed(t, w.Execute(t.Context(), subtask(worker.QA, map[string]any{"question": "quantum chromodynamics"})))
	if len(res["sources"].([]Match)) != 0 || !strings.Contains(res["answer"].(string), "No stored knowledge") {
		t.Errorf("no-match result = %+v", res)
	}

	mustFail(t, w.Execute(t.Context(), subtask(worker.QA, nil)), false)
}

func TestQA_WithCompleter(t *testing.T) {
	c := &mockCompleter{answer: "  Alice uses vim.  "}
	w := NewKnowledgeWorker(seededStore(t), c, "qwen2.5")

	res := mustSucceed(t, w.Execute(t.Context(), subtask(worker.QA, map[string]any{"question": "Which editor does Alice use?"})))
	if res["answer"] != "Alice uses vim." {
		t.Errorf("answer = %q", res["answer"])
	}
	if c.params.Model != "qwen2.5" || c.params.Temperature != qaTemperature {
		t.Errorf("params = %+v", c.params)
	}
	if len(c.messages) != 2 {
		t.Fatalf("prompt = %+v", c.messages)
	}
	if sys := c.messages[0].Content; !strings.Contains(sys, "Source: projects/orca)\nOrca routes requests") {
		t.Errorf("system prompt missing source:\n%s", sys)
	}
	if !strings.Contains(c.messages[1].Content, "Which editor does Alice use?") {
		t.Errorf("user prompt = %q", c.messages[1].Content)
	}
}

func TestQA_PreferencesInPrompt(t *testing.T) {
	store := seededStore(t)
	if err := store.SaveKnowledge(CategoryPreferences, "language", "answer in English"); err != nil {
		t.Fatal(err)
	}
	c := &mockCompleter{answer: "vim"}
	w := NewKnowledgeWorker(store, c, "m")

	mustSucceed(t, w.Execute(t.Context(), subtask(worker.QA, map[string]any{"question": "Which editor does Alice use?"})))
	if !strings.Contains(c.messages[0].Content, "[User Preferences]\nlanguage: answer in English") {
		t.Errorf("system prompt missing preferences:\n%s", c.messages[0].Content)
	}
}

func TestQA_CompleterErrors(t *testing.T) {
	w := NewKnowledgeWorker(seededStore(t), &mockCompleter{err: temporaryErr{}}, "m")
	mustFail(t, w.Execute(t.Context(), subtask(worker.QA, map[string]any{"question": "alice"})), true)

	w = NewKnowledgeWorker(seededStore(t), &mockCompleter{err: context.Canceled}, "m")
	mustFail(t, w.Execute(t.Context(), subtask(worker.QA, map[string]any{"question": "alice"})), false)
}

func TestIndex(t *testing.T) {
	store := newStore(t)
	w := NewKnowledgeWorker(store, nil, "")

	res := mustSucceed(t, w.Execute(t.Context(), subtask(worker.Index, map[string]any{
		"content":  "The VPN password rotates monthly",
		"metadata": map[string]any{"source": "it-handbook"},
	})))
	ids := res["document_ids"].([]string)
	if len(ids) != 1 || res["persisted"] != true {
		t.Fatalf("result = %+v", res)
	}
	if _, ok := store.GetKnowledge(CategoryDocuments, ids[0]); !ok {
		t.Fatal("document not indexed")
	}

	// Indexed documents are answerable.
	qa := mustSucceed(t, w.Execute(t.Context(), subtask(worker.QA, map[string]any{"question": "vpn password"})))
	if !strings.Contains(qa["answer"].(string), "rotates monthly") {
		t.Errorf("answer = %q", qa["answer"])
	}

	mustFail(t, w.Execute(t.Context(), subtask(worker.Index, map[string]any{"content": "   "})), false)
}
