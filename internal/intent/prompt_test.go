package intent

import (
	"strings"
	"testing"

	"github.com/kalambet/orca/internal/memory"
)

func TestPromptContainsInstructions(t *testing.T) {
	messages := BuildPrompt("test query", nil, []string{"file", "knowledge"})

	system := messages[0].Content
	if !strings.Contains(system, "intent classifier") {
		t.Error("system prompt does not contain role instruction")
	}
	if !strings.Contains(system, `"file": organize folders`) {
		t.Error("system prompt does not describe the file worker")
	}
	if strings.Contains(system, `"email"`) {
		t.Error("system prompt lists a worker that is not registered")
	}
	if !strings.Contains(system, "required_workers") {
		t.Error("system prompt does not explain required_workers")
	}
}

func TestPromptHistory(t *testing.T) {
	history := []memory.Turn{
		{Role: memory.RoleUser, Text: "first message"},
		{Role: memory.RoleAssistant, Text: "first reply"},
		{Role: memory.RoleUser, Text: "second message"},
	}

	messages := BuildPrompt("current query", history, []string{"knowledge"})

	// system + 3 history + 1 user query = 5
	if len(messages) != 5 {
		t.Fatalf("got %d messages, want 5", len(messages))
	}
	if messages[2].Role != "assistant" || messages[2].Content != "first reply" {
		t.Errorf("messages[2] = %+v", messages[2])
	}
	if messages[4].Content != "current query" {
		t.Errorf("messages[4].Content = %q, want %q", messages[4].Content, "current query")
	}
}

func TestResponseSchemaRestrictsWorkers(t *testing.T) {
	s := responseSchema([]string{"file", "doc"})
	items := s.Properties["required_workers"].Items
	if items == nil || len(items.Enum) != 2 {
		t.Fatalf("required_workers items = %+v", items)
	}
}
