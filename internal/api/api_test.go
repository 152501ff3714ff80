package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/orca/internal/memory"
	"github.com/kalambet/orca/internal/orchestrator"
	"github.com/kalambet/orca/internal/storage"
	"github.com/kalambet/orca/internal/worker"
)

// --- mocks shared by the HTTP and MCP tests ---

type mockProcessor struct {
	resp   orchestrator.Response
	inputs []string
	stats  memory.Stats
}

func (m *mockProcessor) ProcessRequest(_ context.Context, input string) orchestrator.Response {
	m.inputs = append(m.inputs, input)
	return m.resp
}

func (m *mockProcessor) Stats() memory.Stats { return m.stats }

func (m *mockProcessor) Workers() []worker.Descriptor {
	return []worker.Descriptor{
		{ID: "email", Kinds: []worker.OperationKind{"read_emails", "reply"}},
		{ID: "file", Kinds: []worker.OperationKind{"organize"}},
	}
}

// brokenPersister loads nothing and fails every write.
type brokenPersister struct{}

func (brokenPersister) LoadKnowledge() ([]storage.KnowledgeRow, error) { return nil, nil }
func (brokenPersister) PutKnowledge(string, string, any, time.Time) error {
	return errors.New("disk full")
}
func (brokenPersister) DeleteKnowledge(string, string) error { return errors.New("disk full") }
func (brokenPersister) DeleteCategory(string) (int64, error) { return 0, errors.New("disk full") }

func newMemory(t *testing.T, p memory.KnowledgePersister) *memory.Store {
	t.Helper()
	m, err := memory.New(p, 0)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	return m
}
