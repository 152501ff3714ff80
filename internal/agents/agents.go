// Package agents contains the domain workers the orchestrator dispatches to.
// Each worker exposes a fixed table of operations; parameters arrive in the
// Subtask's input parameters.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/orca/internal/llm"
	"github.com/kalambet/orca/internal/memory"
	"github.com/kalambet/orca/internal/worker"
)

// KnowledgeStore is the slice of the memory store workers read and write.
type KnowledgeStore interface {
	SaveKnowledge(category, key string, value any) error
	GetKnowledge(category, key string) (any, bool)
	SearchKnowledge(keyword, category string) []memory.Entry
}

// Knowledge categories owned by workers. Preferences are read into
// knowledge answers.
const (
	CategoryDocuments   = "documents"
	CategoryCalendar    = "calendar"
	CategoryDrafts      = "email_drafts"
	CategoryPreferences = "preferences"
)

// Deps are the collaborators shared by the default worker set.
type Deps struct {
	Store     KnowledgeStore
	Completer llm.Completer // optional
	Model     string
	Mailbox   Mailbox // optional
	Logger    *slog.Logger
}

// Default returns one instance of every built-in worker.
func Default(d Deps) []worker.Worker {
	workers := []worker.Worker{
		NewFileWorker(),
		NewDocWorker(),
		NewDataWorker(),
		NewEmailWorker(d.Mailbox, d.Store),
		NewScheduleWorker(d.Store),
		NewKnowledgeWorker(d.Store, d.Completer, d.Model),
	}
	if d.Logger != nil {
		for _, w := range workers {
			if ls, ok := w.(interface{ setLogger(*slog.Logger) }); ok {
				ls.setLogger(d.Logger)
			}
		}
	}
	return workers
}

// base implements the Worker interface over a handler table.
type base struct {
	id       string
	handlers worker.Handlers
	logger   *slog.Logger
}

func (b *base) ID() string { return b.id }

func (b *base) setLogger(l *slog.Logger) { b.logger = l }

func (b *base) Kinds() []worker.OperationKind { return b.handlers.Kinds() }

func (b *base) Execute(ctx context.Context, st worker.Subtask) worker.Outcome {
	b.logger.Info("executing subtask", "worker", b.id, "subtask", st.ID, "kind", st.Kind)
	return b.handlers.Run(ctx, b.id, st)
}

// expandPath resolves a leading ~ to the user's home directory.
func expandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
	}
	return p, nil
}

// decode converts a JSON-normalised knowledge value back into out.
func decode(v any, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// now is overridden in tests.
var now = time.Now
