package agents

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/kalambet/orca/internal/composer"
	"github.com/kalambet/orca/internal/llm"
	"github.com/kalambet/orca/internal/memory"
	"github.com/kalambet/orca/internal/worker"
)

const (
	maxSources      = 5
	qaTemperature   = 0.2
	qaMaxTokens     = 512
	qaTimeout       = 30 * time.Second
	sourceCharLimit = 500
	promptCharLimit = 2000
)

const qaSystemPrompt = `You answer questions using only the knowledge entries provided.
If the entries do not contain the answer, say so briefly. Answer in the language of the question.`

// IndexedDocument is the value stored for each indexed document.
type IndexedDocument struct {
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IndexedAt time.Time      `json:"indexed_at"`
}

// KnowledgeWorker answers questions from, and indexes into, long-term memory.
type KnowledgeWorker struct {
	base
	store     KnowledgeStore
	completer llm.Completer
	model     string
	composer  *composer.Composer
}

// NewKnowledgeWorker creates the knowledge worker. completer may be nil, in
// which case qa returns the best matching entries without a generated answer.
func NewKnowledgeWorker(store KnowledgeStore, completer llm.Completer, model string) *KnowledgeWorker {
	w := &KnowledgeWorker{
		base:      base{id: worker.Knowledge, logger: slog.Default()},
		store:     store,
		completer: completer,
		model:     model,
		composer:  composer.New(0),
	}
	w.handlers = worker.Handlers{
		worker.QA:    w.qa,
		worker.Index: w.index,
	}
	return w
}

// searchTerms splits a question into lookup terms. Runs of Han characters
// are kept whole and also split into bigrams so CJK questions match
// substrings of stored values.
func searchTerms(question string) []string {
	seen := map[string]bool{}
	var terms []string
	add := func(t string) {
		t = strings.ToLower(t)
		if len([]rune(t)) < 2 || seen[t] {
			return
		}
		seen[t] = true
		terms = append(terms, t)
	}

	words := strings.FieldsFunc(question, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '_' && r != '-'
	})
	for _, word := range words {
		var han, other []rune
		flush := func() {
			if len(han) > 0 {
				add(string(han))
				for i := 0; i+1 < len(han); i++ {
					add(string(han[i : i+2]))
				}
				han = han[:0]
			}
			if len(other) > 0 {
				add(string(other))
				other = other[:0]
			}
		}
		for _, r := range word {
			if unicode.Is(unicode.Han, r) {
				if len(other) > 0 {
					flush()
				}
				han = append(han, r)
			} else {
				if len(han) > 0 {
					flush()
				}
				other = append(other, r)
			}
		}
		flush()
	}
	return terms
}

// Match is a knowledge entry with the number of question terms it matched.
type Match struct {
	memory.Entry
	Score int `json:"score"`
}

// Lookup ranks knowledge entries by how many question terms they match.
func (w *KnowledgeWorker) Lookup(question, category string, limit int) []Match {
	scores := map[[2]string]*Match{}
	for _, term := range searchTerms(question) {
		for _, e := range w.store.SearchKnowledge(term, category) {
			if e.Category == memory.ArchivedTasksCategory && category == "" {
				continue
			}
			k := [2]string{e.Category, e.Key}
			if s, ok := scores[k]; ok {
				s.Score++
				continue
			}
			scores[k] = &Match{Entry: e, Score: 1}
		}
	}

	out := make([]Match, 0, len(scores))
	for _, s := range scores {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b Match) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			b.Timestamp.Compare(a.Timestamp),
			cmp.Compare(a.Category, b.Category),
			cmp.Compare(a.Key, b.Key),
		)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (w *KnowledgeWorker) qa(ctx context.Context, st worker.Subtask) worker.Outcome {
	question := strings.TrimSpace(worker.String(st.Params, "question", ""))
	if question == "" {
		return worker.Failure("qa: question is required")
	}
	sources := w.Lookup(question, worker.String(st.Params, "category", ""), maxSources)

	if len(sources) == 0 {
		return worker.Success(map[string]any{
			"answer":  "No stored knowledge matches this question.",
			"sources": sources,
		})
	}
	if w.completer == nil {
		return worker.Success(map[string]any{
			"answer":  renderSources(sources),
			"sources": sources,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, qaTimeout)
	defer cancel()
	messages, used := w.composer.Compose(qaSystemPrompt, question, composerSources(sources), w.preferences())
	w.logger.Debug("qa prompt composed", "sources", len(sources), "included", used)
	answer, err := w.completer.Complete(ctx, messages, llm.Params{
		Model:       w.model,
		Temperature: qaTemperature,
		MaxTokens:   qaMaxTokens,
	})
	if err != nil {
		w.logger.Warn("knowledge answer generation failed", "error", err)
		return worker.FromError(fmt.Errorf("qa: generating answer: %w", err))
	}
	return worker.Success(map[string]any{
		"answer":  strings.TrimSpace(answer),
		"sources": sources,
	})
}

func composerSources(matches []Match) []composer.Source {
	out := make([]composer.Source, len(matches))
	for i, m := range matches {
		out[i] = composer.Source{
			Label: m.Category + "/" + m.Key,
			Text:  Summarize(entryText(m.Value), promptCharLimit),
			Score: float64(m.Score),
		}
	}
	return out
}

// preferences renders the preferences category as "key: value" lines.
func (w *KnowledgeWorker) preferences() string {
	var sb strings.Builder
	for _, e := range w.store.SearchKnowledge("", CategoryPreferences) {
		fmt.Fprintf(&sb, "%s: %s\n", e.Key, entryText(e.Value))
	}
	return strings.TrimSpace(sb.String())
}

// entryText prefers the content field of stored documents.
func entryText(v any) string {
	if doc, ok := v.(map[string]any); ok {
		if c, ok := doc["content"].(string); ok {
			return c
		}
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func renderSources(sources []Match) string {
	var sb strings.Builder
	for i, s := range sources {
		v := Summarize(entryText(s.Value), sourceCharLimit)
		fmt.Fprintf(&sb, "%d. [%s/%s] %s\n", i+1, s.Category, s.Key, v)
	}
	return sb.String()
}

func (w *KnowledgeWorker) index(_ context.Context, st worker.Subtask) worker.Outcome {
	content := strings.TrimSpace(worker.String(st.Params, "content", ""))
	if content == "" {
		return worker.Failure("index: content is required")
	}
	doc := IndexedDocument{Content: content, IndexedAt: now().UTC()}
	if md, ok := st.Params["metadata"].(map[string]any); ok {
		doc.Metadata = md
	}

	id := worker.String(st.Params, "document_id", uuid.NewString())
	persisted := true
	if err := w.store.SaveKnowledge(CategoryDocuments, id, doc); err != nil {
		var perr *memory.PersistenceError
		if !errors.As(err, &perr) {
			return worker.Failure("index: %v", err)
		}
		w.logger.Warn("document indexed in memory only", "document", id, "error", err)
		persisted = false
	}
	return worker.Success(map[string]any{"document_ids": []string{id}, "persisted": persisted})
}
