package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"github.com/kalambet/orca/internal/llm"
	"github.com/kalambet/orca/internal/memory"
)

const classificationTimeout = 3 * time.Second

// Classifier turns raw user input into a Record. It uses the completion
// model when one is configured and falls back to keyword routing otherwise.
type Classifier struct {
	completer llm.Completer
	rules     []Rule
	known     []string
	timeout   time.Duration
}

// NewClassifier creates a Classifier. A nil completer always takes the
// keyword path. known lists the worker ids the model may propose; when empty
// every worker in DefaultKeywords is allowed.
func NewClassifier(completer llm.Completer, known []string) *Classifier {
	if len(known) == 0 {
		known = Workers(DefaultKeywords)
	}
	return &Classifier{
		completer: completer,
		rules:     DefaultKeywords,
		known:     known,
		timeout:   classificationTimeout,
	}
}

// Classify never fails: on a model error, timeout or unparseable response it
// returns the keyword fallback with FallbackConfidence.
func (c *Classifier) Classify(ctx context.Context, input string, history []memory.Turn) Record {
	if input == "" || c.completer == nil {
		return c.Fallback(input)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.completer.Complete(ctx, BuildPrompt(input, history, c.known), llm.Params{
		MaxTokens: 512,
		Schema:    responseSchema(c.known),
	})
	if err != nil {
		slog.Warn("intent classification failed", "error", err)
		return c.Fallback(input)
	}

	var resp response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		slog.Warn("failed to unmarshal intent from model response", "error", err, "response", raw)
		return c.Fallback(input)
	}
	return c.fromResponse(input, resp)
}

// Fallback builds a Record from the keyword table alone.
func (c *Classifier) Fallback(input string) Record {
	return Record{
		RawInput:        input,
		Goal:            input,
		Entities:        ExtractEntities(input),
		Priority:        PriorityMedium,
		RequiredWorkers: Route(input, c.rules),
		Confidence:      FallbackConfidence,
	}
}

func (c *Classifier) fromResponse(input string, resp response) Record {
	rec := Record{
		RawInput:   input,
		Goal:       resp.Goal,
		Entities:   mergeEntities(resp.Entities, ExtractEntities(input)),
		Priority:   resp.Priority,
		Confidence: min(max(resp.Confidence, 0), 1),
	}
	if rec.Goal == "" {
		rec.Goal = input
	}
	if !rec.Priority.valid() {
		rec.Priority = PriorityMedium
	}

	for _, id := range resp.RequiredWorkers {
		if slices.Contains(c.known, id) && !slices.Contains(rec.RequiredWorkers, id) {
			rec.RequiredWorkers = append(rec.RequiredWorkers, id)
		} else if !slices.Contains(c.known, id) {
			slog.Debug("dropping unknown worker proposed by model", "worker", id)
		}
	}
	if len(rec.RequiredWorkers) == 0 {
		rec.RequiredWorkers = Route(input, c.rules)
	}
	return rec
}

func mergeEntities(a, b map[string][]string) map[string][]string {
	out := make(map[string][]string, len(a)+len(b))
	for _, m := range []map[string][]string{a, b} {
		for typ, values := range m {
			for _, v := range values {
				if v != "" && !slices.Contains(out[typ], v) {
					out[typ] = append(out[typ], v)
				}
			}
		}
	}
	return out
}
