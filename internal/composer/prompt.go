// Package composer assembles model prompts from scored knowledge sources
// under a token budget.
package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/orca/internal/llm"
)

const defaultMaxContextTokens = 2000

// Source is one piece of context offered to the model.
type Source struct {
	Label string
	Text  string
	Score float64
}

// Composer builds a system+user prompt, injecting the preferences summary and
// as many sources as fit in MaxContextTokens.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (2000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose returns the messages for question. The enrichment block is
// appended to system; sources that do not fit the budget are dropped
// lowest-score first. The second return value is the number of sources
// included.
func (c *Composer) Compose(system, question string, sources []Source, preferences string) ([]llm.Message, int) {
	enrichment, used := c.buildEnrichment(sources, preferences)

	sys := system
	if enrichment != "" {
		sys = system + "\n\n---\n\n" + enrichment
	}
	return llm.Prompt(sys, "Question: "+question), used
}

// buildEnrichment constructs the context block from preferences and sources,
// respecting the token budget by dropping lowest-scoring sources first.
func (c *Composer) buildEnrichment(sources []Source, preferences string) (string, int) {
	var sb strings.Builder

	if preferences != "" {
		sb.WriteString("[User Preferences]\n")
		sb.WriteString(preferences)
	}

	if len(sources) == 0 {
		return sb.String(), 0
	}

	sorted := make([]Source, len(sources))
	copy(sorted, sources)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	header := "\n\n[Knowledge Entries]\n"
	if sb.Len() == 0 {
		header = "[Knowledge Entries]\n"
	}
	remaining := c.MaxContextTokens - EstimateTokens(sb.String()) - EstimateTokens(header)

	var selected []string
	for _, s := range sorted {
		entry := formatSource(s)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}

	if len(selected) > 0 {
		sb.WriteString(header)
		for _, entry := range selected {
			sb.WriteString(entry)
		}
	}
	return sb.String(), len(selected)
}

func formatSource(s Source) string {
	return fmt.Sprintf("(Score: %.2f, Source: %s)\n%s\n\n", s.Score, s.Label, s.Text)
}

// EstimateTokens provides a rough token count using 4 bytes per token.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
