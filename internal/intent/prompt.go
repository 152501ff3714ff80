package intent

import (
	"fmt"
	"strings"

	"github.com/kalambet/orca/internal/llm"
	"github.com/kalambet/orca/internal/memory"
)

const systemPromptTemplate = `You are the intent classifier of a personal assistant that routes requests to specialised workers. Analyze the user's request and conversation history. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Workers:
%s

Rules:
- required_workers lists every worker needed, most important first, using only the ids above.
- Extract entities into the keys "person", "time", "file" and "other".
- priority is one of "high", "medium", "low".
- confidence is a number between 0 and 1.`

var workerDescriptions = map[string]string{
	"email":     "read, classify, reply to and archive email",
	"doc":       "load, convert, summarize and compare documents",
	"schedule":  "read the calendar, create events, suggest meeting times",
	"data":      "load tabular data, analyze it, draw charts",
	"file":      "organize folders, find duplicates, search files, analyze disk usage, clean temp files",
	"knowledge": "answer questions from stored knowledge and index new knowledge",
}

// BuildPrompt constructs the chat messages for intent classification.
func BuildPrompt(input string, history []memory.Turn, workers []string) []llm.Message {
	var list strings.Builder
	for _, id := range workers {
		desc := workerDescriptions[id]
		if desc == "" {
			desc = id
		}
		fmt.Fprintf(&list, "- %q: %s\n", id, desc)
	}

	messages := []llm.Message{
		{Role: "system", Content: fmt.Sprintf(systemPromptTemplate, strings.TrimRight(list.String(), "\n"))},
	}
	for _, t := range history {
		messages = append(messages, llm.Message{Role: string(t.Role), Content: t.Text})
	}
	messages = append(messages, llm.Message{Role: "user", Content: input})
	return messages
}

// responseSchema returns the JSON schema for structured classifier output.
func responseSchema(workers []string) *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"inferred_goal": {Type: "string", Description: "One sentence describing what the user wants"},
			"entities": {
				Type:                 "object",
				Description:          "Entities keyed by type: person, time, file, other",
				AdditionalProperties: &llm.SchemaProperty{Type: "array", Items: &llm.SchemaProperty{Type: "string"}},
			},
			"priority":         {Type: "string", Enum: []string{"high", "medium", "low"}},
			"required_workers": {Type: "array", Items: &llm.SchemaProperty{Type: "string", Enum: workers}},
			"confidence":       {Type: "number", Description: "Confidence between 0 and 1"},
		},
		Required: []string{"inferred_goal", "entities", "priority", "required_workers", "confidence"},
	}
}
