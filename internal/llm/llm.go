package llm

import "context"

// Completer is the text-completion collaborator. Callers must treat any
// returned error as recoverable.
type Completer interface {
	Complete(ctx context.Context, messages []Message, p Params) (string, error)
}

// Backend is a Completer whose models can be inspected and pulled.
type Backend interface {
	Completer

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// Params are per-call sampling parameters. A zero MaxTokens leaves the
// backend default. When Schema is non-nil structured JSON output is requested.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Schema      *Schema
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt builds the common system + user message pair.
func Prompt(system, user string) []Message {
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// Schema describes the expected JSON output structure for structured responses.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type                 string          `json:"type"`
	Description          string          `json:"description,omitempty"`
	Items                *SchemaProperty `json:"items,omitempty"`
	Enum                 []string        `json:"enum,omitempty"`
	AdditionalProperties *SchemaProperty `json:"additionalProperties,omitempty"`
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// TemporaryError is implemented by backend errors that may succeed on retry.
type TemporaryError interface {
	Temporary() bool
}
