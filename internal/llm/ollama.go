package llm

import (
	"context"

	"github.com/kalambet/orca/internal/ollama"
)

// OllamaCompleter adapts the internal/ollama.Client to the Backend interface.
type OllamaCompleter struct {
	client *ollama.Client
}

// NewOllamaCompleter creates an OllamaCompleter backed by an Ollama server at baseURL.
func NewOllamaCompleter(baseURL string) *OllamaCompleter {
	return &OllamaCompleter{client: ollama.New(baseURL)}
}

func (o *OllamaCompleter) Complete(ctx context.Context, messages []Message, p Params) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	var s *ollama.Schema
	if p.Schema != nil {
		s = &ollama.Schema{
			Type:     p.Schema.Type,
			Required: p.Schema.Required,
		}
		if p.Schema.Properties != nil {
			s.Properties = make(map[string]ollama.SchemaProperty, len(p.Schema.Properties))
			for k, v := range p.Schema.Properties {
				s.Properties[k] = toOllamaProperty(v)
			}
		}
	}

	opts := &ollama.Options{Temperature: p.Temperature, NumPredict: p.MaxTokens}
	return o.client.Chat(ctx, p.Model, msgs, s, opts)
}

func toOllamaProperty(v SchemaProperty) ollama.SchemaProperty {
	out := ollama.SchemaProperty{Type: v.Type, Description: v.Description, Enum: v.Enum}
	if v.Items != nil {
		items := toOllamaProperty(*v.Items)
		out.Items = &items
	}
	if v.AdditionalProperties != nil {
		ap := toOllamaProperty(*v.AdditionalProperties)
		out.AdditionalProperties = &ap
	}
	return out
}

func (o *OllamaCompleter) IsRunning(ctx context.Context) bool {
	return o.client.IsRunning(ctx)
}

func (o *OllamaCompleter) HasModel(ctx context.Context, name string) bool {
	return o.client.HasModel(ctx, name)
}

func (o *OllamaCompleter) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return o.client.PullModel(ctx, name, cb)
}
