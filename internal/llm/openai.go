package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAICompleter talks to any OpenAI-compatible chat completions endpoint.
type OpenAICompleter struct {
	client openai.Client
}

// NewOpenAICompleter creates a completer for baseURL. An empty baseURL uses
// the public OpenAI endpoint. Extra request options (retries, HTTP client)
// may be appended.
func NewOpenAICompleter(baseURL, apiKey string, opts ...option.RequestOption) *OpenAICompleter {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &OpenAICompleter{client: openai.NewClient(reqOpts...)}
}

var roleMap = map[string]func(string) openai.ChatCompletionMessageParamUnion{
	"system":    openai.SystemMessage[string],
	"user":      openai.UserMessage[string],
	"assistant": openai.AssistantMessage[string],
}

func (o *OpenAICompleter) Complete(ctx context.Context, messages []Message, p Params) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		build, ok := roleMap[m.Role]
		if !ok {
			build = openai.UserMessage[string]
		}
		msgs = append(msgs, build(m.Content))
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.Model),
		Messages:    msgs,
		Temperature: openai.Float(p.Temperature),
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
	}
	if p.Schema != nil {
		schema, err := schemaMap(p.Schema)
		if err != nil {
			return "", err
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response",
					Schema: schema,
				},
			},
		}
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &statusError{code: apiErr.StatusCode, err: err}
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

func schemaMap(s *Schema) (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	return m, nil
}

type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string { return fmt.Sprintf("chat completion: status %d: %v", e.code, e.err) }
func (e *statusError) Unwrap() error { return e.err }

func (e *statusError) Temporary() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}
