package llm

import (
	"context"
	"fmt"
	"io"
	"time"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend       string // "ollama" (default) or "openai"
	OllamaBaseURL string
	OpenAIBaseURL string
	OpenAIAPIKey  string
}

// Detect returns the completion backend selected by cfg.
func Detect(cfg DetectConfig) (Completer, error) {
	switch cfg.Backend {
	case "", "ollama":
		return NewOllamaCompleter(cfg.OllamaBaseURL), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("openai backend requires an API key or a base URL")
		}
		return NewOpenAICompleter(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}

// EnsureReady checks that the backend is reachable and the model is
// available, pulling it with progress written to w when missing. The model
// is then warmed with a trivial completion; a failed warm-up is reported
// but not fatal.
func EnsureReady(ctx context.Context, b Backend, model string, w io.Writer) error {
	if !b.IsRunning(ctx) {
		return fmt.Errorf("local inference engine is not running; start it with: ollama serve")
	}

	if b.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: ready\n", model)
	} else {
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := b.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := b.Complete(warmCtx, []Message{{Role: "user", Content: "ping"}}, Params{Model: model, MaxTokens: 1}); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", model, err)
	} else {
		fmt.Fprintf(w, "model %s: warm\n", model)
	}
	return nil
}
