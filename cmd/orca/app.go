package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/orca/internal/agents"
	"github.com/kalambet/orca/internal/config"
	"github.com/kalambet/orca/internal/intent"
	"github.com/kalambet/orca/internal/llm"
	"github.com/kalambet/orca/internal/memory"
	"github.com/kalambet/orca/internal/orchestrator"
	"github.com/kalambet/orca/internal/storage"
	"github.com/kalambet/orca/internal/worker"
)

const classifierTemperature = 0.1

// app is the wired object graph shared by serve and ask.
type app struct {
	store    *storage.Store
	memory   *memory.Store
	registry *worker.Registry
	orch     *orchestrator.Orchestrator
	cache    *llm.Cache
}

type appOptions struct {
	// offline skips the completion backend; classification uses keywords only.
	offline bool
	// warmup checks the backend and pulls the model, writing progress to w.
	warmup bool
	w      io.Writer
}

func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}

func buildApp(ctx context.Context, cfg config.Config, opts appOptions) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	mem, err := memory.New(store, cfg.Memory.MaxTurns)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading memory: %w", err)
	}

	a := &app{store: store, memory: mem}

	var completer llm.Completer
	if !opts.offline {
		backend, err := llm.Detect(llm.DetectConfig{
			Backend:       cfg.LLM.Backend,
			OllamaBaseURL: cfg.Ollama.BaseURL,
			OpenAIBaseURL: cfg.OpenAI.BaseURL,
			OpenAIAPIKey:  cfg.OpenAI.APIKey,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("detecting llm backend: %w", err)
		}
		if b, ok := backend.(llm.Backend); ok && opts.warmup {
			w := opts.w
			if w == nil {
				w = io.Discard
			}
			if err := llm.EnsureReady(ctx, b, cfg.ClassifierModel(), w); err != nil {
				slog.Warn("llm backend not ready, classification falls back to keywords on failure", "error", err)
			}
		}
		a.cache = llm.NewCache(backend)
		completer = a.cache.Get(cfg.ClassifierModel(), classifierTemperature)
	}

	workers := agents.Default(agents.Deps{
		Store:     mem,
		Completer: completer,
		Model:     cfg.ClassifierModel(),
		Logger:    slog.Default(),
	})
	registry, err := worker.NewRegistry(workers...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("registering workers: %w", err)
	}
	a.registry = registry

	a.orch = orchestrator.New(mem, intent.NewClassifier(completer, registry.IDs()), registry, orchestrator.Config{
		Timeout:        cfg.Request.Timeout,
		MaxConcurrency: cfg.Dispatch.MaxConcurrency,
		MaxRetries:     cfg.Dispatch.MaxRetries,
		Ordering:       cfg.Dispatch.Ordering,
	})
	return a, nil
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.ClearCache()
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}
