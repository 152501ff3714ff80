package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/orca/internal/memory"
	"github.com/kalambet/orca/internal/orchestrator"
	"github.com/kalambet/orca/internal/worker"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	defaultTurns       = 20
	maxTurns           = 500
)

// Processor runs requests and exposes read-only introspection.
type Processor interface {
	ProcessRequest(ctx context.Context, input string) orchestrator.Response
	Stats() memory.Stats
	Workers() []worker.Descriptor
}

// KnowledgeBase is the memory surface exposed over HTTP and MCP.
type KnowledgeBase interface {
	SaveKnowledge(category, key string, value any) error
	GetKnowledge(category, key string) (any, bool)
	DeleteKnowledge(category, key string) error
	SearchKnowledge(keyword, category string) []memory.Entry
	RecentTurns(n int) []memory.Turn
	Export() memory.Export
}

// Deps holds what the HTTP handler needs.
type Deps struct {
	Processor Processor
	Memory    KnowledgeBase
	Token     string
}

// RequestBody is the payload of POST /v1/requests.
type RequestBody struct {
	Input string `json:"input"`
}

// NewHandler returns the HTTP API. /health is always public; everything
// under /v1 requires the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/requests", handleProcessRequest(deps))
		r.Get("/stats", handleStats(deps))
		r.Get("/workers", handleWorkers(deps))
		r.Get("/turns", handleTurns(deps))
		r.Get("/export", handleExport(deps))
		r.Get("/knowledge", handleSearchKnowledge(deps))
		r.Get("/knowledge/{category}/{key}", handleGetKnowledge(deps))
		r.Put("/knowledge/{category}/{key}", handlePutKnowledge(deps))
		r.Delete("/knowledge/{category}/{key}", handleDeleteKnowledge(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleProcessRequest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req RequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Input) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "input is required")
			return
		}

		resp := deps.Processor.ProcessRequest(r.Context(), req.Input)
		slog.Debug("request handled", "task_id", resp.TaskID, "status", resp.Status, "subtasks", resp.SubtaskCount)
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Processor.Stats())
	}
}

func handleWorkers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Processor.Workers())
	}
}

func handleTurns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := parseIntParam(r, "n", defaultTurns, maxTurns)
		writeJSON(w, http.StatusOK, deps.Memory.RecentTurns(n))
	}
}

func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Memory.Export())
	}
}

func handleSearchKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		writeJSON(w, http.StatusOK, deps.Memory.SearchKnowledge(q.Get("q"), q.Get("category")))
	}
}

func handleGetKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category, key := chi.URLParam(r, "category"), chi.URLParam(r, "key")
		v, ok := deps.Memory.GetKnowledge(category, key)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "knowledge %s/%s not found", category, key)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"category": category, "key": key, "value": v})
	}
}

func handlePutKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var body struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(body.Value) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "value is required")
			return
		}
		var value any
		if err := json.Unmarshal(body.Value, &value); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid value: %v", err)
			return
		}

		category, key := chi.URLParam(r, "category"), chi.URLParam(r, "key")
		writeMutation(w, deps.Memory.SaveKnowledge(category, key, value))
	}
}

func handleDeleteKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category, key := chi.URLParam(r, "category"), chi.URLParam(r, "key")
		if err := deps.Memory.DeleteKnowledge(category, key); err != nil {
			writeMutation(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeMutation reports a knowledge write. A persistence failure still
// answers 200 because the in-memory change took effect.
func writeMutation(w http.ResponseWriter, err error) {
	var perr *memory.PersistenceError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"persisted": true})
	case errors.As(err, &perr):
		slog.Warn("knowledge change not persisted", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"persisted": false, "error": err.Error()})
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
