// Package orchestrator runs a user request end to end: classify, decompose,
// dispatch, aggregate, remember.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/orca/internal/dispatch"
	"github.com/kalambet/orca/internal/intent"
	"github.com/kalambet/orca/internal/memory"
	"github.com/kalambet/orca/internal/planner"
	"github.com/kalambet/orca/internal/worker"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	defaultContextTurns = 10
	noResults           = "No results were produced."
)

// Memory is the part of the memory store the orchestrator uses.
type Memory interface {
	AppendTurn(role memory.Role, text string, metadata map[string]any) error
	RecentTurns(n int) []memory.Turn
	SetTaskState(taskID string, state map[string]any)
	UpdateTaskState(taskID string, partial map[string]any)
	ArchiveTask(taskID string) error
	Stats() memory.Stats
}

// Classifier resolves an input into an intent record. It must not fail.
type Classifier interface {
	Classify(ctx context.Context, input string, history []memory.Turn) intent.Record
}

// Registry resolves and lists workers.
type Registry interface {
	dispatch.Registry
	List() []worker.Descriptor
}

// Response is the envelope returned for every request.
type Response struct {
	Status       string            `json:"status"`
	Result       any               `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
	Intent       *intent.Record    `json:"intent,omitempty"`
	SubtaskCount int               `json:"subtask_count"`
	TimedOut     bool              `json:"timed_out,omitempty"`
	TaskID       string            `json:"task_id"`
	Results      []dispatch.Result `json:"results,omitempty"`
}

// Config tunes an Orchestrator.
type Config struct {
	// Timeout bounds one request, classification included. Zero means no
	// deadline.
	Timeout time.Duration
	// MaxConcurrency <= 0 allows one in-flight subtask per registered worker.
	MaxConcurrency int
	// MaxRetries is how often a retryable worker failure is retried.
	MaxRetries int
	// ContextTurns is how many recent turns the classifier sees (default 10).
	ContextTurns int
	// Ordering, when set, chains the subtasks of these workers in order.
	Ordering []string
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	memory     Memory
	classifier Classifier
	registry   Registry
	cfg        Config
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(mem Memory, classifier Classifier, registry Registry, cfg Config) *Orchestrator {
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = defaultContextTurns
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Orchestrator{
		memory:     mem,
		classifier: classifier,
		registry:   registry,
		cfg:        cfg,
		logger:     slog.Default(),
	}
}

// ProcessRequest handles one user input and always returns an envelope.
// The user turn is recorded before decomposition and the assistant turn
// after aggregation.
func (o *Orchestrator) ProcessRequest(ctx context.Context, input string) (resp Response) {
	resp.TaskID = uuid.NewString()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("request processing panicked", "task_id", resp.TaskID, "panic", r)
			resp = o.fail(resp, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	o.logger.Info("processing request", "task_id", resp.TaskID, "input_len", len(input))

	o.memory.SetTaskState(resp.TaskID, map[string]any{
		"status":       "classifying",
		"input":        input,
		"current_step": "classify",
	})

	history := o.memory.RecentTurns(o.cfg.ContextTurns)
	if err := o.memory.AppendTurn(memory.RoleUser, input, map[string]any{"task_id": resp.TaskID}); err != nil {
		return o.fail(resp, fmt.Sprintf("recording request: %v", err))
	}

	rec := o.classifier.Classify(ctx, input, history)
	resp.Intent = &rec

	var opts []planner.Option
	if len(o.cfg.Ordering) > 0 {
		opts = append(opts, planner.WithOrdering(o.cfg.Ordering...))
	}
	subtasks := planner.Decompose(rec, opts...)
	resp.SubtaskCount = len(subtasks)

	ids := make([]string, len(subtasks))
	for i, st := range subtasks {
		ids[i] = st.ID
	}
	o.memory.UpdateTaskState(resp.TaskID, map[string]any{
		"status":       "running",
		"intent":       rec.Goal,
		"subtasks":     ids,
		"current_step": "dispatch",
	})

	results, err := o.dispatch(ctx, resp.TaskID, subtasks)
	if err != nil {
		return o.fail(resp, fmt.Sprintf("dispatching subtasks: %v", err))
	}
	resp.Results = results
	resp.Result = Aggregate(results)
	for _, r := range results {
		if r.Status == dispatch.ResultTimeout {
			resp.TimedOut = true
		}
	}
	resp.Status = StatusSuccess

	o.remember(resp)
	o.logger.Info("request processed", "task_id", resp.TaskID, "subtasks", len(subtasks), "timed_out", resp.TimedOut, "duration", time.Since(start))
	return resp
}

func (o *Orchestrator) dispatch(ctx context.Context, taskID string, subtasks []worker.Subtask) ([]dispatch.Result, error) {
	d := dispatch.New(o.registry,
		dispatch.WithMaxConcurrency(o.cfg.MaxConcurrency),
		dispatch.WithMaxRetries(o.cfg.MaxRetries),
		dispatch.WithLogger(o.logger),
		dispatch.WithObserver(func(id string, s worker.Status) {
			o.memory.UpdateTaskState(taskID, map[string]any{"subtask." + id: string(s)})
		}),
	)
	return d.Execute(ctx, subtasks)
}

// fail turns resp into an error envelope and records the failure as the
// assistant turn.
func (o *Orchestrator) fail(resp Response, msg string) Response {
	o.logger.Error("request failed", "task_id", resp.TaskID, "error", msg)
	resp.Status = StatusError
	resp.Error = msg
	resp.Result = nil
	o.remember(resp)
	return resp
}

// remember appends the assistant turn and archives the task. Failures here
// are logged; the envelope is already decided.
func (o *Orchestrator) remember(resp Response) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("recording response panicked", "task_id", resp.TaskID, "panic", r)
		}
	}()

	text := resp.Error
	if resp.Status == StatusSuccess {
		text = Render(resp.Result)
	}
	if err := o.memory.AppendTurn(memory.RoleAssistant, text, map[string]any{
		"task_id": resp.TaskID,
		"status":  resp.Status,
	}); err != nil {
		o.logger.Warn("recording response failed", "task_id", resp.TaskID, "error", err)
	}

	o.memory.UpdateTaskState(resp.TaskID, map[string]any{
		"status":       resp.Status,
		"current_step": "done",
		"timed_out":    resp.TimedOut,
	})
	if err := o.memory.ArchiveTask(resp.TaskID); err != nil {
		var perr *memory.PersistenceError
		if errors.As(err, &perr) {
			o.logger.Warn("task archived in memory only", "task_id", resp.TaskID, "error", err)
			return
		}
		o.logger.Warn("archiving task failed", "task_id", resp.TaskID, "error", err)
	}
}

// Aggregate combines subtask results. No results yields a fixed message, a
// single result is returned as is (its payload on success) and several
// results yield a numbered status digest.
func Aggregate(results []dispatch.Result) any {
	switch len(results) {
	case 0:
		return noResults
	case 1:
		if results[0].Status == dispatch.ResultSuccess {
			return results[0].Payload
		}
		return results[0]
	}

	var sb strings.Builder
	sb.WriteString("Task completed:\n\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s", i+1, r.Status)
		if r.Error != "" {
			fmt.Fprintf(&sb, " (%s)", r.Error)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Render turns an aggregated result into conversation text.
func Render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// Stats reports memory tier sizes.
func (o *Orchestrator) Stats() memory.Stats {
	return o.memory.Stats()
}

// Workers lists registered workers and their operations.
func (o *Orchestrator) Workers() []worker.Descriptor {
	return o.registry.List()
}
