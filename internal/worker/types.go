package worker

import (
	"context"
	"errors"
	"fmt"
)

// Worker ids.
const (
	Email     = "email"
	Doc       = "doc"
	Schedule  = "schedule"
	Data      = "data"
	File      = "file"
	Knowledge = "knowledge"
)

// OperationKind tags the operation a Subtask asks a worker to perform.
type OperationKind string

const (
	// file
	Organize         OperationKind = "organize"
	DetectDuplicates OperationKind = "detect_duplicates"
	CleanTemp        OperationKind = "clean_temp"
	Search           OperationKind = "search"
	AnalyzeStorage   OperationKind = "analyze_storage"

	// email
	ReadEmails OperationKind = "read_emails"
	Classify   OperationKind = "classify"
	Reply      OperationKind = "reply"
	Archive    OperationKind = "archive"

	// doc
	Load      OperationKind = "load"
	Convert   OperationKind = "convert"
	Summarize OperationKind = "summarize"
	Compare   OperationKind = "compare"

	// data
	LoadData  OperationKind = "load_data"
	Analyze   OperationKind = "analyze"
	Visualize OperationKind = "visualize"

	// schedule
	GetSchedule OperationKind = "get_schedule"
	CreateEvent OperationKind = "create_event"
	SuggestTime OperationKind = "suggest_time"

	// knowledge
	QA    OperationKind = "qa"
	Index OperationKind = "index"
)

// Status is the lifecycle state of a Subtask.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Subtask is one unit of work routed to a single worker.
type Subtask struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	WorkerID    string         `json:"worker_id"`
	Kind        OperationKind  `json:"operation_kind"`
	Params      map[string]any `json:"input_parameters"`
	DependsOn   []string       `json:"dependency_ids"`
	Status      Status         `json:"status"`
}

// OutcomeStatus is what a worker reports for one invocation.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
)

// ExecutionError is a worker's own reported failure.
type ExecutionError struct {
	Message   string `json:"message"`
	Retryable bool   `json:"is_retryable"`
}

func (e *ExecutionError) Error() string { return e.Message }

// Outcome is the result of Worker.Execute.
type Outcome struct {
	Status OutcomeStatus   `json:"status"`
	Result any             `json:"result,omitempty"`
	Error  *ExecutionError `json:"error,omitempty"`
}

// Success wraps a successful result.
func Success(result any) Outcome {
	return Outcome{Status: OutcomeSuccess, Result: result}
}

// Failure builds a non-retryable error outcome.
func Failure(format string, args ...any) Outcome {
	return Outcome{Status: OutcomeError, Error: &ExecutionError{Message: fmt.Sprintf(format, args...)}}
}

// Transient builds a retryable error outcome.
func Transient(format string, args ...any) Outcome {
	return Outcome{Status: OutcomeError, Error: &ExecutionError{Message: fmt.Sprintf(format, args...), Retryable: true}}
}

// FromError converts err into an error outcome, retryable when err reports
// itself as temporary.
func FromError(err error) Outcome {
	var t interface{ Temporary() bool }
	if errors.As(err, &t) && t.Temporary() {
		return Transient("%v", err)
	}
	return Failure("%v", err)
}

// Worker executes subtasks for one domain.
type Worker interface {
	ID() string
	Kinds() []OperationKind
	Execute(ctx context.Context, st Subtask) Outcome
}
