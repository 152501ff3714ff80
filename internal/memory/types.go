package memory

import (
	"errors"
	"fmt"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ArchivedTasksCategory is the knowledge category archive_task writes into.
const ArchivedTasksCategory = "archived_tasks"

// DefaultMaxTurns bounds the conversational window when no limit is configured.
const DefaultMaxTurns = 50

// Turn is one message in the short-term conversational window.
type Turn struct {
	Role      Role           `json:"role"`
	Text      string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Entry is a long-term knowledge item identified by (Category, Key).
type Entry struct {
	Category  string    `json:"category"`
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskState is a working-memory record for an in-flight task.
type TaskState struct {
	TaskID    string         `json:"task_id"`
	State     map[string]any `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
}

// Stats summarises the three tiers.
type Stats struct {
	TurnCount        int      `json:"turn_count"`
	KnowledgeCount   int      `json:"knowledge_count"`
	WorkingTaskCount int      `json:"working_task_count"`
	Categories       []string `json:"categories"`
}

// StoredValue is the per-key payload of the persisted long-term layout.
type StoredValue struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the long-term tier in its persisted layout:
// {category: {key: {value, timestamp}}}.
type Snapshot map[string]map[string]StoredValue

// Export is a full dump of every tier.
type Export struct {
	ShortTerm  []Turn               `json:"short_term"`
	LongTerm   Snapshot             `json:"long_term"`
	Working    map[string]TaskState `json:"working"`
	ExportedAt time.Time            `json:"exported_at"`
}

var (
	// ErrInvalidRole is returned by AppendTurn for an empty or unknown role.
	ErrInvalidRole = errors.New("invalid role")
	// ErrUnknownTask is returned by ArchiveTask when no working state exists.
	ErrUnknownTask = errors.New("unknown task")
)

// PersistenceError reports a durable-tier write failure. The in-memory
// mutation has already been applied and stays visible for the lifetime of
// the process; only durability across restarts is lost.
type PersistenceError struct {
	Op       string
	Category string
	Key      string
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("persisting %s %s: %v", e.Op, e.Category, e.Err)
	}
	return fmt.Sprintf("persisting %s %s/%s: %v", e.Op, e.Category, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
