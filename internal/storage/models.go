package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// KnowledgeRow is one persisted long-term memory entry.
type KnowledgeRow struct {
	Category  string
	Key       string
	Value     json.RawMessage
	UpdatedAt time.Time
}
