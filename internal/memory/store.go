package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/orca/internal/storage"
)

// KnowledgePersister is the durable backend for the long-term tier.
// Implemented by storage.Store.
type KnowledgePersister interface {
	LoadKnowledge() ([]storage.KnowledgeRow, error)
	PutKnowledge(category, key string, value any, at time.Time) error
	DeleteKnowledge(category, key string) error
	DeleteCategory(category string) (int64, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store is the tri-tier memory: a bounded conversational window, a keyed
// long-term knowledge map and ephemeral task states. A single mutex guards
// all three tiers.
type Store struct {
	persister KnowledgePersister
	clock     Clock
	maxTurns  int
	logger    *slog.Logger

	mu        sync.Mutex
	turns     []Turn
	knowledge map[string]map[string]StoredValue
	working   map[string]TaskState
}

// New creates a Store and loads the long-term tier from p. A nil persister
// keeps knowledge in memory only. maxTurns <= 0 selects DefaultMaxTurns.
func New(p KnowledgePersister, maxTurns int) (*Store, error) {
	return NewWithClock(p, maxTurns, realClock{})
}

// NewWithClock creates a Store with a custom clock (for testing).
func NewWithClock(p KnowledgePersister, maxTurns int, clock Clock) (*Store, error) {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	s := &Store{
		persister: p,
		clock:     clock,
		maxTurns:  maxTurns,
		logger:    slog.Default(),
		knowledge: make(map[string]map[string]StoredValue),
		working:   make(map[string]TaskState),
	}
	if p == nil {
		return s, nil
	}

	rows, err := p.LoadKnowledge()
	if err != nil {
		return nil, fmt.Errorf("loading long-term memory: %w", err)
	}
	for _, row := range rows {
		var v any
		if err := json.Unmarshal(row.Value, &v); err != nil {
			s.logger.Warn("skipping unreadable knowledge entry", "category", row.Category, "key", row.Key, "error", err)
			continue
		}
		s.putLocked(row.Category, row.Key, v, row.UpdatedAt)
	}
	s.logger.Debug("long-term memory loaded", "entries", len(rows))
	return s, nil
}

// MaxTurns returns the configured window size.
func (s *Store) MaxTurns() int { return s.maxTurns }

// --- Short-term window ---

// AppendTurn appends a turn and evicts the oldest turns beyond the window.
func (s *Store) AppendTurn(role Role, text string, metadata map[string]any) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, Turn{
		Role:      role,
		Text:      text,
		Timestamp: s.clock.Now(),
		Metadata:  maps.Clone(metadata),
	})
	if over := len(s.turns) - s.maxTurns; over > 0 {
		s.turns = append(s.turns[:0:0], s.turns[over:]...)
	}
	return nil
}

// RecentTurns returns the last min(n, len) turns in chronological order.
func (s *Store) RecentTurns(n int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || len(s.turns) == 0 {
		return []Turn{}
	}
	if n > len(s.turns) {
		n = len(s.turns)
	}
	out := make([]Turn, n)
	copy(out, s.turns[len(s.turns)-n:])
	return out
}

// History returns the whole window.
func (s *Store) History() []Turn {
	return s.RecentTurns(s.maxTurns)
}

// ClearTurns empties the conversational window.
func (s *Store) ClearTurns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.logger.Info("short-term memory cleared")
}

// --- Long-term knowledge ---

// SaveKnowledge stores value under (category, key), overwriting silently.
// Values are normalised to their JSON form so they read back identically
// after a restart. A *PersistenceError means the entry is usable now but
// may be lost on restart.
func (s *Store) SaveKnowledge(category, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(category, key, value)
}

func (s *Store) saveLocked(category, key string, value any) error {
	now := s.clock.Now()

	normalized, err := normalize(value)
	if err != nil {
		s.putLocked(category, key, value, now)
		return &PersistenceError{Op: "save", Category: category, Key: key, Err: err}
	}
	s.putLocked(category, key, normalized, now)

	if s.persister == nil {
		return nil
	}
	if err := s.persister.PutKnowledge(category, key, normalized, now); err != nil {
		s.logger.Error("failed to persist knowledge", "category", category, "key", key, "error", err)
		return &PersistenceError{Op: "save", Category: category, Key: key, Err: err}
	}
	s.logger.Debug("knowledge saved", "category", category, "key", key)
	return nil
}

func (s *Store) putLocked(category, key string, value any, at time.Time) {
	bucket, ok := s.knowledge[category]
	if !ok {
		bucket = make(map[string]StoredValue)
		s.knowledge[category] = bucket
	}
	bucket[key] = StoredValue{Value: value, Timestamp: at}
}

// GetKnowledge returns the stored value and true, or nil and false when absent.
func (s *Store) GetKnowledge(category, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.knowledge[category][key]
	if !ok {
		return nil, false
	}
	return cloneValue(item.Value), true
}

// SearchKnowledge returns entries whose key or rendered value contains
// keyword (case-insensitive). An empty category scans all categories.
// Results are ordered by category, then key.
func (s *Store) SearchKnowledge(keyword, category string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(keyword)
	var categories []string
	if category != "" {
		categories = []string{category}
	} else {
		categories = sortedKeys(s.knowledge)
	}

	results := []Entry{}
	for _, cat := range categories {
		bucket := s.knowledge[cat]
		for _, key := range sortedKeys(bucket) {
			item := bucket[key]
			if strings.Contains(strings.ToLower(key), needle) ||
				strings.Contains(strings.ToLower(render(item.Value)), needle) {
				results = append(results, Entry{Category: cat, Key: key, Value: cloneValue(item.Value), Timestamp: item.Timestamp})
			}
		}
	}
	return results
}

// DeleteKnowledge removes (category, key). Absent keys are a no-op.
func (s *Store) DeleteKnowledge(category, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.knowledge[category]
	if !ok {
		return nil
	}
	if _, ok := bucket[key]; !ok {
		return nil
	}
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(s.knowledge, category)
	}

	if s.persister != nil {
		if err := s.persister.DeleteKnowledge(category, key); err != nil {
			return &PersistenceError{Op: "delete", Category: category, Key: key, Err: err}
		}
	}
	s.logger.Info("knowledge deleted", "category", category, "key", key)
	return nil
}

// PurgeCategory removes every entry in category and returns the count removed.
func (s *Store) PurgeCategory(category string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.knowledge[category])
	delete(s.knowledge, category)

	if s.persister != nil {
		if _, err := s.persister.DeleteCategory(category); err != nil {
			return n, &PersistenceError{Op: "purge", Category: category, Err: err}
		}
	}
	s.logger.Info("knowledge category purged", "category", category, "entries", n)
	return n, nil
}

// Snapshot copies the long-term tier in its persisted layout.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	out := make(Snapshot, len(s.knowledge))
	for cat, bucket := range s.knowledge {
		copied := make(map[string]StoredValue, len(bucket))
		for key, item := range bucket {
			copied[key] = StoredValue{Value: cloneValue(item.Value), Timestamp: item.Timestamp}
		}
		out[cat] = copied
	}
	return out
}

// --- Working memory ---

// SetTaskState replaces the state of taskID.
func (s *Store) SetTaskState(taskID string, state map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.working[taskID] = TaskState{
		TaskID:    taskID,
		State:     maps.Clone(state),
		Timestamp: s.clock.Now(),
	}
	s.logger.Debug("task state set", "task_id", taskID)
}

// UpdateTaskState shallow-merges partial into the state of taskID. Unknown
// task ids are logged and ignored.
func (s *Store) UpdateTaskState(taskID string, partial map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.working[taskID]
	if !ok {
		s.logger.Warn("update for unknown task state ignored", "task_id", taskID)
		return
	}
	if ts.State == nil {
		ts.State = make(map[string]any, len(partial))
	}
	maps.Copy(ts.State, partial)
	ts.Timestamp = s.clock.Now()
	s.working[taskID] = ts
}

// GetTaskState returns a copy of the state of taskID and true, or nil and false.
func (s *Store) GetTaskState(taskID string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.working[taskID]
	if !ok {
		return nil, false
	}
	return maps.Clone(ts.State), true
}

// ClearTaskState drops taskID from working memory.
func (s *Store) ClearTaskState(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.working, taskID)
}

// ArchiveTask moves the working state of taskID into the archived_tasks
// category and clears it. When persistence fails the archive still happens
// in memory and the *PersistenceError is returned, so the caller knows it
// will not survive a restart.
func (s *Store) ArchiveTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.working[taskID]
	if !ok {
		return fmt.Errorf("archiving %s: %w", taskID, ErrUnknownTask)
	}

	record := map[string]any{
		"task_id":   ts.TaskID,
		"state":     ts.State,
		"timestamp": ts.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	err := s.saveLocked(ArchivedTasksCategory, taskID, record)
	delete(s.working, taskID)
	if err != nil {
		return err
	}
	s.logger.Info("task archived", "task_id", taskID)
	return nil
}

// --- Introspection ---

// Stats reports tier sizes and the sorted category names.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, bucket := range s.knowledge {
		count += len(bucket)
	}
	return Stats{
		TurnCount:        len(s.turns),
		KnowledgeCount:   count,
		WorkingTaskCount: len(s.working),
		Categories:       sortedKeys(s.knowledge),
	}
}

// Export dumps every tier.
func (s *Store) Export() Export {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := make([]Turn, len(s.turns))
	copy(turns, s.turns)
	working := make(map[string]TaskState, len(s.working))
	for id, ts := range s.working {
		ts.State = maps.Clone(ts.State)
		working[id] = ts
	}
	return Export{
		ShortTerm:  turns,
		LongTerm:   s.snapshotLocked(),
		Working:    working,
		ExportedAt: s.clock.Now(),
	}
}

// normalize round-trips v through JSON so in-memory values match what a
// reload from the durable tier produces.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}
	return out, nil
}

// cloneValue deep-copies the map and slice containers a normalised value is
// built from.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
