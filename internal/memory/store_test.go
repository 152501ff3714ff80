package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/orca/internal/storage"
)

// --- Mock persister ---

type mockPersister struct {
	mu      sync.Mutex
	rows    map[string]storage.KnowledgeRow
	failPut error
	puts    int
}

func newMockPersister() *mockPersister {
	return &mockPersister{rows: make(map[string]storage.KnowledgeRow)}
}

func (m *mockPersister) LoadKnowledge() ([]storage.KnowledgeRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.KnowledgeRow, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *mockPersister) PutKnowledge(category, key string, value any, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failPut != nil {
		return m.failPut
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.rows[category+"/"+key] = storage.KnowledgeRow{Category: category, Key: key, Value: raw, UpdatedAt: at}
	return nil
}

func (m *mockPersister) DeleteKnowledge(category, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, category+"/"+key)
	return nil
}

func (m *mockPersister) DeleteCategory(category string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.rows {
		if r.Category == category {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, p KnowledgePersister, maxTurns int) *Store {
	t.Helper()
	s, err := NewWithClock(p, maxTurns, &mockClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)})
	if err != nil {
		t.Fatalf("NewWithClock: %v", err)
	}
	return s
}

// --- Short-term window ---

func TestRecentTurns_WindowProperty(t *testing.T) {
	for _, maxTurns := range []int{1, 3, 7} {
		for total := 0; total <= 12; total++ {
			s := newTestStore(t, nil, maxTurns)
			for i := 0; i < total; i++ {
				if err := s.AppendTurn(RoleUser, fmt.Sprintf("msg-%d", i), nil); err != nil {
					t.Fatalf("AppendTurn: %v", err)
				}
				if got := len(s.History()); got > maxTurns {
					t.Fatalf("window %d exceeded after append: %d turns", maxTurns, got)
				}
			}
			kept := min(total, maxTurns)
			for n := 0; n <= maxTurns+2; n++ {
				turns := s.RecentTurns(n)
				want := min(n, kept)
				if len(turns) != want {
					t.Fatalf("max=%d total=%d RecentTurns(%d) len = %d, want %d", maxTurns, total, n, len(turns), want)
				}
				for i, turn := range turns {
					wantText := fmt.Sprintf("msg-%d", total-want+i)
					if turn.Text != wantText {
						t.Errorf("max=%d total=%d n=%d turn[%d] = %q, want %q", maxTurns, total, n, i, turn.Text, wantText)
					}
				}
			}
		}
	}
}

func TestRecentTurns_EmptyHistory(t *testing.T) {
	s := newTestStore(t, nil, 0)
	turns := s.RecentTurns(5)
	if turns == nil || len(turns) != 0 {
		t.Errorf("RecentTurns on empty history = %#v, want empty slice", turns)
	}
	if s.MaxTurns() != DefaultMaxTurns {
		t.Errorf("MaxTurns = %d, want %d", s.MaxTurns(), DefaultMaxTurns)
	}
}

func TestAppendTurn_RejectsInvalidRole(t *testing.T) {
	s := newTestStore(t, nil, 0)
	for _, role := range []Role{"", "robot"} {
		if err := s.AppendTurn(role, "hi", nil); !errors.Is(err, ErrInvalidRole) {
			t.Errorf("AppendTurn(%q) err = %v, want ErrInvalidRole", role, err)
		}
	}
	if n := s.Stats().TurnCount; n != 0 {
		t.Errorf("turn count = %d, want 0", n)
	}
}

func TestClearTurns(t *testing.T) {
	s := newTestStore(t, nil, 0)
	_ = s.AppendTurn(RoleUser, "a", map[string]any{"source": "cli"})
	s.ClearTurns()
	if len(s.History()) != 0 {
		t.Error("expected empty history after ClearTurns")
	}
}

// --- Long-term knowledge ---

func TestSaveAndGetKnowledge(t *testing.T) {
	s := newTestStore(t, newMockPersister(), 0)

	if err := s.SaveKnowledge("prefs", "tone", "direct"); err != nil {
		t.Fatalf("SaveKnowledge: %v", err)
	}
	v, ok := s.GetKnowledge("prefs", "tone")
	if !ok || v != "direct" {
		t.Fatalf("GetKnowledge = %v, %v; want direct, true", v, ok)
	}

	if err := s.SaveKnowledge("prefs", "tone", "formal"); err != nil {
		t.Fatalf("SaveKnowledge overwrite: %v", err)
	}
	v, _ = s.GetKnowledge("prefs", "tone")
	if v != "formal" {
		t.Errorf("after overwrite got %v, want formal", v)
	}
	if n := len(s.Snapshot()["prefs"]); n != 1 {
		t.Errorf("entries under prefs = %d, want 1", n)
	}
}

func TestGetKnowledge_ReturnsCopy(t *testing.T) {
	p := newMockPersister()
	s := newTestStore(t, p, 0)
	if err := s.SaveKnowledge("notes", "n1", map[string]any{"a": "original", "tags": []any{"x"}}); err != nil {
		t.Fatalf("SaveKnowledge: %v", err)
	}

	v, _ := s.GetKnowledge("notes", "n1")
	m := v.(map[string]any)
	m["a"] = "mutated"
	m["tags"].([]any)[0] = "mutated"

	for _, e := range s.SearchKnowledge("", "notes") {
		e.Value.(map[string]any)["a"] = "mutated"
	}
	s.Snapshot()["notes"]["n1"].Value.(map[string]any)["a"] = "mutated"

	again, _ := s.GetKnowledge("notes", "n1")
	want := map[string]any{"a": "original", "tags": []any{"x"}}
	if diff := cmp.Diff(want, again); diff != "" {
		t.Errorf("caller mutation leaked into store (-want +got):\n%s", diff)
	}
	if got := s.SearchKnowledge("mutated", ""); len(got) != 0 {
		t.Errorf("SearchKnowledge(mutated) = %v, want none", got)
	}
}

func TestGetKnowledge_Absent(t *testing.T) {
	s := newTestStore(t, nil, 0)
	if v, ok := s.GetKnowledge("nope", "nothing"); ok || v != nil {
		t.Errorf("GetKnowledge = %v, %v; want nil, false", v, ok)
	}
}

func TestDeleteKnowledge(t *testing.T) {
	p := newMockPersister()
	s := newTestStore(t, p, 0)

	_ = s.SaveKnowledge("c", "k", "v")
	if err := s.DeleteKnowledge("c", "k"); err != nil {
		t.Fatalf("DeleteKnowledge: %v", err)
	}
	if _, ok := s.GetKnowledge("c", "k"); ok {
		t.Error("expected absent after delete")
	}
	if len(p.rows) != 0 {
		t.Errorf("persister still has %d rows", len(p.rows))
	}
	if err := s.DeleteKnowledge("c", "k"); err != nil {
		t.Errorf("deleting absent key: %v", err)
	}
}

func TestSearchKnowledge(t *testing.T) {
	s := newTestStore(t, nil, 0)
	_ = s.SaveKnowledge("projects", "Orca", "routing orchestrator")
	_ = s.SaveKnowledge("projects", "kayak", map[string]any{"note": "Weekend TRIP"})
	_ = s.SaveKnowledge("prefs", "editor", "vim")

	got := s.SearchKnowledge("orca", "")
	if len(got) != 1 || got[0].Key != "Orca" {
		t.Errorf("key match = %+v", got)
	}

	got = s.SearchKnowledge("trip", "projects")
	if len(got) != 1 || got[0].Key != "kayak" {
		t.Errorf("value match = %+v", got)
	}

	if got := s.SearchKnowledge("vim", "projects"); len(got) != 0 {
		t.Errorf("category filter leaked: %+v", got)
	}

	got = s.SearchKnowledge("", "")
	var keys []string
	for _, e := range got {
		keys = append(keys, e.Category+"/"+e.Key)
	}
	want := []string{"prefs/editor", "projects/Orca", "projects/kayak"}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("search ordering mismatch (-want +got):\n%s", diff)
	}
}

func TestPurgeCategory(t *testing.T) {
	p := newMockPersister()
	s := newTestStore(t, p, 0)
	_ = s.SaveKnowledge("calendar", "a", 1)
	_ = s.SaveKnowledge("calendar", "b", 2)
	_ = s.SaveKnowledge("prefs", "x", "y")

	n, err := s.PurgeCategory("calendar")
	if err != nil {
		t.Fatalf("PurgeCategory: %v", err)
	}
	if n != 2 {
		t.Errorf("purged %d, want 2", n)
	}
	if diff := cmp.Diff([]string{"prefs"}, s.Stats().Categories); diff != "" {
		t.Errorf("categories (-want +got):\n%s", diff)
	}
	if len(p.rows) != 1 {
		t.Errorf("persister rows = %d, want 1", len(p.rows))
	}
}

func TestSaveKnowledge_PersistenceErrorKeepsMemory(t *testing.T) {
	p := newMockPersister()
	p.failPut = errors.New("disk full")
	s := newTestStore(t, p, 0)

	err := s.SaveKnowledge("c", "k", "v")
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
	if perr.Category != "c" || perr.Key != "k" {
		t.Errorf("PersistenceError = %+v", perr)
	}
	if v, ok := s.GetKnowledge("c", "k"); !ok || v != "v" {
		t.Errorf("in-memory value lost: %v, %v", v, ok)
	}
}

func TestSaveKnowledge_UnencodableValue(t *testing.T) {
	s := newTestStore(t, newMockPersister(), 0)

	ch := make(chan int)
	err := s.SaveKnowledge("c", "k", ch)
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
	if _, ok := s.GetKnowledge("c", "k"); !ok {
		t.Error("value should remain usable in memory")
	}
}

// TestKnowledgeRoundTrip simulates a restart against a real SQLite file.
func TestKnowledgeRoundTrip(t *testing.T) {
	dir := t.TempDir()

	db1, err := storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	s1 := newTestStore(t, db1, 0)
	values := map[string]any{
		"plain":  "hello",
		"number": 42.5,
		"nested": map[string]any{"tags": []any{"a", "b"}, "ok": true},
	}
	for k, v := range values {
		if err := s1.SaveKnowledge("roundtrip", k, v); err != nil {
			t.Fatalf("SaveKnowledge(%s): %v", k, err)
		}
	}
	before := s1.Snapshot()
	db1.Close()

	db2, err := storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	s2 := newTestStore(t, db2, 0)

	for k, want := range values {
		got, ok := s2.GetKnowledge("roundtrip", k)
		if !ok {
			t.Fatalf("%s missing after reload", k)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s mismatch after reload (-want +got):\n%s", k, diff)
		}
	}
	if diff := cmp.Diff(before, s2.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch after reload (-want +got):\n%s", diff)
	}
}

// --- Working memory ---

func TestUpdateTaskState_Idempotent(t *testing.T) {
	s := newTestStore(t, nil, 0)
	s.SetTaskState("t1", map[string]any{"status": "running", "step": 1})

	partial := map[string]any{"step": 2, "note": "halfway"}
	s.UpdateTaskState("t1", partial)
	once, _ := s.GetTaskState("t1")
	s.UpdateTaskState("t1", partial)
	twice, _ := s.GetTaskState("t1")

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second merge changed state (-once +twice):\n%s", diff)
	}
	want := map[string]any{"status": "running", "step": 2, "note": "halfway"}
	if diff := cmp.Diff(want, twice); diff != "" {
		t.Errorf("merged state (-want +got):\n%s", diff)
	}
}

func TestUpdateTaskState_UnknownTaskIgnored(t *testing.T) {
	s := newTestStore(t, nil, 0)
	s.UpdateTaskState("ghost", map[string]any{"x": 1})
	if _, ok := s.GetTaskState("ghost"); ok {
		t.Error("update must not create a task state")
	}
}

func TestGetTaskState_ReturnsCopy(t *testing.T) {
	s := newTestStore(t, nil, 0)
	s.SetTaskState("t1", map[string]any{"a": 1})
	st, _ := s.GetTaskState("t1")
	st["a"] = 99
	again, _ := s.GetTaskState("t1")
	if again["a"] != 1 {
		t.Errorf("caller mutation leaked into store: %v", again)
	}
}

func TestClearTaskState(t *testing.T) {
	s := newTestStore(t, nil, 0)
	s.SetTaskState("t1", map[string]any{"a": 1})
	s.ClearTaskState("t1")
	if _, ok := s.GetTaskState("t1"); ok {
		t.Error("expected task cleared")
	}
}

func TestArchiveTask(t *testing.T) {
	p := newMockPersister()
	s := newTestStore(t, p, 0)
	s.SetTaskState("req-1", map[string]any{"status": "success"})

	if err := s.ArchiveTask("req-1"); err != nil {
		t.Fatalf("ArchiveTask: %v", err)
	}
	if _, ok := s.GetTaskState("req-1"); ok {
		t.Error("working entry should be cleared after archive")
	}
	v, ok := s.GetKnowledge(ArchivedTasksCategory, "req-1")
	if !ok {
		t.Fatal("archived entry missing")
	}
	record := v.(map[string]any)
	state := record["state"].(map[string]any)
	if state["status"] != "success" {
		t.Errorf("archived state = %v", state)
	}
	if _, ok := p.rows[ArchivedTasksCategory+"/req-1"]; !ok {
		t.Error("archive was not persisted")
	}
}

func TestArchiveTask_PersistenceFailureStillArchivesInMemory(t *testing.T) {
	p := newMockPersister()
	p.failPut = errors.New("read-only filesystem")
	s := newTestStore(t, p, 0)
	s.SetTaskState("req-2", map[string]any{"status": "error"})

	err := s.ArchiveTask("req-2")
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
	if _, ok := s.GetTaskState("req-2"); ok {
		t.Error("working state should be cleared even when the archive is not durable")
	}
	if _, ok := s.GetKnowledge(ArchivedTasksCategory, "req-2"); !ok {
		t.Error("archived entry missing from memory")
	}
	if got := s.Stats().WorkingTaskCount; got != 0 {
		t.Errorf("WorkingTaskCount = %d, want 0", got)
	}
}

func TestArchiveTask_Unknown(t *testing.T) {
	s := newTestStore(t, nil, 0)
	if err := s.ArchiveTask("missing"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("err = %v, want ErrUnknownTask", err)
	}
}

// --- Introspection ---

func TestStatsScenario(t *testing.T) {
	s := newTestStore(t, newMockPersister(), 0)
	for i := 0; i < 10; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := s.AppendTurn(role, fmt.Sprintf("turn %d", i), nil); err != nil {
			t.Fatal(err)
		}
	}
	_ = s.SaveKnowledge("prefs", "tone", "direct")
	_ = s.SaveKnowledge("prefs", "lang", "go")
	_ = s.SaveKnowledge("projects", "orca", "router")
	s.SetTaskState("a", map[string]any{})
	s.SetTaskState("b", map[string]any{})

	want := Stats{
		TurnCount:        10,
		KnowledgeCount:   3,
		WorkingTaskCount: 2,
		Categories:       []string{"prefs", "projects"},
	}
	if diff := cmp.Diff(want, s.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestExport(t *testing.T) {
	clock := &mockClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	s, err := NewWithClock(nil, 0, clock)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.AppendTurn(RoleUser, "hello", nil)
	_ = s.SaveKnowledge("prefs", "tone", "direct")
	s.SetTaskState("t1", map[string]any{"status": "running"})
	clock.Advance(time.Minute)

	doc := s.Export()
	if len(doc.ShortTerm) != 1 || doc.ShortTerm[0].Text != "hello" {
		t.Errorf("short_term = %+v", doc.ShortTerm)
	}
	if doc.LongTerm["prefs"]["tone"].Value != "direct" {
		t.Errorf("long_term = %+v", doc.LongTerm)
	}
	if doc.Working["t1"].State["status"] != "running" {
		t.Errorf("working = %+v", doc.Working)
	}
	if !doc.ExportedAt.Equal(clock.Now()) {
		t.Errorf("exported_at = %v, want %v", doc.ExportedAt, clock.Now())
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestStore(t, newMockPersister(), 20)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = s.AppendTurn(RoleUser, "x", nil)
				_ = s.SaveKnowledge("c", fmt.Sprintf("%d-%d", g, i%5), i)
				s.SetTaskState(fmt.Sprintf("t%d", g), map[string]any{"i": i})
				s.UpdateTaskState(fmt.Sprintf("t%d", g), map[string]any{"j": i})
				_ = s.SearchKnowledge("1", "")
				_ = s.Stats()
			}
		}(g)
	}
	wg.Wait()

	st := s.Stats()
	if st.TurnCount != 20 {
		t.Errorf("turn count = %d, want 20", st.TurnCount)
	}
	if st.KnowledgeCount != 40 {
		t.Errorf("knowledge count = %d, want 40", st.KnowledgeCount)
	}
	if st.WorkingTaskCount != 8 {
		t.Errorf("working count = %d, want 8", st.WorkingTaskCount)
	}
}
