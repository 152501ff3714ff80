package storage

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestPutAndGetKnowledge(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC()
	if err := s.PutKnowledge("prefs", "tone", map[string]string{"style": "direct"}, now); err != nil {
		t.Fatalf("PutKnowledge: %v", err)
	}

	row, err := s.GetKnowledge("prefs", "tone")
	if err != nil {
		t.Fatalf("GetKnowledge: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(row.Value, &got); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	if got["style"] != "direct" {
		t.Errorf("value = %v, want style=direct", got)
	}
	if !row.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", row.UpdatedAt, now)
	}
}

func TestPutKnowledge_Overwrites(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	if err := s.PutKnowledge("c", "k", "first", now); err != nil {
		t.Fatal(err)
	}
	if err := s.PutKnowledge("c", "k", "second", now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	rows, err := s.LoadKnowledge()
	if err != nil {
		t.Fatalf("LoadKnowledge: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if string(rows[0].Value) != `"second"` {
		t.Errorf("value = %s, want \"second\"", rows[0].Value)
	}
}

func TestGetKnowledge_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetKnowledge("missing", "key")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteKnowledge(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutKnowledge("c", "k", 1, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteKnowledge("c", "k"); err != nil {
		t.Fatalf("DeleteKnowledge: %v", err)
	}
	if _, err := s.GetKnowledge("c", "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	// Absent keys are a no-op.
	if err := s.DeleteKnowledge("c", "k"); err != nil {
		t.Errorf("second DeleteKnowledge: %v", err)
	}
}

func TestDeleteCategory(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	for _, k := range []string{"a", "b"} {
		if err := s.PutKnowledge("calendar", k, k, now); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.PutKnowledge("prefs", "x", "y", now); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteCategory("calendar")
	if err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d rows, want 2", n)
	}

	rows, err := s.LoadKnowledge()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Category != "prefs" {
		t.Errorf("remaining rows = %+v, want only prefs/x", rows)
	}
}

// TestKnowledgeSurvivesReopen verifies durability across process restarts.
func TestKnowledgeSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.PutKnowledge("archived_tasks", "req-1", map[string]any{"status": "success"}, time.Now()); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	row, err := s2.GetKnowledge("archived_tasks", "req-1")
	if err != nil {
		t.Fatalf("GetKnowledge after reopen: %v", err)
	}
	if string(row.Value) != `{"status":"success"}` {
		t.Errorf("value = %s", row.Value)
	}
}
