package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/roach88/substrate/internal/engine"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func beginTestRun(t *testing.T, s *Store, id string) int64 {
	t.Helper()
	seq, err := s.BeginRun(context.Background(), Run{
		ID: id, Scenario: "test", Nodes: 2, Threads: 1, TableFingerprint: "fp",
	})
	if err != nil {
		t.Fatalf("BeginRun(%q) failed: %v", id, err)
	}
	return seq
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"runs", "steps", "dumps"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct{ name, want string }{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "2"},
	}
	for _, tt := range tests {
		got, err := s.pragma(tt.name)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, got, tt.want)
		}
	}

	for _, idx := range []string{"idx_dumps_path", "idx_steps_node"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&name)
		if err != nil {
			t.Errorf("migration index %s missing: %v", idx, err)
		}
	}
}

func TestOpen_MigratesOldJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec("DROP INDEX idx_steps_node"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 1"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	if v, _ := s.pragma("user_version"); v != "2" {
		t.Errorf("user_version = %s, want 2", v)
	}
	var name string
	if err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE name='idx_steps_node'").Scan(&name); err != nil {
		t.Errorf("idx_steps_node not recreated: %v", err)
	}
}

func TestRuns_SequenceAndOutcome(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if seq := beginTestRun(t, s, "run-a"); seq != 1 {
		t.Errorf("first seq = %d, want 1", seq)
	}
	if seq := beginTestRun(t, s, "run-b"); seq != 2 {
		t.Errorf("second seq = %d, want 2", seq)
	}

	if err := s.FinishRun(ctx, "run-a", 10, 0.9, nil); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}
	if err := s.FinishRun(ctx, "run-b", 3, 0.2, errors.New("boom")); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}
	if err := s.FinishRun(ctx, "missing", 0, 0, nil); err == nil {
		t.Error("FinishRun() on an unknown run should fail")
	}

	a, err := s.ReadRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if a.Status != StatusDone || a.Steps != 10 || a.SimTime != 0.9 || a.Config != "{}" {
		t.Errorf("run-a = %+v", a)
	}

	latest, err := s.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun() failed: %v", err)
	}
	if latest.ID != "run-b" || latest.Status != StatusFailed || latest.Error != "boom" {
		t.Errorf("latest = %+v", latest)
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-a" || runs[1].ID != "run-b" {
		t.Errorf("ListRuns() = %+v", runs)
	}

	if _, err := s.ReadRun(ctx, "nope"); !IsNotFound(err) {
		t.Errorf("ReadRun(nope) error = %v, want not found", err)
	}
}

func TestRuns_DuplicateIDRejected(t *testing.T) {
	s := createTestStore(t)
	beginTestRun(t, s, "run-a")
	if _, err := s.BeginRun(context.Background(), Run{ID: "run-a"}); err == nil {
		t.Error("BeginRun() with a duplicate id should fail")
	}
}

func TestEmptyJournal(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	runs, err := s.ListRuns(ctx)
	if err != nil || runs == nil || len(runs) != 0 {
		t.Errorf("ListRuns() = %v, %v; want empty non-nil slice", runs, err)
	}
	if _, err := s.LatestRun(ctx); !IsNotFound(err) {
		t.Errorf("LatestRun() error = %v, want not found", err)
	}
}

func TestSteps_OrderedAndIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, s, "run-a")

	steps := []engine.StepStats{
		{Node: 1, Step: 2, Time: 1, Fired: 1, Processed: 2, Sent: 2, Delivered: 4, Remote: 2},
		{Node: 0, Step: 2, Time: 1, Fired: 1, Processed: 2, Sent: 2, Delivered: 4, Remote: 2},
		{Node: 1, Step: 1, Time: 0, Fired: 1, Processed: 2, Stale: 1},
		{Node: 0, Step: 1, Time: 0, Fired: 1, Processed: 2, NonLocal: 3, Errors: 1},
	}
	if err := s.WriteSteps(ctx, "run-a", steps); err != nil {
		t.Fatalf("WriteSteps() failed: %v", err)
	}
	if err := s.WriteSteps(ctx, "run-a", steps[:2]); err != nil {
		t.Fatalf("WriteSteps() rewrite failed: %v", err)
	}

	got, err := s.ReadSteps(ctx, "run-a")
	if err != nil {
		t.Fatalf("ReadSteps() failed: %v", err)
	}
	want := []engine.StepStats{steps[3], steps[2], steps[1], steps[0]}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadSteps() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestSteps_RequireRun(t *testing.T) {
	s := createTestStore(t)
	err := s.WriteSteps(context.Background(), "ghost", []engine.StepStats{{Step: 1}})
	if err == nil {
		t.Error("WriteSteps() for an unknown run should violate the foreign key")
	}
}

func TestDump_RoundTripsTypedValues(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, s, "run-a")

	rows := []engine.DumpRow{
		{Element: 1, Path: "/a", Index: 0, FieldIdx: 0, Field: "value", Value: 0.1},
		{Element: 1, Path: "/a", Index: 0, FieldIdx: 1, Field: "count", Value: int64(-3)},
		{Element: 2, Path: "/b/syn", Index: 1, Entry: 2, FieldIdx: 0, Field: "id", Value: uint32(7)},
		{Element: 2, Path: "/b/syn", Index: 1, Entry: 2, FieldIdx: 1, Field: "on", Value: true},
	}
	if err := s.WriteDump(ctx, "run-a", "final", rows); err != nil {
		t.Fatalf("WriteDump() failed: %v", err)
	}
	if err := s.WriteDump(ctx, "run-a", "initial", rows[:1]); err != nil {
		t.Fatalf("WriteDump() failed: %v", err)
	}

	got, err := s.ReadDump(ctx, "run-a", "final", "")
	if err != nil {
		t.Fatalf("ReadDump() failed: %v", err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Errorf("ReadDump() =\n%+v\nwant\n%+v", got, rows)
	}

	got, err = s.ReadDump(ctx, "run-a", "final", "/b/syn")
	if err != nil {
		t.Fatalf("ReadDump(path) failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ReadDump(path) returned %d rows, want 2", len(got))
	}

	labels, err := s.DumpLabels(ctx, "run-a")
	if err != nil {
		t.Fatalf("DumpLabels() failed: %v", err)
	}
	if !reflect.DeepEqual(labels, []string{"final", "initial"}) {
		t.Errorf("DumpLabels() = %v", labels)
	}

	if engine.DumpDigest(got) == engine.DumpDigest(rows) {
		t.Error("digests of different dumps should differ")
	}
}

func TestDump_RejectsUnknownValueType(t *testing.T) {
	s := createTestStore(t)
	beginTestRun(t, s, "run-a")
	err := s.WriteDump(context.Background(), "run-a", "x", []engine.DumpRow{{Path: "/a", Field: "f", Value: "str"}})
	if err == nil {
		t.Error("WriteDump() with a string value should fail")
	}
}
