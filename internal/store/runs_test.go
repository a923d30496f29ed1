package store

import (
	"testing"
)

func TestStartRun(t *testing.T) {
	db := testDB(t)

	r, err := db.StartRun("run-001", "haiku", "minimal")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if r.RunID != "run-001" || r.Model != "haiku" || r.Protocol != "minimal" {
		t.Errorf("run = %+v", r)
	}
	if r.Status != "active" {
		t.Errorf("Status = %q, want active", r.Status)
	}
}

func TestStartRunResume(t *testing.T) {
	db := testDB(t)

	r1, err := db.StartRun("run-001", "haiku", "")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	r2, err := db.StartRun("run-001", "haiku", "")
	if err != nil {
		t.Fatalf("StartRun resume: %v", err)
	}
	if r1.ID != r2.ID {
		t.Errorf("resumed run ID = %d, want %d", r2.ID, r1.ID)
	}
}

func TestEndRun(t *testing.T) {
	db := testDB(t)

	if _, err := db.StartRun("run-001", "haiku", ""); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := db.EndRun("run-001", 42); err != nil {
		t.Fatalf("EndRun: %v", err)
	}

	r, err := db.GetRun("run-001")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.Status != "stopped" {
		t.Errorf("Status = %q, want stopped", r.Status)
	}
	if r.EndedAt == nil {
		t.Error("EndedAt should be set")
	}
	if r.ThoughtCount != 42 {
		t.Errorf("ThoughtCount = %d, want 42", r.ThoughtCount)
	}

	if err := db.EndRun("run-001", 43); err == nil {
		t.Error("expected error ending a stopped run")
	}
}

func TestStartRunReactivatesStopped(t *testing.T) {
	db := testDB(t)

	r1, _ := db.StartRun("run-001", "haiku", "")
	if err := db.EndRun("run-001", 1); err != nil {
		t.Fatalf("EndRun: %v", err)
	}
	r2, err := db.StartRun("run-001", "haiku", "")
	if err != nil {
		t.Fatalf("StartRun after stop: %v", err)
	}
	if r1.ID != r2.ID || r2.Status != "active" {
		t.Errorf("reactivated run = %+v, want id %d active", r2, r1.ID)
	}
}

func TestGetRunMissing(t *testing.T) {
	db := testDB(t)
	r, err := db.GetRun("nope")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r != nil {
		t.Errorf("expected nil, got %+v", r)
	}
}

func TestRecentRuns(t *testing.T) {
	db := testDB(t)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := db.StartRun(id, "haiku", ""); err != nil {
			t.Fatalf("StartRun %s: %v", id, err)
		}
	}
	runs, err := db.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].RunID != "c" {
		t.Errorf("first run = %q, want c", runs[0].RunID)
	}
}
