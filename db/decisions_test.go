package db

import (
	"path/filepath"
	"testing"

	"github.com/xiaoyuanzhu-com/claude-monitor/state"
)

func createTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "monitor.sqlite"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestInsertAndListDecisions(t *testing.T) {
	d := createTestDB(t)

	actions := []state.PendingAction{
		{ID: "a1", Type: "Bash", Description: "rm -rf tmp", Timestamp: "2026-08-28T10:00:00Z"},
		{ID: "a2", Type: "Write", Description: "write main.go", Timestamp: "2026-08-28T10:01:00Z", ToolName: "Write"},
	}

	if err := d.InsertDecision(state.DecisionDeny, actions[0]); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := d.InsertDecision(state.DecisionApprove, actions[1]); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	records, err := d.ListDecisions(10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	byActionID := map[string]DecisionRecord{}
	for _, r := range records {
		byActionID[r.ActionID] = r
	}
	if byActionID["a1"].Action != state.DecisionDeny {
		t.Errorf("expected deny for a1, got %s", byActionID["a1"].Action)
	}
	if byActionID["a2"].ToolName != "Write" {
		t.Errorf("expected tool name preserved, got %q", byActionID["a2"].ToolName)
	}
}

func TestListDecisions_Empty(t *testing.T) {
	d := createTestDB(t)

	records, err := d.ListDecisions(10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestListDecisions_Limit(t *testing.T) {
	d := createTestDB(t)

	for i := 0; i < 5; i++ {
		action := state.PendingAction{ID: "a", Type: "Bash", Description: "ls"}
		if err := d.InsertDecision(state.DecisionApprove, action); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	records, err := d.ListDecisions(3)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("expected 3 records with limit, got %d", len(records))
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.sqlite")

	d, err := Open(path)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	action := state.PendingAction{ID: "a1", Type: "Bash", Description: "ls"}
	if err := d.InsertDecision(state.DecisionApprove, action); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	d.Close()

	// Migrations must be idempotent across reopens
	d2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer d2.Close()

	records, err := d2.ListDecisions(10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected persisted record after reopen, got %d", len(records))
	}
}
