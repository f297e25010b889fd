package transcript

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xiaoyuanzhu-com/claude-monitor/state"
)

func todoWriteLine(todos string) string {
	return `{"message":{"content":[{"name":"TodoWrite","input":{"todos":` + todos + `}}]}}`
}

func writeTranscript(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write transcript: %v", err)
	}
	return path
}

func createTestScanner(t *testing.T) (*Scanner, string) {
	t.Helper()
	projectsDir := t.TempDir()
	projectDir := filepath.Join(projectsDir, "-Users-dev-myapp")
	if err := os.Mkdir(projectDir, 0755); err != nil {
		t.Fatalf("failed to create project dir: %v", err)
	}
	return NewScanner(projectsDir, 2*time.Hour), projectDir
}

func TestScan_MostRecentTodoWriteWins(t *testing.T) {
	scanner, projectDir := createTestScanner(t)

	writeTranscript(t, projectDir, "session-1.jsonl",
		todoWriteLine(`[{"id":"old","content":"Old plan","status":"pending"}]`),
		`{"message":{"content":[{"name":"Bash","input":{"command":"ls"}}]}}`,
		todoWriteLine(`[{"id":"new","content":"New plan","status":"in_progress"}]`),
	)

	tasks := scanner.Scan()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].ID != "new" || tasks[0].Status != state.TaskInProgress {
		t.Errorf("expected most recent todo list, got %+v", tasks[0])
	}
}

func TestScan_MalformedTrailingLinesSkipped(t *testing.T) {
	scanner, projectDir := createTestScanner(t)

	writeTranscript(t, projectDir, "session-1.jsonl",
		todoWriteLine(`[{"id":"t1","content":"Build","status":"pending"}]`),
		`{"truncated": `,
		"not json at all",
	)

	tasks := scanner.Scan()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task despite malformed trailing lines, got %d", len(tasks))
	}
	if tasks[0].ID != "t1" {
		t.Errorf("unexpected task: %+v", tasks[0])
	}
}

func TestScan_AggregatesFilesInEnumerationOrder(t *testing.T) {
	scanner, projectDir := createTestScanner(t)

	writeTranscript(t, projectDir, "a-session.jsonl",
		todoWriteLine(`[{"id":"a1","content":"First","status":"completed"}]`),
	)
	writeTranscript(t, projectDir, "b-session.jsonl",
		todoWriteLine(`[{"id":"b1","content":"Second","status":"pending"}]`),
	)

	tasks := scanner.Scan()
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != "a1" || tasks[1].ID != "b1" {
		t.Errorf("expected enumeration order a1,b1, got %+v", tasks)
	}
}

func TestScan_FileOutsideWindowExcluded(t *testing.T) {
	scanner, projectDir := createTestScanner(t)

	path := writeTranscript(t, projectDir, "stale.jsonl",
		todoWriteLine(`[{"id":"s1","content":"Stale","status":"pending"}]`),
	)
	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("failed to age file: %v", err)
	}

	tasks := scanner.Scan()
	if len(tasks) != 0 {
		t.Errorf("expected stale file to be excluded, got %+v", tasks)
	}
}

func TestScan_UnknownStatusDefaultsToPending(t *testing.T) {
	scanner, projectDir := createTestScanner(t)

	writeTranscript(t, projectDir, "session-1.jsonl",
		todoWriteLine(`[{"id":"t1","content":"Mystery","status":"paused"}]`),
	)

	tasks := scanner.Scan()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].Status != state.TaskPending {
		t.Errorf("expected pending, got %s", tasks[0].Status)
	}
}

func TestScan_MissingIDIsStableAcrossScans(t *testing.T) {
	scanner, projectDir := createTestScanner(t)

	writeTranscript(t, projectDir, "session-1.jsonl",
		todoWriteLine(`[{"content":"No id here","status":"pending"}]`),
	)

	first := scanner.Scan()
	second := scanner.Scan()
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected 1 task per scan, got %d and %d", len(first), len(second))
	}
	if first[0].ID == "" {
		t.Fatal("expected generated id")
	}
	if first[0].ID != second[0].ID {
		t.Errorf("generated id not stable: %s vs %s", first[0].ID, second[0].ID)
	}
}

func TestScan_StringContentEntriesTolerated(t *testing.T) {
	scanner, projectDir := createTestScanner(t)

	writeTranscript(t, projectDir, "session-1.jsonl",
		`{"message":{"content":["plain text entry",{"name":"TodoWrite","input":{"todos":[{"id":"t1","content":"Mixed","status":"pending"}]}}]}}`,
	)

	tasks := scanner.Scan()
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Errorf("expected TodoWrite extracted from mixed content, got %+v", tasks)
	}
}

func TestScan_MissingProjectsDir(t *testing.T) {
	scanner := NewScanner(filepath.Join(t.TempDir(), "does-not-exist"), time.Hour)

	tasks := scanner.Scan()
	if tasks != nil {
		t.Errorf("expected nil for missing projects dir, got %+v", tasks)
	}
}

func TestScan_NoTodoWriteRecords(t *testing.T) {
	scanner, projectDir := createTestScanner(t)

	writeTranscript(t, projectDir, "session-1.jsonl",
		`{"message":{"content":[{"name":"Read","input":{"file_path":"/tmp/x"}}]}}`,
		`{"type":"summary","summary":"a session"}`,
	)

	tasks := scanner.Scan()
	if len(tasks) != 0 {
		t.Errorf("expected no tasks, got %+v", tasks)
	}
}
