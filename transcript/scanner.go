package transcript

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xiaoyuanzhu-com/claude-monitor/log"
	"github.com/xiaoyuanzhu-com/claude-monitor/state"
)

var logger = log.GetLogger("TranscriptScanner")

// Scanner extracts the most recent task-list state from session transcript
// logs. Transcripts are append-only newline-delimited JSON written by the
// CLI under <projectsDir>/<project>/<session>.jsonl; the newest TodoWrite
// record in a file supersedes every earlier one, so each file is scanned
// from the end backward and only the first hit is kept.
type Scanner struct {
	projectsDir string
	window      time.Duration

	// now is replaceable for deterministic window tests
	now func() time.Time
}

// NewScanner creates a scanner over the given projects directory, considering
// only files modified within the trailing window
func NewScanner(projectsDir string, window time.Duration) *Scanner {
	return &Scanner{
		projectsDir: projectsDir,
		window:      window,
		now:         time.Now,
	}
}

// Scan walks the projects directory and aggregates the latest task list of
// every recently-modified transcript, in file-enumeration order. Scanning is
// a multi-file blocking operation and runs from a worker goroutine. Missing
// directories and unreadable or malformed files are skipped, never fatal.
func (s *Scanner) Scan() []state.Task {
	projects, err := os.ReadDir(s.projectsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("dir", s.projectsDir).Msg("failed to read projects directory")
		}
		return nil
	}

	cutoff := s.now().Add(-s.window)
	var tasks []state.Task

	for _, project := range projects {
		if !project.IsDir() {
			continue
		}

		projectDir := filepath.Join(s.projectsDir, project.Name())
		files, err := os.ReadDir(projectDir)
		if err != nil {
			logger.Warn().Err(err).Str("dir", projectDir).Msg("failed to read project directory")
			continue
		}

		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".jsonl") {
				continue
			}

			info, err := file.Info()
			if err != nil || info.ModTime().Before(cutoff) {
				continue
			}

			path := filepath.Join(projectDir, file.Name())
			if found := latestTodos(path); found != nil {
				tasks = append(tasks, found...)
			}
		}
	}

	return tasks
}

// transcriptRecord is the envelope of a record of interest:
// {message: {content: [{name: "TodoWrite", input: {todos: [...]}}]}}
type transcriptRecord struct {
	Message struct {
		Content []json.RawMessage `json:"content"`
	} `json:"message"`
}

type toolInvocation struct {
	Name  string `json:"name"`
	Input struct {
		Todos []todoItem `json:"todos"`
	} `json:"input"`
}

type todoItem struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm"`
}

// latestTodos scans one transcript from the end backward and returns the
// tasks of the first (most recent) TodoWrite record, or nil when the file
// has none. A malformed line never stops extraction of valid data elsewhere.
func latestTodos(path string) []state.Task {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("file", path).Msg("failed to read transcript")
		return nil
	}

	lines := bytes.Split(data, []byte{'\n'})
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}

		var record transcriptRecord
		if err := json.Unmarshal(line, &record); err != nil {
			// Partial trailing writes and non-JSON lines are expected
			continue
		}

		for _, raw := range record.Message.Content {
			var invocation toolInvocation
			if err := json.Unmarshal(raw, &invocation); err != nil {
				// Content entries may be plain strings or other shapes
				continue
			}
			if invocation.Name != "TodoWrite" || invocation.Input.Todos == nil {
				continue
			}
			return todosToTasks(invocation.Input.Todos)
		}
	}

	return nil
}

func todosToTasks(todos []todoItem) []state.Task {
	tasks := make([]state.Task, 0, len(todos))
	for i, todo := range todos {
		task := state.Task{
			ID:         todo.ID,
			Content:    todo.Content,
			Status:     state.NormalizeTaskStatus(todo.Status),
			ActiveForm: todo.ActiveForm,
		}
		if task.ID == "" {
			// Deterministic fallback id: a random one would change on every
			// scan tick and defeat the reconciler's change suppression
			task.ID = state.DeriveID("todo", i, todo.Content)
		}
		tasks = append(tasks, task)
	}
	return tasks
}
