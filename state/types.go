package state

import (
	"fmt"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task as reported by the CLI
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// NormalizeTaskStatus maps unknown status strings to pending.
// Transcripts and hook scripts are external producers, so any value
// outside the known set is treated as a safe default rather than an error.
func NormalizeTaskStatus(s string) TaskStatus {
	switch TaskStatus(s) {
	case TaskPending, TaskInProgress, TaskCompleted:
		return TaskStatus(s)
	default:
		return TaskPending
	}
}

// Task is a single entry in the CLI's task list
type Task struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	Status     TaskStatus `json:"status"`
	ActiveForm string     `json:"activeForm,omitempty"`
}

// PendingAction is a tool invocation awaiting human approval
type PendingAction struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
	ToolName    string `json:"toolName,omitempty"`
}

// Snapshot is the aggregate state exchanged with the hook-script producer
// and exposed to the companion UI
type Snapshot struct {
	IsActive       bool            `json:"isActive"`
	Tasks          []Task          `json:"tasks"`
	PendingActions []PendingAction `json:"pendingActions"`
	SessionID      string          `json:"sessionId,omitempty"`
	TerminalApp    string          `json:"terminalApp,omitempty"`
}

// EmptySnapshot returns a snapshot with empty (non-nil) collections
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Tasks:          []Task{},
		PendingActions: []PendingAction{},
	}
}

// Clone returns a deep copy of the snapshot
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Tasks = make([]Task, len(s.Tasks))
	copy(c.Tasks, s.Tasks)
	c.PendingActions = make([]PendingAction, len(s.PendingActions))
	copy(c.PendingActions, s.PendingActions)
	return &c
}

// IsSessionStop reports whether this snapshot is the hook's session-stop
// signal: an empty task list together with an empty pending-action list.
func (s *Snapshot) IsSessionStop() bool {
	return len(s.Tasks) == 0 && len(s.PendingActions) == 0
}

// Normalize assigns generated ids where the producer omitted them and maps
// unknown task statuses to pending. Generated ids are derived from content,
// not random: reloading identical file bytes must normalize to an identical
// snapshot or change suppression breaks.
func (s *Snapshot) Normalize() {
	if s.Tasks == nil {
		s.Tasks = []Task{}
	}
	if s.PendingActions == nil {
		s.PendingActions = []PendingAction{}
	}
	for i := range s.Tasks {
		if s.Tasks[i].ID == "" {
			s.Tasks[i].ID = DeriveID("task", i, s.Tasks[i].Content)
		}
		s.Tasks[i].Status = NormalizeTaskStatus(string(s.Tasks[i].Status))
	}
	for i := range s.PendingActions {
		if s.PendingActions[i].ID == "" {
			a := &s.PendingActions[i]
			a.ID = DeriveID("action", i, a.Type+"|"+a.Description+"|"+a.Timestamp)
		}
	}
}

// DeriveID returns a deterministic UUID for an element the producer shipped
// without an id, keyed by kind, position and content
func DeriveID(kind string, i int, content string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s-%d-%s", kind, i, content)).String()
}

// TasksEqual compares two task lists by content and order
func TasksEqual(a, b []Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ActionsEqual compares two pending-action lists by content and order
func ActionsEqual(a, b []PendingAction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Equal compares two snapshots by content
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.IsActive == o.IsActive &&
		s.SessionID == o.SessionID &&
		s.TerminalApp == o.TerminalApp &&
		TasksEqual(s.Tasks, o.Tasks) &&
		ActionsEqual(s.PendingActions, o.PendingActions)
}
