package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/xiaoyuanzhu-com/claude-monitor/state"
)

// DecisionRecord is one audited approve/deny decision
type DecisionRecord struct {
	ID          string `json:"id"`
	Action      string `json:"action"`
	ActionID    string `json:"actionId"`
	ActionType  string `json:"actionType"`
	Description string `json:"description"`
	ToolName    string `json:"toolName,omitempty"`
	DecidedAt   int64  `json:"decidedAt"`
}

// NowMs returns the current time in epoch milliseconds
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// InsertDecision records an issued decision for the given pending action
func (d *DB) InsertDecision(decisionAction string, action state.PendingAction) error {
	_, err := d.conn.Exec(`
		INSERT INTO decisions (id, action, action_id, action_type, description, tool_name, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), decisionAction, action.ID, action.Type, action.Description, action.ToolName, NowMs())
	return err
}

// ListDecisions returns the most recent decisions, newest first
func (d *DB) ListDecisions(limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.conn.Query(`
		SELECT id, action, action_id, action_type, description, tool_name, decided_at
		FROM decisions
		ORDER BY decided_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]DecisionRecord, 0)
	for rows.Next() {
		var r DecisionRecord
		if err := rows.Scan(&r.ID, &r.Action, &r.ActionID, &r.ActionType, &r.Description, &r.ToolName, &r.DecidedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}
