package db

import (
	"database/sql"
)

func init() {
	RegisterMigration(Migration{
		Version:     1,
		Description: "Initial schema - decision audit log",
		Up:          migration001Initial,
	})
}

func migration001Initial(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		CREATE TABLE decisions (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			action_id TEXT NOT NULL,
			action_type TEXT NOT NULL,
			description TEXT,
			tool_name TEXT,
			decided_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`CREATE INDEX idx_decisions_decided_at ON decisions(decided_at DESC)`)
	if err != nil {
		return err
	}

	return tx.Commit()
}
