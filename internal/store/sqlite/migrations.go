package sqlite

import (
	"context"
	"fmt"
)

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			uid INTEGER NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			csrf TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			proxy TEXT NOT NULL DEFAULT '',
			cookies_json TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			account_id TEXT NOT NULL DEFAULT '',
			uid INTEGER NOT NULL DEFAULT 0,
			project_id TEXT NOT NULL DEFAULT '',
			screen_id TEXT NOT NULL DEFAULT '',
			ticket_id TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS grab_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			uid INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			order_id TEXT NOT NULL DEFAULT '',
			pay_token TEXT NOT NULL DEFAULT '',
			confirm_json TEXT NOT NULL DEFAULT '',
			pay_json TEXT NOT NULL DEFAULT '',
			at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_grab_results_task ON grab_results(task_id);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value_json TEXT NOT NULL DEFAULT '{}',
			updated_at INTEGER NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
