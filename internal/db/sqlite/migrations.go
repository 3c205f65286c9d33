package sqlite

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// migration is one idempotent schema step. Applied steps are recorded in
// schema_migrations and skipped on later opens, so pointing the store at
// an existing database never re-runs DDL against live tables.
type migration struct {
	id    string
	stmts []string
}

var schemaMigrations = []migration{
	{
		id: "001_core_tables",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS sdk_sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				claude_session_id TEXT NOT NULL UNIQUE,
				project TEXT NOT NULL DEFAULT '',
				user_prompt TEXT,
				prompt_counter INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'active',
				started_at TEXT NOT NULL,
				started_at_epoch INTEGER NOT NULL,
				completed_at TEXT,
				completed_at_epoch INTEGER
			)`,
			`CREATE TABLE IF NOT EXISTS observations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL REFERENCES sdk_sessions(claude_session_id) ON DELETE CASCADE,
				project TEXT NOT NULL DEFAULT '',
				type TEXT NOT NULL DEFAULT 'change',
				title TEXT,
				subtitle TEXT,
				narrative TEXT,
				facts TEXT,
				concepts TEXT,
				files_read TEXT,
				files_modified TEXT,
				prompt_number INTEGER,
				discovery_tokens INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS session_summaries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL REFERENCES sdk_sessions(claude_session_id) ON DELETE CASCADE,
				project TEXT NOT NULL DEFAULT '',
				request TEXT,
				investigated TEXT,
				learned TEXT,
				completed TEXT,
				next_steps TEXT,
				notes TEXT,
				prompt_number INTEGER,
				discovery_tokens INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS user_prompts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL REFERENCES sdk_sessions(claude_session_id) ON DELETE CASCADE,
				prompt_number INTEGER NOT NULL DEFAULT 0,
				prompt_text TEXT NOT NULL,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL
			)`,
		},
	},
	{
		// External-content FTS5 indexes. Deliberately no sync triggers:
		// each write path maintains its index inside the same transaction
		// as the row write, so the contract lives in store code rather
		// than in schema side effects.
		id: "002_fts_tables",
		stmts: []string{
			`CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
				title, subtitle, narrative, facts,
				content='observations',
				content_rowid='id'
			)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS session_summaries_fts USING fts5(
				request, investigated, learned, completed, next_steps, notes,
				content='session_summaries',
				content_rowid='id'
			)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS user_prompts_fts USING fts5(
				prompt_text,
				content='user_prompts',
				content_rowid='id'
			)`,
		},
	},
	{
		id: "003_indexes",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_observations_project_epoch ON observations(project, created_at_epoch DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_summaries_project_epoch ON session_summaries(project, created_at_epoch DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_summaries_session ON session_summaries(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_prompts_session ON user_prompts(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_prompts_epoch ON user_prompts(created_at_epoch DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_project ON sdk_sessions(project)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_started_epoch ON sdk_sessions(started_at_epoch DESC)`,
		},
	},
}

// migrate brings the schema up to date. Safe to run on every open.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		id TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range schemaMigrations {
		applied, err := s.migrationApplied(ctx, m.id)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
		log.Debug().Str("migration", m.id).Msg("applied schema migration")
	}
	return nil
}

func (s *Store) migrationApplied(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", id, err)
	}
	return count > 0, nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.id, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %s: %w", m.id, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (id, applied_at) VALUES (?, datetime('now'))`, m.id); err != nil {
		return fmt.Errorf("record migration %s: %w", m.id, err)
	}
	return tx.Commit()
}
