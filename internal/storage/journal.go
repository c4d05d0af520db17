// Package storage persists the conversation journal in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	_ "github.com/mattn/go-sqlite3"

	"formcopilot/internal/domain"
	"formcopilot/internal/ports"
)

// SQLiteJournal is an append-only log of chat turns.
type SQLiteJournal struct {
	db *sql.DB
}

var _ ports.Journal = (*SQLiteJournal)(nil)

// OpenJournal opens (and creates) the journal at path. ":memory:" keeps it
// in process.
func OpenJournal(path string) (*SQLiteJournal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	journal := &SQLiteJournal{db: db}
	if err := journal.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return journal, nil
}

func (j *SQLiteJournal) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			turn_id TEXT NOT NULL UNIQUE,
			feature TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_feature ON turns(feature, seq)`,
	}
	for _, m := range migrations {
		if _, err := j.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) Record(ctx context.Context, entry domain.JournalEntry) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, feature, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Feature), entry.SessionID, string(entry.Turn.Role), entry.Turn.Content, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

// Turns returns the feature's most recent turns, oldest first. A limit of
// zero returns everything.
func (j *SQLiteJournal) Turns(ctx context.Context, feature domain.Feature, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT turn_id, feature, session_id, role, content, created_at FROM turns
		WHERE feature = ? ORDER BY seq DESC LIMIT ?`,
		string(feature), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			entry      domain.JournalEntry
			featureKey string
			role       string
		)
		if err := rows.Scan(&entry.ID, &featureKey, &entry.SessionID, &role, &entry.Turn.Content, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		entry.Feature = domain.Feature(featureKey)
		entry.Turn.Role = domain.Role(role)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	return entries, nil
}
