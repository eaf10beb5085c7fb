package highscore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the leaderboard in a single SQLite table
type SQLiteStore struct {
	db    *sql.DB
	limit int
}

// OpenSQLiteStore opens (or creates) the database at path
func OpenSQLiteStore(path string, limit int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open highscore database %s: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	store := &SQLiteStore{db: db, limit: limit}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS highscores (
		position INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		score INTEGER NOT NULL,
		date TEXT NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create highscores table: %w", err)
	}
	return nil
}

// Load reads the leaderboard best first
func (s *SQLiteStore) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, score, date FROM highscores ORDER BY position LIMIT ?", s.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query highscores: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.Score, &e.Date); err != nil {
			return nil, fmt.Errorf("failed to scan highscore: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read highscores: %w", err)
	}
	return Normalize(entries, s.limit), nil
}

// Save replaces every row in one transaction
func (s *SQLiteStore) Save(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM highscores"); err != nil {
		return fmt.Errorf("failed to clear highscores: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO highscores (position, name, score, date) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range Normalize(entries, s.limit) {
		if _, err := stmt.ExecContext(ctx, i+1, e.Name, e.Score, e.Date); err != nil {
			return fmt.Errorf("failed to insert highscore %q: %w", e.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit highscores: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
