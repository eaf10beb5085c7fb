package highscore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileStore keeps the leaderboard in a CSV file of name,score,date lines.
// Saves write a temporary file next to the target and rename it into place.
type FileStore struct {
	path  string
	limit int
}

// NewFileStore creates a store backed by path. The file is created on first save.
func NewFileStore(path string, limit int) *FileStore {
	return &FileStore{path: path, limit: limit}
}

// Load reads the leaderboard. A missing file is an empty leaderboard.
func (s *FileStore) Load(ctx context.Context) ([]Entry, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open highscore file %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3
	r.TrimLeadingSpace = true

	var entries []Entry
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse highscore file %s: %w", s.path, err)
		}

		score, err := strconv.Atoi(strings.TrimSpace(record[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid score on line %d of %s: %w", line, s.path, err)
		}
		entries = append(entries, Entry{Name: record[0], Score: score, Date: strings.TrimSpace(record[2])})
	}

	return Normalize(entries, s.limit), nil
}

// Save replaces the file with entries
func (s *FileStore) Save(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create highscore directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary highscore file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	for _, e := range Normalize(entries, s.limit) {
		if err := w.Write([]string{e.Name, strconv.Itoa(e.Score), e.Date}); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write highscore entry: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write highscore file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync highscore file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close highscore file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace highscore file %s: %w", s.path, err)
	}
	return nil
}

// Close is a no-op; the file is only open during Load and Save
func (s *FileStore) Close() error {
	return nil
}
