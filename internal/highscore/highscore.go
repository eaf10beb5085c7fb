package highscore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// DateLayout is the format of Entry.Date
const DateLayout = "2006-01-02"

// DefaultLimit is the leaderboard length
const DefaultLimit = 5

// ErrUnknownBackend is returned by Open for an unsupported backend name
var ErrUnknownBackend = errors.New("unknown highscore backend")

// Entry is one leaderboard line
type Entry struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Date  string `json:"date"`
}

// NewEntry creates an entry dated at now
func NewEntry(name string, score int, now time.Time) Entry {
	return Entry{Name: name, Score: score, Date: now.Format(DateLayout)}
}

// Store persists the leaderboard
type Store interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
	Close() error
}

// Open creates the store for backend ("file" or "sqlite") at path
func Open(backend, path string, limit int) (Store, error) {
	switch backend {
	case "file", "":
		return NewFileStore(path, limit), nil
	case "sqlite":
		return OpenSQLiteStore(path, limit)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// Insert places e into entries, which must already be sorted best first.
// An entry tying an existing score goes after it. The result is trimmed to
// limit; inserted is false when e did not make the cut.
func Insert(entries []Entry, e Entry, limit int) (result []Entry, inserted bool) {
	pos := len(entries)
	for i, existing := range entries {
		if e.Score > existing.Score {
			pos = i
			break
		}
	}
	if pos >= limit {
		return Normalize(entries, limit), false
	}

	result = make([]Entry, 0, len(entries)+1)
	result = append(result, entries[:pos]...)
	result = append(result, e)
	result = append(result, entries[pos:]...)
	return Normalize(result, limit), true
}

// Qualifies reports whether score would enter the leaderboard
func Qualifies(entries []Entry, score, limit int) bool {
	_, inserted := Insert(entries, Entry{Score: score}, limit)
	return inserted
}

// Normalize sorts entries best first, keeping the relative order of equal
// scores, and trims the list to limit
func Normalize(entries []Entry, limit int) []Entry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if limit >= 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
