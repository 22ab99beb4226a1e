package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studiowebux/apitest/internal/migrations"
	"github.com/studiowebux/apitest/internal/types"
)

// timestampLayout is fixed-width so stored values sort as text
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when a history entry does not exist
var ErrNotFound = errors.New("history entry not found")

// Entry is one recorded single-call execution
type Entry struct {
	ID         int64            `json:"id" yaml:"id"`
	Timestamp  time.Time        `json:"timestamp" yaml:"timestamp"`
	Source     string           `json:"source,omitempty" yaml:"source,omitempty"` // definition file, or "api"
	Name       string           `json:"name,omitempty" yaml:"name,omitempty"`
	Method     string           `json:"method" yaml:"method"`
	URL        string           `json:"url" yaml:"url"`
	Status     int              `json:"status" yaml:"status"`
	Passed     bool             `json:"passed" yaml:"passed"`
	Attempts   int              `json:"attempts" yaml:"attempts"`
	DurationMs int64            `json:"durationMs" yaml:"durationMs"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	Execution  *types.Execution `json:"execution,omitempty" yaml:"execution,omitempty"`
}

// Manager stores call history in the SQLite database shared with reports
type Manager struct {
	db *sql.DB
}

// NewManager opens (and migrates) the database at dbPath. ":memory:" is accepted.
func NewManager(dbPath string) (*Manager, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		dsn = "file:" + dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Manager{db: db}, nil
}

// Save records an execution; the summary columns come from its last attempt
func (m *Manager) Save(ctx context.Context, source string, exec *types.Execution) (int64, error) {
	last := exec.Last()
	if last == nil {
		return 0, fmt.Errorf("execution has no attempts")
	}

	payload, err := json.Marshal(exec)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal execution: %w", err)
	}

	name := last.Name
	if exec.Definition != nil && name == "" {
		name = exec.Definition.DisplayName()
	}

	res, err := m.db.ExecContext(ctx, `
		INSERT INTO history (
			timestamp, source, name, method, url, endpoint, status, passed,
			attempts, duration_ms, error, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		time.Now().UTC().Format(timestampLayout), source, name, last.Method, last.URL,
		NormalizeEndpoint(last.URL), last.Status, exec.Passed, len(exec.Attempts),
		exec.Duration, last.Error, string(payload),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save history entry: %w", err)
	}
	return res.LastInsertId()
}

const summaryColumns = `id, timestamp, source, COALESCE(name, ''), method, url, status,
	passed, attempts, duration_ms, COALESCE(error, '')`

// Load returns entries newest first without their payload. limit <= 0 returns all.
func (m *Manager) Load(ctx context.Context, limit int) ([]Entry, error) {
	return m.query(ctx, "", limit)
}

// LoadForSource returns the entries recorded from one definition file
func (m *Manager) LoadForSource(ctx context.Context, source string, limit int) ([]Entry, error) {
	return m.query(ctx, source, limit)
}

func (m *Manager) query(ctx context.Context, source string, limit int) ([]Entry, error) {
	query := "SELECT " + summaryColumns + " FROM history"
	args := []interface{}{}
	if source != "" {
		query += " WHERE source = ?"
		args = append(args, source)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get loads one entry with its full execution
func (m *Manager) Get(ctx context.Context, id int64) (*Entry, error) {
	var payload string
	row := m.db.QueryRowContext(ctx, "SELECT "+summaryColumns+", payload FROM history WHERE id = ?", id)
	e, err := scanEntry(func(dest ...interface{}) error {
		return row.Scan(append(dest, &payload)...)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var exec types.Execution
	if err := json.Unmarshal([]byte(payload), &exec); err != nil {
		return nil, fmt.Errorf("failed to decode history entry: %w", err)
	}
	e.Execution = &exec
	return &e, nil
}

func scanEntry(scan func(dest ...interface{}) error) (Entry, error) {
	var e Entry
	var timestamp string
	err := scan(&e.ID, &timestamp, &e.Source, &e.Name, &e.Method, &e.URL, &e.Status,
		&e.Passed, &e.Attempts, &e.DurationMs, &e.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan history entry: %w", err)
	}
	e.Timestamp = parseTimestamp(timestamp)
	return e, nil
}

// parseTimestamp accepts the stored layout and the RFC 3339 form the driver
// produces when it has already decoded the column
func parseTimestamp(v string) time.Time {
	for _, layout := range []string{timestampLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Delete removes one entry
func (m *Manager) Delete(ctx context.Context, id int64) error {
	res, err := m.db.ExecContext(ctx, "DELETE FROM history WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete history entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// Clear removes every entry and returns how many were deleted
func (m *Manager) Clear(ctx context.Context) (int64, error) {
	res, err := m.db.ExecContext(ctx, "DELETE FROM history")
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}
	return res.RowsAffected()
}

// GetCount returns the number of entries
func (m *Manager) GetCount(ctx context.Context) (int, error) {
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return count, nil
}

// Close closes the database
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
