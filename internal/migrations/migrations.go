package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add report listing indices",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_reports_kind ON reports(kind, created_at DESC);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_reports_created_at;
			DROP INDEX IF EXISTS idx_reports_kind;
		`,
	},
	{
		Version: 2,
		Name:    "Add job_id lookup index",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_reports_job_id ON reports(job_id);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_reports_job_id;
		`,
	},
	{
		Version: 3,
		Name:    "Add call history",
		Up: `
			CREATE TABLE IF NOT EXISTS history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp DATETIME NOT NULL,
				source TEXT NOT NULL DEFAULT '',
				name TEXT,
				method TEXT NOT NULL,
				url TEXT NOT NULL,
				endpoint TEXT NOT NULL DEFAULT '',
				status INTEGER NOT NULL DEFAULT 0,
				passed INTEGER NOT NULL DEFAULT 0,
				attempts INTEGER NOT NULL DEFAULT 1,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				error TEXT,
				payload TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_history_timestamp ON history(timestamp DESC);
			CREATE INDEX IF NOT EXISTS idx_history_source ON history(source);
			CREATE INDEX IF NOT EXISTS idx_history_endpoint ON history(method, endpoint);
		`,
		Down: `
			DROP TABLE IF EXISTS history;
		`,
	},
}

// InitSchema creates all tables required across all modules
// This must be called before running migrations to ensure all tables exist
func InitSchema(db *sql.DB) error {
	schema := `
	-- Reports of finished batches and collected load tests
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		job_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		passed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		grade TEXT,
		created_at DATETIME NOT NULL,
		payload TEXT NOT NULL
	);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	// Initialize schema first to ensure all tables exist
	if err := InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
		}
		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version,
			migration.Name,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}
