package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestRun_Idempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	for i := 0; i < 2; i++ {
		if err := Run(db); err != nil {
			t.Fatalf("Run %d failed: %v", i+1, err)
		}
	}

	version, err := GetCurrentVersion(db)
	if err != nil {
		t.Fatalf("Failed to read version: %v", err)
	}
	if version != AllMigrations[len(AllMigrations)-1].Version {
		t.Errorf("Expected version %d, got: %d", AllMigrations[len(AllMigrations)-1].Version, version)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if count != len(AllMigrations) {
		t.Errorf("Expected %d recorded migrations, got: %d", len(AllMigrations), count)
	}
}
