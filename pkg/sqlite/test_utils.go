package sqlite

import (
	"database/sql"
	"os"
	"testing"
)

// OpenTestDB opens a read-write and a read-only handle on a temporary
// state file. The returned func closes both and removes the file.
//
// The file is initialized through the read-write handle first: a
// read-only WAL connection cannot create the database on its own.
func OpenTestDB(t *testing.T) (*sql.DB, *sql.DB, func()) {
	tmpf, err := os.CreateTemp(t.TempDir(), "nvswitchd-state")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	_ = tmpf.Close()

	dbRW, err := Open(tmpf.Name())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if _, err := dbRW.Exec("PRAGMA user_version = 1"); err != nil {
		t.Fatalf("failed to initialize database: %v", err)
	}

	dbRO, err := Open(tmpf.Name(), WithReadOnly(true))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	return dbRW, dbRO, func() {
		_ = dbRW.Close()
		_ = dbRO.Close()
		_ = os.Remove(tmpf.Name())
	}
}
