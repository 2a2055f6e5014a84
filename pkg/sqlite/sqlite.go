// Package sqlite opens and maintains the SQLite3 state database that
// persists error events.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	_ "github.com/mattn/go-sqlite3"

	"github.com/leptonai/nvswitchd/pkg/log"
)

const memoryFile = ":memory:"

// BuildConnectionString returns the URI form of the data source name.
// ref. https://www.sqlite.org/uri.html
// ref. https://github.com/mattn/go-sqlite3?tab=readme-ov-file#connection-string
func BuildConnectionString(file string, opts ...OpOption) (string, error) {
	op := &Op{}
	if err := op.applyOpts(opts); err != nil {
		return "", err
	}

	params := make([]string, 0, 6)
	if file == memoryFile && op.cache != "" {
		params = append(params, "cache="+op.cache)
	}

	// ref. https://www.sqlite.org/pragma.html#pragma_busy_timeout
	// ref. https://www.sqlite.org/pragma.html#pragma_journal_mode
	params = append(params, "_busy_timeout=5000", "_journal_mode=WAL", "_synchronous=NORMAL")

	if op.readOnly {
		params = append(params, "mode=ro")
	} else {
		// ref. https://github.com/mattn/go-sqlite3/issues/1179#issuecomment-1638083995
		params = append(params, "_txlock=immediate")
	}

	return "file:" + file + "?" + strings.Join(params, "&"), nil
}

// Open opens the database. Read-write handles are limited to one
// connection so that writers serialize on the handle, not on SQLITE_BUSY.
func Open(file string, opts ...OpOption) (*sql.DB, error) {
	op := &Op{}
	if err := op.applyOpts(opts); err != nil {
		return nil, err
	}
	conns, err := BuildConnectionString(file, opts...)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", conns)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 database: %w (%q)", err, conns)
	}

	if !op.readOnly {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		// an in-memory database lives as long as its last connection
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	return db, nil
}

// TableExists reports whether the named table exists.
func TableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var got string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got == name, nil
}

func ReadDBSize(ctx context.Context, db *sql.DB) (uint64, error) {
	var pageCount uint64
	err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("no page count")
	}
	if err != nil {
		return 0, err
	}

	var pageSize uint64
	err = db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("no page size")
	}
	if err != nil {
		return 0, err
	}

	return pageCount * pageSize, nil
}

// Compact runs VACUUM.
func Compact(ctx context.Context, db *sql.DB) error {
	log.Logger.Infow("compacting state database")
	if _, err := db.ExecContext(ctx, "VACUUM;"); err != nil {
		return err
	}
	log.Logger.Infow("successfully compacted state database")
	return nil
}

// CompactResult is the state file size around a compaction.
type CompactResult struct {
	Before uint64 `json:"before"`
	After  uint64 `json:"after"`
}

func (r CompactResult) String() string {
	return fmt.Sprintf("%s -> %s", humanize.Bytes(r.Before), humanize.Bytes(r.After))
}

// RunCompact opens the state file, compacts it and returns the size
// before and after.
func RunCompact(ctx context.Context, dbFile string) (CompactResult, error) {
	dbRW, err := Open(dbFile)
	if err != nil {
		return CompactResult{}, fmt.Errorf("failed to open state file: %w", err)
	}
	defer func() {
		_ = dbRW.Close()
	}()

	dbRO, err := Open(dbFile, WithReadOnly(true))
	if err != nil {
		return CompactResult{}, fmt.Errorf("failed to open state file: %w", err)
	}
	defer func() {
		_ = dbRO.Close()
	}()

	var res CompactResult
	res.Before, err = ReadDBSize(ctx, dbRO)
	if err != nil {
		return CompactResult{}, fmt.Errorf("failed to read state file size: %w", err)
	}
	log.Logger.Infow("state file size before compact", "size", humanize.Bytes(res.Before))

	if err := Compact(ctx, dbRW); err != nil {
		return CompactResult{}, fmt.Errorf("failed to compact state file: %w", err)
	}

	res.After, err = ReadDBSize(ctx, dbRO)
	if err != nil {
		return CompactResult{}, fmt.Errorf("failed to read state file size: %w", err)
	}
	log.Logger.Infow("state file size after compact", "size", humanize.Bytes(res.After))

	return res, nil
}
