package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/leptonai/nvswitchd/pkg/log"
	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/sqlite"
)

const schemaVersion = "v0_1_0"

const tablePrefix = "nvswitch_"

const (
	columnID = "id"

	// columnTimestamp represents the event timestamp in unix milliseconds.
	columnTimestamp = "timestamp"

	// columnKind represents the SXid, e.g., 12028.
	columnKind = "kind"

	// columnName represents the fault name, e.g., "Egress non-posted PRIV error".
	columnName = "name"

	// columnBlock represents the functional block, e.g., "egress", "nvldl".
	columnBlock = "block"

	// columnSeverity represents "fatal", "nonfatal" or "correctable".
	columnSeverity = "severity"

	columnLinkID        = "link_id"
	columnInstance      = "instance"
	columnAddress       = "address"
	columnUncorrectable = "uncorrectable"
	columnCount         = "count"

	// columnData represents the diagnostic words as a JSON array.
	columnData = "data"
)

var allColumns = []string{
	columnID,
	columnTimestamp,
	columnKind,
	columnName,
	columnBlock,
	columnSeverity,
	columnLinkID,
	columnInstance,
	columnAddress,
	columnUncorrectable,
	columnCount,
	columnData,
}

var (
	_ Store  = &database{}
	_ Bucket = &table{}
)

type database struct {
	dbRW      *sql.DB
	dbRO      *sql.DB
	retention time.Duration
}

type table struct {
	rootCtx    context.Context
	rootCancel context.CancelFunc

	retention     time.Duration
	purgeInterval time.Duration

	table string
	dbRW  *sql.DB
	dbRO  *sql.DB
}

func New(dbRW *sql.DB, dbRO *sql.DB, retention time.Duration) (Store, error) {
	if dbRW == nil || dbRO == nil {
		return nil, errors.New("eventstore: nil database handle")
	}
	return &database{
		dbRW:      dbRW,
		dbRO:      dbRO,
		retention: retention,
	}, nil
}

func (d *database) Bucket(name string, opts ...OpOption) (Bucket, error) {
	op := &Op{}
	if err := op.applyOpts(opts); err != nil {
		return nil, err
	}

	// purge more often than the retention so that a restart does not
	// leave expired rows for a full period
	retention := d.retention
	purgeInterval := retention / 5
	if purgeInterval < time.Second {
		purgeInterval = time.Second
	}
	if op.disablePurge {
		retention = 0
		purgeInterval = 0
	}

	return newTable(d.dbRW, d.dbRO, name, retention, purgeInterval)
}

func newTable(dbRW *sql.DB, dbRO *sql.DB, name string, retention time.Duration, purgeInterval time.Duration) (*table, error) {
	tableName := TableName(name)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := createTable(ctx, dbRW, tableName)
	cancel()
	if err != nil {
		return nil, err
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	t := &table{
		rootCtx:       rootCtx,
		rootCancel:    rootCancel,
		table:         tableName,
		dbRW:          dbRW,
		dbRO:          dbRO,
		retention:     retention,
		purgeInterval: purgeInterval,
	}
	if retention > time.Second {
		go t.runPurge()
	}
	return t, nil
}

// TableName returns the table of a device bucket, in the format of
// "nvswitch_{device}_events_{schema version}".
func TableName(device string) string {
	c := strings.ReplaceAll(device, " ", "_")
	c = strings.ReplaceAll(c, "-", "_")
	c = strings.ReplaceAll(c, ":", "_")
	c = strings.ReplaceAll(c, ".", "_")
	for strings.Contains(c, "__") {
		c = strings.ReplaceAll(c, "__", "_")
	}
	c = strings.ToLower(c)
	return fmt.Sprintf("%s%s_events_%s", tablePrefix, c, schemaVersion)
}

func (t *table) Name() string {
	return t.table
}

func (t *table) runPurge() {
	log.Logger.Infow("start purging", "table", t.table, "retention", t.retention, "checkInterval", t.purgeInterval)
	ticker := time.NewTicker(t.purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.rootCtx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now().UTC()
		purged, err := t.Purge(t.rootCtx, now.Add(-t.retention))
		if err != nil {
			log.Logger.Errorw("failed to purge data", "table", t.table, "retention", t.retention, "error", err)
		} else if purged > 0 {
			log.Logger.Infow("purged data", "table", t.table, "retention", t.retention, "purged", purged)
		}
	}
}

func (t *table) Close() {
	if t.rootCancel != nil {
		log.Logger.Debugw("closing the store", "table", t.table)
		t.rootCancel()
	}
}

func (t *table) Insert(ctx context.Context, ev Event) error {
	return insertEvent(ctx, t.dbRW, t.table, ev)
}

func (t *table) Find(ctx context.Context, ev nvswitch.ErrorEvent) (*Event, error) {
	return findEvent(ctx, t.dbRO, t.table, ev)
}

func (t *table) Get(ctx context.Context, since time.Time, opts ...OpOption) (Events, error) {
	op := &Op{}
	if err := op.applyOpts(opts); err != nil {
		return nil, err
	}
	return getEvents(ctx, t.dbRO, t.table, since, op)
}

func (t *table) Latest(ctx context.Context) (*Event, error) {
	return lastEvent(ctx, t.dbRO, t.table)
}

func (t *table) Purge(ctx context.Context, before time.Time) (int, error) {
	return purgeEvents(ctx, t.dbRW, t.table, before.UnixMilli())
}

func createTable(ctx context.Context, db *sql.DB, tableName string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	%s TEXT NOT NULL PRIMARY KEY,
	%s INTEGER NOT NULL,
	%s INTEGER NOT NULL,
	%s TEXT NOT NULL,
	%s TEXT NOT NULL,
	%s TEXT NOT NULL,
	%s INTEGER NOT NULL,
	%s INTEGER NOT NULL,
	%s INTEGER,
	%s INTEGER NOT NULL,
	%s INTEGER NOT NULL,
	%s TEXT
);`, tableName,
		columnID,
		columnTimestamp,
		columnKind,
		columnName,
		columnBlock,
		columnSeverity,
		columnLinkID,
		columnInstance,
		columnAddress,
		columnUncorrectable,
		columnCount,
		columnData,
	))
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	for _, col := range []string{columnTimestamp, columnKind, columnLinkID} {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s);`,
			tableName, col, tableName, col))
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func insertEvent(ctx context.Context, db *sql.DB, tableName string, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	var dataJSON []byte
	if len(ev.Data) > 0 {
		var err error
		dataJSON, err = json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
	}

	var addr sql.NullInt64
	if ev.Address != nil {
		addr = sql.NullInt64{Int64: int64(*ev.Address), Valid: true}
	}

	start := time.Now()
	_, err := db.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''))",
		tableName,
		strings.Join(allColumns, ", "),
	),
		ev.ID,
		ev.Time.UnixMilli(),
		ev.Kind,
		ev.Name,
		ev.Block.String(),
		ev.Severity.String(),
		ev.LinkID,
		ev.Instance,
		addr,
		ev.Uncorrectable,
		ev.Count,
		string(dataJSON),
	)
	sqlite.RecordInsertUpdate(time.Since(start).Seconds())

	return err
}

func findEvent(ctx context.Context, db *sql.DB, tableName string, ev nvswitch.ErrorEvent) (*Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ? AND %s = ? AND %s = ? AND %s = ? LIMIT 1`,
		strings.Join(allColumns, ", "),
		tableName,
		columnTimestamp,
		columnKind,
		columnLinkID,
		columnInstance,
	)

	start := time.Now()
	row := db.QueryRowContext(ctx, query, ev.Time.UnixMilli(), ev.Kind, ev.LinkID, ev.Instance)
	sqlite.RecordSelect(time.Since(start).Seconds())

	found, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &found, nil
}

// getEvents returns the events in the descending order of timestamp
// (latest event first); events of the same millisecond keep the reverse
// insertion order.
func getEvents(ctx context.Context, db *sql.DB, tableName string, since time.Time, op *Op) (Events, error) {
	query := fmt.Sprintf(`SELECT %s
FROM %s
WHERE %s > ?`,
		strings.Join(allColumns, ", "),
		tableName,
		columnTimestamp,
	)
	params := []any{since.UTC().UnixMilli()}

	if len(op.kindsToSelect) > 0 {
		query += fmt.Sprintf(" AND %s IN (%s)", columnKind, placeholders(len(op.kindsToSelect)))
		params = append(params, sortedKinds(op.kindsToSelect)...)
	}
	if len(op.kindsToExclude) > 0 {
		query += fmt.Sprintf(" AND %s NOT IN (%s)", columnKind, placeholders(len(op.kindsToExclude)))
		params = append(params, sortedKinds(op.kindsToExclude)...)
	}

	query += fmt.Sprintf(" ORDER BY %s DESC, rowid DESC", columnTimestamp)
	if op.limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", op.limit)
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, query, params...)
	sqlite.RecordSelect(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var events Events
	for rows.Next() {
		event, err := scan(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events, nil
}

func lastEvent(ctx context.Context, db *sql.DB, tableName string) (*Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s DESC, rowid DESC LIMIT 1`,
		strings.Join(allColumns, ", "), tableName, columnTimestamp)

	start := time.Now()
	row := db.QueryRowContext(ctx, query)
	sqlite.RecordSelect(time.Since(start).Seconds())

	found, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &found, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Event, error) {
	var (
		event         Event
		timestamp     int64
		block         string
		severity      string
		addr          sql.NullInt64
		uncorrectable int
		data          sql.NullString
	)
	err := s.Scan(
		&event.ID,
		&timestamp,
		&event.Kind,
		&event.Name,
		&block,
		&severity,
		&event.LinkID,
		&event.Instance,
		&addr,
		&uncorrectable,
		&event.Count,
		&data,
	)
	if err != nil {
		return event, err
	}

	event.Time = time.UnixMilli(timestamp).UTC()
	event.Uncorrectable = uncorrectable != 0
	if addr.Valid {
		a := uint32(addr.Int64)
		event.Address = &a
	}

	event.Block, err = nvswitch.ParseBlock(block)
	if err != nil {
		return event, err
	}
	event.Severity, err = nvswitch.ParseSeverity(severity)
	if err != nil {
		return event, err
	}

	if err := unmarshalIfValid(data, &event.Data); err != nil {
		return event, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return event, nil
}

func purgeEvents(ctx context.Context, db *sql.DB, tableName string, beforeUnixMilli int64) (int, error) {
	deleteStatement := fmt.Sprintf(`DELETE FROM %s WHERE %s < ?`, tableName, columnTimestamp)

	start := time.Now()
	rs, err := db.ExecContext(ctx, deleteStatement, beforeUnixMilli)
	if err != nil {
		return 0, err
	}
	sqlite.RecordDelete(time.Since(start).Seconds())

	affected, err := rs.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func sortedKinds(m map[int]any) []any {
	kinds := make([]int, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Ints(kinds)

	out := make([]any, len(kinds))
	for i, k := range kinds {
		out[i] = k
	}
	return out
}

func unmarshalIfValid(data sql.NullString, v any) error {
	if !data.Valid {
		return nil
	}
	if len(data.String) == 0 || data.String == "null" {
		return nil
	}
	if !strings.HasPrefix(data.String, "[") {
		return fmt.Errorf("invalid JSON array: %q", data.String)
	}
	return json.Unmarshal([]byte(data.String), v)
}
