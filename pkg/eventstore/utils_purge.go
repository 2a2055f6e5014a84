package eventstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/leptonai/nvswitchd/pkg/log"
)

// PurgeByDevices purges the events older than before from the named
// device buckets, or from every event table when no device is named.
func PurgeByDevices(ctx context.Context, dbRW *sql.DB, dbRO *sql.DB, before time.Time, devices ...string) (int, error) {
	tableNames := make([]string, 0, len(devices))
	for _, device := range devices {
		tableNames = append(tableNames, TableName(device))
	}

	if len(tableNames) == 0 {
		var err error
		tableNames, err = listTables(ctx, dbRO)
		if err != nil {
			return 0, err
		}
		log.Logger.Infow("purging all event tables", "tableNames", tableNames)
	}

	total := 0
	for _, tableName := range tableNames {
		purged, err := purgeEvents(ctx, dbRW, tableName, before.UnixMilli())
		if err != nil {
			return total, err
		}
		log.Logger.Infow("purged events", "tableName", tableName, "purged", purged)
		total += purged
	}

	return total, nil
}

func listTables(ctx context.Context, dbRO *sql.DB) ([]string, error) {
	rows, err := dbRO.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table'")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		if !strings.HasPrefix(name, tablePrefix) || !strings.HasSuffix(name, "_events_"+schemaVersion) {
			continue
		}

		names = append(names, name)
	}

	return names, rows.Err()
}
