package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leptonai/nvswitchd/pkg/sqlite"
)

func TestPurgeByDevices(t *testing.T) {
	dbRW, dbRO, cleanup := sqlite.OpenTestDB(t)
	defer cleanup()

	store, err := New(dbRW, dbRO, 0)
	require.NoError(t, err)

	ctx := context.Background()
	base := time.Now().UTC()

	buckets := map[string]Bucket{}
	for _, dev := range []string{"nvswitch0", "nvswitch1"} {
		b, err := store.Bucket(dev)
		require.NoError(t, err)
		defer b.Close()
		buckets[dev] = b
		for i := 0; i < 3; i++ {
			require.NoError(t, b.Insert(ctx, testEvent(12028, i, base.Add(time.Duration(i)*time.Minute))))
		}
	}

	// an unrelated table is left alone
	_, err = dbRW.ExecContext(ctx, "CREATE TABLE other_events (timestamp INTEGER)")
	require.NoError(t, err)

	tables, err := listTables(ctx, dbRO)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{TableName("nvswitch0"), TableName("nvswitch1")}, tables)

	purged, err := PurgeByDevices(ctx, dbRW, dbRO, base.Add(90*time.Second), "nvswitch0")
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	purged, err = PurgeByDevices(ctx, dbRW, dbRO, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, purged)

	for _, b := range buckets {
		events, err := b.Get(ctx, base.Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, events)
	}

	_, err = PurgeByDevices(ctx, dbRW, dbRO, base, "missing")
	assert.Error(t, err)
}
