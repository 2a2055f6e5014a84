package sqlite

import (
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 0.0005
}

func TestReadStats(t *testing.T) {
	empty, err := ReadStats(prometheus.NewRegistry())
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
	assert.False(t, empty.Time.IsZero())

	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// second registration of the same collectors fails
	require.Error(t, Register(reg))

	before, err := ReadStats(reg)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		RecordInsertUpdate(0.7)
	}
	for i := 0; i < 5; i++ {
		RecordDelete(0.9)
	}
	for i := 0; i < 20; i++ {
		RecordSelect(0.5)
	}

	after, err := ReadStats(reg)
	require.NoError(t, err)
	assert.False(t, after.IsZero())

	d := after.Sub(before)
	assert.Equal(t, int64(10), d.Writes.Count)
	assert.True(t, floatEquals(d.Writes.Seconds, 7), "%f", d.Writes.Seconds)
	assert.Equal(t, 700*time.Millisecond, d.Writes.Avg().Round(time.Millisecond))
	assert.Equal(t, int64(5), d.Deletes.Count)
	assert.Equal(t, 900*time.Millisecond, d.Deletes.Avg().Round(time.Millisecond))
	assert.Equal(t, int64(20), d.Selects.Count)
	assert.True(t, floatEquals(d.Selects.Seconds, 10))
	assert.Zero(t, Queries{}.Avg())
}

func TestStatsRatesSince(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur Stats
		want      Rates
	}{
		{
			name: "both zero",
		},
		{
			name: "ten second interval",
			prev: Stats{
				Time:    time.Unix(1000, 0),
				Writes:  Queries{Count: 100},
				Deletes: Queries{Count: 50},
				Selects: Queries{Count: 200},
			},
			cur: Stats{
				Time:    time.Unix(1010, 0),
				Writes:  Queries{Count: 200},
				Deletes: Queries{Count: 70},
				Selects: Queries{Count: 400},
			},
			want: Rates{Writes: 10, Deletes: 2, Selects: 20},
		},
		{
			name: "no previous read",
			cur:  Stats{Time: time.Unix(1000, 0), Writes: Queries{Count: 100}},
		},
		{
			name: "time went backwards",
			prev: Stats{Time: time.Unix(1010, 0), Selects: Queries{Count: 1}},
			cur:  Stats{Time: time.Unix(1000, 0), Selects: Queries{Count: 2}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cur.RatesSince(tt.prev)
			assert.True(t, floatEquals(got.Writes, tt.want.Writes), "writes %f", got.Writes)
			assert.True(t, floatEquals(got.Deletes, tt.want.Deletes), "deletes %f", got.Deletes)
			assert.True(t, floatEquals(got.Selects, tt.want.Selects), "selects %f", got.Selects)
		})
	}
}
