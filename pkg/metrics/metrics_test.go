package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	before := testutil.ToFloat64(errorEvents.WithLabelValues("route", "fatal"))
	RecordEvent("route", "fatal")
	RecordEvent("route", "fatal")
	assert.Equal(t, before+2, testutil.ToFloat64(errorEvents.WithLabelValues("route", "fatal")))

	before = testutil.ToFloat64(deferred.WithLabelValues(OutcomeEmitted))
	RecordDeferred(OutcomeEmitted)
	assert.Equal(t, before+1, testutil.ToFloat64(deferred.WithLabelValues(OutcomeEmitted)))

	before = testutil.ToFloat64(unhandledBits.WithLabelValues("route.fatal.0"))
	RecordUnhandled("route.fatal.0", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(unhandledBits.WithLabelValues("route.fatal.0")))
}

func TestRegisterAndScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// registering twice fails
	require.Error(t, Register(reg))

	RecordPass("handled")
	RecordContainment("crossbar", PathDirect)
	RecordSinkDropped()

	ms, err := Scrape(reg)
	require.NoError(t, err)
	require.NotEmpty(t, ms)

	var found bool
	for i, m := range ms {
		// sink_dropped_total has no component label
		assert.NotEqual(t, "nvswitch_sink_dropped_total", m.Name)
		assert.Equal(t, "nvswitch-interrupts", m.Component)
		if i > 0 {
			assert.LessOrEqual(t, ms[i-1].Name, m.Name)
		}
		if m.Name == "nvswitch_containments_total" && m.Labels["block"] == "crossbar" {
			found = true
			assert.Equal(t, PathDirect, m.Labels["path"])
			assert.GreaterOrEqual(t, m.Value, 1.0)
		}
	}
	assert.True(t, found)
}

func TestScrapeNilGatherer(t *testing.T) {
	ms, err := Scrape(nil)
	assert.NoError(t, err)
	assert.Nil(t, ms)
}
