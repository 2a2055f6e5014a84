package nvswitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultMerge(t *testing.T) {
	tests := []struct {
		a, b Result
		want Result
	}{
		{NotFound, NotFound, NotFound},
		{NotFound, Handled, Handled},
		{Handled, NotFound, Handled},
		{Handled, UnhandledBitsRemain, UnhandledBitsRemain},
		{UnhandledBitsRemain, NotFound, UnhandledBitsRemain},
		{MoreProcessingRequired, Handled, MoreProcessingRequired},
		{UnhandledBitsRemain, MoreProcessingRequired, MoreProcessingRequired},
	}
	for _, tt := range tests {
		t.Run(tt.a.String()+"+"+tt.b.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Merge(tt.b))
			assert.Equal(t, tt.want, tt.b.Merge(tt.a))
		})
	}
}

func TestParseBlockRoundTrip(t *testing.T) {
	for _, b := range Blocks() {
		got, err := ParseBlock(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
	_, err := ParseBlock("nope")
	assert.Error(t, err)
}

func TestParseSeverity(t *testing.T) {
	for _, s := range []Severity{Fatal, NonFatal, Correctable} {
		got, err := ParseSeverity(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	got, err := ParseSeverity("non-fatal")
	require.NoError(t, err)
	assert.Equal(t, NonFatal, got)
}

func TestLinkGates(t *testing.T) {
	l := &Link{ID: 3, Valid: true, ClocksOn: AllClocks}
	assert.True(t, l.Serviceable(ClockNPORT))
	assert.False(t, l.StormSuppressed())

	l.ClocksOn = l.ClocksOn.Without(ClockNVLDL)
	assert.False(t, l.Serviceable(ClockNVLDL))
	assert.True(t, l.Serviceable(ClockNVLTLC))

	l.InReset = true
	assert.False(t, l.Serviceable(ClockNPORT))

	l.FatalErrorOccurred = true
	assert.True(t, l.StormSuppressed())

	var nilLink *Link
	assert.False(t, nilLink.Serviceable(ClockNPORT))
	assert.False(t, nilLink.StormSuppressed())
}
