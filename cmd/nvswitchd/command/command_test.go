package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApp(t *testing.T) {
	app := App()
	assert.Equal(t, "nvswitchd", app.Name)

	for _, name := range []string{"simulate", "events", "compact", "decode"} {
		cmd := app.Command(name)
		require.NotNil(t, cmd, name)
		assert.NotNil(t, cmd.Action, name)
	}

	globals := make(map[string]bool)
	for _, f := range app.Flags {
		globals[f.GetName()] = true
	}
	for _, name := range []string{"config,c", "data-dir", "db-in-memory", "device", "log-level,l", "log-file"} {
		assert.True(t, globals[name], name)
	}
}

func TestAppSimulateInMemory(t *testing.T) {
	app := App()
	err := app.Run([]string{"nvswitchd", "--db-in-memory", "--log-level", "error",
		"simulate", "--fault", "route.nonfatal.0/5/1", "--settle", "0s", "--output", "json"})
	require.NoError(t, err)
}

func TestAppSimulateRequiresFault(t *testing.T) {
	app := App()
	err := app.Run([]string{"nvswitchd", "--db-in-memory", "simulate"})
	assert.Error(t, err)
}
