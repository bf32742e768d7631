package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCommandHasServeAndMigrateSubcommands(t *testing.T) {
	gs := newGlobalTestState(map[string]string{})
	root := newRootCommand(gs)

	var names []string
	for _, c := range root.cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "migrate")
}

func TestRootCommandFlagsOverrideDefaults(t *testing.T) {
	gs := newGlobalTestState(map[string]string{})
	root := newRootCommand(gs)
	root.cmd.RunE = func(cmd *cobra.Command, args []string) error { return nil }

	_, err := executeCommand(root.cmd, "--listen", ":9999", "--database-url", "postgres://example/db")
	require.NoError(t, err)
	assert.Equal(t, ":9999", gs.flags.listenAddress)
	assert.Equal(t, "postgres://example/db", gs.flags.databaseURL)
}

func TestGetFlagsAppliesEnvironmentOverrides(t *testing.T) {
	env := map[string]string{
		"COLLECTOR_LISTEN_ADDRESS": ":1234",
		"COLLECTOR_DATABASE_URL":   "postgres://env/db",
		"COLLECTOR_VERBOSE":        "1",
	}
	flags := getFlags(getDefaultFlags(), env)
	assert.Equal(t, ":1234", flags.listenAddress)
	assert.Equal(t, "postgres://env/db", flags.databaseURL)
	assert.True(t, flags.verbose)
}
