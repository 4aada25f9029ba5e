//go:build !integration

package main

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"load", "view", "train", "pipeline", "validate", "serve", "runs", "worker", "schedule"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "fraud-pipeline", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)
}

func TestRootCommand_ExamplesUseRegisteredCommands(t *testing.T) {
	for _, c := range []*cobra.Command{rootCmd, loadCmd, runsCmd} {
		require.NotEmpty(t, c.Example, c.Name())
		for _, line := range strings.Split(c.Example, "\n") {
			fields := strings.Fields(line)
			if len(fields) < 2 || fields[0] != "fraud-pipeline" {
				continue
			}
			var args []string
			for _, f := range fields[1:] {
				if strings.HasPrefix(f, "-") {
					break
				}
				args = append(args, f)
			}
			found, _, err := rootCmd.Find(args)
			require.NoError(t, err, line)
			assert.NotEqual(t, rootCmd, found, "example %q does not name a subcommand", line)
		}
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestPipelineCommand_Flags(t *testing.T) {
	for _, name := range []string{"source", "skip-load", "remote"} {
		assert.NotNil(t, pipelineCmd.Flags().Lookup(name), "pipeline command should have --%s flag", name)
	}
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "best", "stats"} {
		assert.True(t, names[name], "expected runs subcommand %q not found", name)
	}

	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestViewCommand_HasRebuild(t *testing.T) {
	cmds := viewCmd.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "rebuild", cmds[0].Name())
}
