package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credcheck/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"evaluate", "batch", "seed", "serve", "reports"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "credcheck", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestEvaluateCommand_RequiredFlags(t *testing.T) {
	for _, name := range []string{"credential", "resume"} {
		flag := evaluateCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "evaluate command should have --%s flag", name)
		assert.Equal(t, []string{"true"}, flag.Annotations["cobra_annotation_bash_completion_one_required_flag"])
	}
}

func TestBatchCommand_Flags(t *testing.T) {
	flag := batchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "batch command should have --limit flag")
	assert.Equal(t, "0", flag.DefValue)

	require.NotNil(t, batchCmd.Flags().Lookup("manifest"))
	require.NotNil(t, batchCmd.Flags().Lookup("concurrency"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestSeedCommand_RequiresPaths(t *testing.T) {
	assert.Error(t, seedCmd.Args(seedCmd, nil))
	assert.NoError(t, seedCmd.Args(seedCmd, []string{"testdata/refs"}))
}

func TestReportsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range reportsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "stats"} {
		assert.True(t, names[name], "expected reports subcommand %q not found", name)
	}

	flag := reportsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "log-level"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "root command should have --%s flag", name)
	}
	assert.True(t, rootCmd.SilenceUsage)
}

func TestApplyRootOverrides(t *testing.T) {
	prev := logLevel
	t.Cleanup(func() { logLevel = prev })

	c := &config.Config{Log: config.LogConfig{Level: "info"}}
	logLevel = ""
	applyRootOverrides(c)
	assert.Equal(t, "info", c.Log.Level)

	logLevel = "debug"
	applyRootOverrides(c)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestEvaluationCommands_HaveSeedFlag(t *testing.T) {
	for _, c := range []*cobra.Command{evaluateCmd, batchCmd, serveCmd} {
		assert.NotNil(t, c.Flags().Lookup("seed"), "%s should have --seed flag", c.Name())
	}
}
