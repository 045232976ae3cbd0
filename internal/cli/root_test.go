package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "memstate", cmd.Use)
	assert.Contains(t, cmd.Long, "journal")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"exec", "replay", "tail", "bench", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestExecSubcommandPresence(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"set", "get", "delete", "clear", "keys", "submit"} {
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{"exec", name})
			require.NoError(t, err)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("metrics-addr"))
}

func TestExecCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	execCmd, _, err := cmd.Find([]string{"exec"})
	require.NoError(t, err)

	dbFlag := execCmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "", dbFlag.DefValue)

	submitCmd, _, err := cmd.Find([]string{"exec", "submit"})
	require.NoError(t, err)
	argsFlag := submitCmd.Flags().Lookup("args")
	require.NotNil(t, argsFlag)
	assert.Equal(t, "{}", argsFlag.DefValue)
}

func TestTailCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	tailCmd, _, err := cmd.Find([]string{"tail"})
	require.NoError(t, err)

	require.NotNil(t, tailCmd.Flags().Lookup("db"))
	assert.Equal(t, "1", tailCmd.Flags().Lookup("from").DefValue)
	assert.Equal(t, "0", tailCmd.Flags().Lookup("limit").DefValue)
	require.NotNil(t, tailCmd.Flags().Lookup("since"))
}

func TestBenchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	benchCmd, _, err := cmd.Find([]string{"bench"})
	require.NoError(t, err)

	assert.Equal(t, "n", benchCmd.Flags().Lookup("commands").Shorthand)
	assert.Equal(t, "c", benchCmd.Flags().Lookup("concurrency").Shorthand)
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	filterFlag := testCmd.Flags().Lookup("filter")
	require.NotNil(t, filterFlag)
}

func TestFormatValidation(t *testing.T) {
	// Test valid formats
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	// Test invalid formats
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, err := runCLI(t, "--format", "invalid", "exec", "keys")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestBadConfigFile(t *testing.T) {
	_, err := runCLI(t, "--config", "/nonexistent/memstate.yaml", "exec", "keys")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
