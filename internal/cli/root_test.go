package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "capsync", cmd.Use)
	assert.Contains(t, cmd.Long, "master clock")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"run", "recover", "sessions", "prune", "simulate", "devices", "test", "validate"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
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

	for _, name := range []string{"db", "artifacts"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, "", f.DefValue)
	}
}

func TestSubcommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	tests := []struct {
		command string
		flag    string
		def     string
	}{
		{"recover", "days", "-1"},
		{"sessions", "active", "false"},
		{"sessions", "latest", "false"},
		{"sessions", "limit", "20"},
		{"prune", "days", "0"},
		{"simulate", "duration", "3s"},
		{"simulate", "bio-rate", "-1"},
		{"devices", "history", ""},
		{"test", "update", "false"},
		{"test", "filter", ""},
		{"test", "golden", ""},
	}
	for _, tt := range tests {
		sub, _, err := cmd.Find([]string{tt.command})
		require.NoError(t, err)
		f := sub.Flags().Lookup(tt.flag)
		require.NotNil(t, f, "%s --%s", tt.command, tt.flag)
		assert.Equal(t, tt.def, f.DefValue, "%s --%s", tt.command, tt.flag)
	}
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--format", "xml", "validate"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestValidFormats(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
}
