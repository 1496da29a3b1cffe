package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/store"
)

// newTestOpts points the CLI at a fresh database and artifacts root.
func newTestOpts(t *testing.T, format string) *RootOptions {
	t.Helper()
	dir := t.TempDir()
	return &RootOptions{
		Format:        format,
		DBPath:        filepath.Join(dir, "capsync.db"),
		ArtifactsRoot: filepath.Join(dir, "recordings"),
	}
}

// seedSessions writes rows directly through the store.
func seedSessions(t *testing.T, dbPath string, sessions ...model.SessionState) {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	for _, s := range sessions {
		require.NoError(t, st.InsertSession(context.Background(), s))
	}
}

func openStore(t *testing.T, dbPath string) *store.Store {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// execute runs cmd with args and returns stdout and stderr.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
