package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/testutil"
)

// runWithTimeout runs the service until ctx expires.
func runWithTimeout(t *testing.T, opts *RunOptions, d time.Duration) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetContext(ctx)

	errChan := make(chan error, 1)
	go func() { errChan <- runService(opts, cmd) }()

	select {
	case err := <-errChan:
		return out.String(), errOut.String(), err
	case <-time.After(5 * time.Second):
		t.Fatal("run did not respect context cancellation")
		return "", "", nil
	}
}

func TestRunRecoversAndStops(t *testing.T) {
	root := newTestOpts(t, "text")
	seedSessions(t, root.DBPath, model.SessionState{
		SessionID:      "crashed",
		RecordingState: model.StateRecording,
		CreatedAt:      time.Now().UnixMilli(),
	})

	opts := &RunOptions{
		RootOptions: root,
		ClockSource: testutil.NewManualSource(int64(time.Second)),
		IDGenerator: testutil.NewFixedIDGenerator("run-1"),
	}
	out, logs, err := runWithTimeout(t, opts, 200*time.Millisecond)
	require.NoError(t, err)

	assert.Contains(t, out, "Recovered 1 crashed session(s).")
	assert.Contains(t, out, "capsync started")
	assert.Contains(t, out, "Stopped. pairs=0")
	assert.Contains(t, logs, `"msg":"runtime: started"`, "service logs are JSON")

	_, err = os.Stat(root.DBPath)
	require.NoError(t, err, "database should exist")
	got, err := openStore(t, root.DBPath).GetSession(context.Background(), "crashed")
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, got.RecordingState)
}

func TestRunJSONSummary(t *testing.T) {
	opts := &RunOptions{
		RootOptions: newTestOpts(t, "json"),
		ClockSource: testutil.NewManualSource(int64(time.Second)),
	}
	out, _, err := runWithTimeout(t, opts, 100*time.Millisecond)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data, "metrics")
}

func TestRunInvalidConfig(t *testing.T) {
	t.Setenv("CAPSYNC_CORRELATION_WORKERS", "zero")

	opts := &RunOptions{RootOptions: newTestOpts(t, "text")}
	_, _, err := runWithTimeout(t, opts, time.Second)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "CAPSYNC_CORRELATION_WORKERS")
}

func TestRunUnopenableDatabase(t *testing.T) {
	root := newTestOpts(t, "text")
	root.DBPath = "/nonexistent/dir/capsync.db"

	_, _, err := runWithTimeout(t, &RunOptions{RootOptions: root}, time.Second)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to start runtime")
}

func TestRunRejectsArgs(t *testing.T) {
	_, _, err := execute(t, NewRunCommand(newTestOpts(t, "text")), "./specs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRunHelpText(t *testing.T) {
	out, _, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Start the capsync synchronization service")
	assert.Contains(t, out, "crash recovery")
}
