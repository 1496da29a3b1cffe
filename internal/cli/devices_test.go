package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/capsync/internal/model"
)

func TestDevicesListAndHistory(t *testing.T) {
	opts := newTestOpts(t, "text")
	st := openStore(t, opts.DBPath)
	ctx := context.Background()

	require.NoError(t, st.SaveDevice(ctx, model.SensorDevice{
		Address: "00:06:66:AA:BB:CC", Name: "Shimmer3 GSR+", ConnectionType: "bluetooth",
		Connected: true, SamplingRate: 128, BatteryLevel: 87, PreferredOrder: 1,
	}))
	require.NoError(t, st.SaveDevice(ctx, model.SensorDevice{
		Address: "00:06:66:DD:EE:FF", Name: "Spare", ConnectionType: "bluetooth", PreferredOrder: 2,
	}))
	_, err := st.LogConnectionAttempt(ctx, model.ConnectionHistory{
		DeviceAddress: "00:06:66:AA:BB:CC", Action: "connect", Success: false,
		ErrorMessage: "timeout", Timestamp: 1000, DurationMs: 5000,
	})
	require.NoError(t, err)

	out, _, err := execute(t, NewDevicesCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "00:06:66:AA:BB:CC  Shimmer3 GSR+")
	assert.Contains(t, out, "connected  battery 87%  128 Hz")
	assert.Contains(t, out, "disconnected")

	out, _, err = execute(t, NewDevicesCommand(opts), "--history", "00:06:66:AA:BB:CC")
	require.NoError(t, err)
	assert.Contains(t, out, "✗ connect")
	assert.Contains(t, out, "5000ms  timeout")
}

func TestDevicesEmpty(t *testing.T) {
	opts := newTestOpts(t, "text")

	out, _, err := execute(t, NewDevicesCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "No devices found.")

	out, _, err = execute(t, NewDevicesCommand(opts), "--history", "nope")
	require.NoError(t, err)
	assert.Contains(t, out, "No connection history for nope.")
}

func TestDevicesJSON(t *testing.T) {
	opts := newTestOpts(t, "json")

	out, _, err := execute(t, NewDevicesCommand(opts))
	require.NoError(t, err)

	var resp struct {
		Status string               `json:"status"`
		Data   []model.SensorDevice `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Empty(t, resp.Data)
}
