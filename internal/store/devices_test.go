package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/capsync/internal/model"
)

func TestSaveDevice_Upsert(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	d := model.SensorDevice{
		Address:         "00:06:66:AA:BB:CC",
		Name:            "Shimmer3 GSR+",
		ConnectionType:  "BLUETOOTH_CLASSIC",
		EnabledSensors:  []string{"GSR", "PPG"},
		SamplingRate:    128,
		GSRRange:        4,
		BatteryLevel:    90,
		FirmwareVersion: "1.0.2",
		AutoReconnect:   true,
	}
	require.NoError(t, s.SaveDevice(ctx, d))

	d.Connected = true
	d.BatteryLevel = 75
	d.FirmwareVersion = ""
	require.NoError(t, s.SaveDevice(ctx, d))

	got, err := s.GetDevice(ctx, d.Address)
	require.NoError(t, err)
	d.LastUpdated = testNowMs
	assert.Equal(t, d, got)

	all, err := s.ListDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSaveDevice_EmptyAddress(t *testing.T) {
	s := createTestStore(t)
	assert.Error(t, s.SaveDevice(context.Background(), model.SensorDevice{Name: "x"}))
}

func TestListDevices_PreferredOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, d := range []model.SensorDevice{
		{Address: "c", PreferredOrder: 1},
		{Address: "a", PreferredOrder: 2},
		{Address: "b", PreferredOrder: 1},
	} {
		require.NoError(t, s.SaveDevice(ctx, d))
	}

	all, err := s.ListDevices(ctx)
	require.NoError(t, err)
	var order []string
	for _, d := range all {
		order = append(order, d.Address)
	}
	assert.Equal(t, []string{"b", "c", "a"}, order)
}

func TestDeleteDevice(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDevice(ctx, model.SensorDevice{Address: "a"}))

	ok, err := s.DeleteDevice(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetDevice(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = s.DeleteDevice(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnectionHistory_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, ts := range []int64{100, 300, 200} {
		id, err := s.LogConnectionAttempt(ctx, model.ConnectionHistory{
			DeviceAddress: "a",
			Action:        "CONNECT",
			Success:       i != 1,
			Timestamp:     ts,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), id)
	}
	_, err := s.LogConnectionAttempt(ctx, model.ConnectionHistory{DeviceAddress: "other", Action: "SCAN"})
	require.NoError(t, err)

	hist, err := s.ConnectionHistory(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, []int64{300, 200, 100}, []int64{hist[0].Timestamp, hist[1].Timestamp, hist[2].Timestamp})
	assert.False(t, hist[0].Success)

	limited, err := s.ConnectionHistory(ctx, "a", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	other, err := s.ConnectionHistory(ctx, "other", 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, testNowMs, other[0].Timestamp, "zero timestamp defaults to now")
}

func TestConnectionHistory_SurvivesDeviceDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDevice(ctx, model.SensorDevice{Address: "a"}))
	_, err := s.LogConnectionAttempt(ctx, model.ConnectionHistory{
		DeviceAddress: "a", Action: "CONNECT", ErrorMessage: "timeout", Timestamp: 5,
	})
	require.NoError(t, err)
	_, err = s.DeleteDevice(ctx, "a")
	require.NoError(t, err)

	hist, err := s.ConnectionHistory(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "timeout", hist[0].ErrorMessage)
}

func TestPruneConnectionHistory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, ts := range []int64{10, 20, 30} {
		_, err := s.LogConnectionAttempt(ctx, model.ConnectionHistory{DeviceAddress: "a", Action: "CONNECT", Timestamp: ts})
		require.NoError(t, err)
	}

	n, err := s.PruneConnectionHistory(ctx, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	hist, err := s.ConnectionHistory(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, int64(30), hist[0].Timestamp)
}
