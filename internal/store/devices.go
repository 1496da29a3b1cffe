package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/capsync/internal/model"
)

const deviceColumns = `address, name, connection_type, connected, last_connected_at,
	enabled_sensors, sampling_rate, gsr_range, battery_level, firmware_version,
	auto_reconnect, preferred_order, last_updated`

// SaveDevice inserts or replaces the snapshot for d.Address. LastUpdated is
// set to now.
func (s *Store) SaveDevice(ctx context.Context, d model.SensorDevice) error {
	if d.Address == "" {
		return fmt.Errorf("save device: empty address")
	}
	sensors, err := marshalStrings(d.EnabledSensors)
	if err != nil {
		return fmt.Errorf("save device %s: %w", d.Address, err)
	}
	d.LastUpdated = s.nowMs()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sensor_devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			connection_type = excluded.connection_type,
			connected = excluded.connected,
			last_connected_at = excluded.last_connected_at,
			enabled_sensors = excluded.enabled_sensors,
			sampling_rate = excluded.sampling_rate,
			gsr_range = excluded.gsr_range,
			battery_level = excluded.battery_level,
			firmware_version = excluded.firmware_version,
			auto_reconnect = excluded.auto_reconnect,
			preferred_order = excluded.preferred_order,
			last_updated = excluded.last_updated
	`,
		d.Address,
		norm.NFC.String(d.Name),
		d.ConnectionType,
		d.Connected,
		d.LastConnectedAt,
		sensors,
		d.SamplingRate,
		d.GSRRange,
		d.BatteryLevel,
		nullString(d.FirmwareVersion),
		d.AutoReconnect,
		d.PreferredOrder,
		d.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("save device %s: %w", d.Address, err)
	}
	return nil
}

// GetDevice returns one device snapshot or ErrNotFound.
func (s *Store) GetDevice(ctx context.Context, address string) (model.SensorDevice, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM sensor_devices WHERE address = ?`, address)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SensorDevice{}, fmt.Errorf("get device %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return model.SensorDevice{}, fmt.Errorf("get device %s: %w", address, err)
	}
	return d, nil
}

// ListDevices returns every device in preferred connection order.
func (s *Store) ListDevices(ctx context.Context) ([]model.SensorDevice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM sensor_devices
		ORDER BY preferred_order ASC, address ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []model.SensorDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("list devices: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// DeleteDevice removes a device snapshot. Its connection history is kept.
func (s *Store) DeleteDevice(ctx context.Context, address string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sensor_devices WHERE address = ?`, address)
	if err != nil {
		return false, fmt.Errorf("delete device %s: %w", address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete device %s: %w", address, err)
	}
	return n > 0, nil
}

func scanDevice(r rowScanner) (model.SensorDevice, error) {
	var (
		d        model.SensorDevice
		sensors  string
		firmware sql.NullString
	)
	err := r.Scan(
		&d.Address,
		&d.Name,
		&d.ConnectionType,
		&d.Connected,
		&d.LastConnectedAt,
		&sensors,
		&d.SamplingRate,
		&d.GSRRange,
		&d.BatteryLevel,
		&firmware,
		&d.AutoReconnect,
		&d.PreferredOrder,
		&d.LastUpdated,
	)
	if err != nil {
		return model.SensorDevice{}, err
	}
	d.EnabledSensors, err = unmarshalStrings(sensors)
	if err != nil {
		return model.SensorDevice{}, fmt.Errorf("device %s: %w", d.Address, err)
	}
	d.FirmwareVersion = firmware.String
	return d, nil
}
