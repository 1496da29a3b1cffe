package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/capsync/internal/model"
)

// LogConnectionAttempt appends one audit row and returns its ID. A zero
// Timestamp is set to now.
func (s *Store) LogConnectionAttempt(ctx context.Context, h model.ConnectionHistory) (int64, error) {
	if h.Timestamp == 0 {
		h.Timestamp = s.nowMs()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO connection_history
		(device_address, action, success, error_message, timestamp, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		h.DeviceAddress,
		h.Action,
		h.Success,
		nullString(h.ErrorMessage),
		h.Timestamp,
		h.DurationMs,
	)
	if err != nil {
		return 0, fmt.Errorf("log connection attempt %s: %w", h.DeviceAddress, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("log connection attempt %s: %w", h.DeviceAddress, err)
	}
	return id, nil
}

// ConnectionHistory returns up to limit rows for address, newest first.
// limit <= 0 means all.
func (s *Store) ConnectionHistory(ctx context.Context, address string, limit int) ([]model.ConnectionHistory, error) {
	query := `
		SELECT id, device_address, action, success, error_message, timestamp, duration_ms
		FROM connection_history
		WHERE device_address = ?
		ORDER BY timestamp DESC, id DESC`
	args := []any{address}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("connection history %s: %w", address, err)
	}
	defer rows.Close()

	var out []model.ConnectionHistory
	for rows.Next() {
		var (
			h      model.ConnectionHistory
			errMsg sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.DeviceAddress, &h.Action, &h.Success, &errMsg, &h.Timestamp, &h.DurationMs); err != nil {
			return nil, fmt.Errorf("connection history %s: %w", address, err)
		}
		h.ErrorMessage = errMsg.String
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connection history %s: %w", address, err)
	}
	return out, nil
}

// PruneConnectionHistory deletes rows older than cutoffMs.
func (s *Store) PruneConnectionHistory(ctx context.Context, cutoffMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connection_history WHERE timestamp < ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("prune connection history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune connection history: %w", err)
	}
	return n, nil
}
