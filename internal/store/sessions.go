package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/capsync/internal/model"
)

const sessionColumns = `session_id, recording_state, device_states, created_at, start_time,
	end_time, updated_at, video_enabled, raw_enabled, bio_signal_enabled,
	error_occurred, error_message`

// InsertSession writes a new session row. UpdatedAt defaults to now.
// Returns ErrDuplicate if the session ID exists.
func (s *Store) InsertSession(ctx context.Context, st model.SessionState) error {
	if st.SessionID == "" {
		return fmt.Errorf("insert session: empty session id")
	}
	if !st.RecordingState.Valid() {
		return fmt.Errorf("insert session %s: unknown state %q", st.SessionID, st.RecordingState)
	}
	devices, err := encodeSessionDevices(st)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", st.SessionID, err)
	}
	if st.UpdatedAt == 0 {
		st.UpdatedAt = s.nowMs()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_states (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		st.SessionID,
		string(st.RecordingState),
		devices,
		st.CreatedAt,
		st.StartTime,
		nullInt(st.EndTime),
		st.UpdatedAt,
		st.VideoEnabled,
		st.RawEnabled,
		st.BioSignalEnabled,
		st.ErrorOccurred,
		nullString(st.ErrorMessage),
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("insert session %s: %w", st.SessionID, ErrDuplicate)
		}
		return fmt.Errorf("insert session %s: %w", st.SessionID, err)
	}

	s.notifyWatchers()
	return nil
}

// UpdateSession replaces a session row. The transition from the persisted
// state to st.RecordingState is validated in the same transaction; an
// illegal edge returns ErrIllegalTransition and leaves the row unchanged.
// UpdatedAt is always set to now.
func (s *Store) UpdateSession(ctx context.Context, st model.SessionState) error {
	devices, err := encodeSessionDevices(st)
	if err != nil {
		return fmt.Errorf("update session %s: %w", st.SessionID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update session %s: %w", st.SessionID, err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT recording_state FROM session_states WHERE session_id = ?`, st.SessionID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update session %s: %w", st.SessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update session %s: %w", st.SessionID, err)
	}

	from := model.RecordingState(current)
	if !from.CanTransitionTo(st.RecordingState) {
		return fmt.Errorf("update session %s: %s -> %s: %w",
			st.SessionID, from, st.RecordingState, ErrIllegalTransition)
	}

	st.UpdatedAt = s.nowMs()
	_, err = tx.ExecContext(ctx, `
		UPDATE session_states SET
			recording_state = ?, device_states = ?, created_at = ?, start_time = ?,
			end_time = ?, updated_at = ?, video_enabled = ?, raw_enabled = ?,
			bio_signal_enabled = ?, error_occurred = ?, error_message = ?
		WHERE session_id = ?
	`,
		string(st.RecordingState),
		devices,
		st.CreatedAt,
		st.StartTime,
		nullInt(st.EndTime),
		st.UpdatedAt,
		st.VideoEnabled,
		st.RawEnabled,
		st.BioSignalEnabled,
		st.ErrorOccurred,
		nullString(st.ErrorMessage),
		st.SessionID,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", st.SessionID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update session %s: %w", st.SessionID, err)
	}

	s.notifyWatchers()
	return nil
}

// GetSession returns one session or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (model.SessionState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM session_states WHERE session_id = ?`, id)
	st, err := s.scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SessionState{}, fmt.Errorf("get session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.SessionState{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return st, nil
}

// ActiveSessions returns every session in Starting or Recording, oldest first.
func (s *Store) ActiveSessions(ctx context.Context) ([]model.SessionState, error) {
	sessions, err := s.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM session_states
		WHERE recording_state IN (?, ?)
		ORDER BY created_at ASC, session_id ASC
	`, string(model.StateStarting), string(model.StateRecording))
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	return sessions, nil
}

// LatestSession returns the most recently created session or ErrNotFound.
func (s *Store) LatestSession(ctx context.Context) (model.SessionState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM session_states
		ORDER BY created_at DESC, session_id DESC
		LIMIT 1
	`)
	st, err := s.scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SessionState{}, fmt.Errorf("latest session: %w", ErrNotFound)
	}
	if err != nil {
		return model.SessionState{}, fmt.Errorf("latest session: %w", err)
	}
	return st, nil
}

// ListSessions returns up to limit sessions, newest first. limit <= 0 means all.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]model.SessionState, error) {
	query := `SELECT ` + sessionColumns + ` FROM session_states
		ORDER BY created_at DESC, session_id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	sessions, err := s.querySessions(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes one session. Reports whether a row was deleted.
func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_states WHERE session_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	if n > 0 {
		s.notifyWatchers()
	}
	return n > 0, nil
}

// DeleteOlderThan removes sessions created before cutoffMs. With
// terminalOnly, only Completed and Failed sessions are removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoffMs int64, terminalOnly bool) (int64, error) {
	query := `DELETE FROM session_states WHERE created_at < ?`
	args := []any{cutoffMs}
	if terminalOnly {
		query += ` AND recording_state IN (?, ?)`
		args = append(args, string(model.StateCompleted), string(model.StateFailed))
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete sessions older than %d: %w", cutoffMs, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete sessions older than %d: %w", cutoffMs, err)
	}
	if n > 0 {
		s.notifyWatchers()
	}
	return n, nil
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]model.SessionState, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.SessionState
	for rows.Next() {
		st, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, st)
	}
	return sessions, rows.Err()
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession reads one row. A device_states column that cannot be decoded
// does not fail the row: the text is kept in UndecodedDevices so the
// session stays visible to listing and recovery.
func (s *Store) scanSession(r rowScanner) (model.SessionState, error) {
	var (
		st       model.SessionState
		state    string
		devices  string
		endTime  sql.NullInt64
		errorMsg sql.NullString
	)
	err := r.Scan(
		&st.SessionID,
		&state,
		&devices,
		&st.CreatedAt,
		&st.StartTime,
		&endTime,
		&st.UpdatedAt,
		&st.VideoEnabled,
		&st.RawEnabled,
		&st.BioSignalEnabled,
		&st.ErrorOccurred,
		&errorMsg,
	)
	if err != nil {
		return model.SessionState{}, err
	}

	st.RecordingState, err = model.ParseRecordingState(state)
	if err != nil {
		return model.SessionState{}, fmt.Errorf("session %s: %w", st.SessionID, err)
	}
	st.DeviceStates, err = DecodeDeviceStates(devices)
	if err != nil {
		s.logger.Warn("store: undecodable device states",
			"session_id", st.SessionID, "error", err)
		st.DeviceStates = nil
		st.UndecodedDevices = devices
	}
	st.EndTime = endTime.Int64
	st.ErrorMessage = errorMsg.String
	return st, nil
}

// encodeSessionDevices writes back undecoded text unchanged unless the
// caller supplied new device states.
func encodeSessionDevices(st model.SessionState) (string, error) {
	if len(st.DeviceStates) == 0 && st.UndecodedDevices != "" {
		return st.UndecodedDevices, nil
	}
	return EncodeDeviceStates(st.DeviceStates)
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
