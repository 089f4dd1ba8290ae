package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/shohag/dispatchrelay/internal/models"
)

// --- Socket sessions ---

func scanSession(row scanner) (*models.Session, error) {
	var ss models.Session
	var active int
	if err := row.Scan(&ss.SessionID, &ss.UserID, &ss.UserType, &ss.ConnectedAt, &ss.LastActivity, &active); err != nil {
		return nil, err
	}
	ss.IsActive = active == 1
	return &ss, nil
}

// UpsertSession creates the session row, or re-activates it when a client
// resumes a known session id.
func (s *SQLiteStorage) UpsertSession(ctx context.Context, ss *models.Session) error {
	now := time.Now().UTC()
	if ss.ConnectedAt.IsZero() {
		ss.ConnectedAt = now
	}
	if ss.LastActivity.IsZero() {
		ss.LastActivity = now
	}
	ss.IsActive = true
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO websocket_sessions (session_id, user_id, user_type, connected_at, last_activity, is_active)
		 VALUES (?, ?, ?, ?, ?, 1)
		 ON CONFLICT(session_id) DO UPDATE SET
			user_id = excluded.user_id,
			user_type = excluded.user_type,
			connected_at = excluded.connected_at,
			last_activity = excluded.last_activity,
			is_active = 1`,
		ss.SessionID, ss.UserID, ss.UserType, ss.ConnectedAt, ss.LastActivity,
	)
	return err
}

func (s *SQLiteStorage) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	ss, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, user_type, connected_at, last_activity, is_active FROM websocket_sessions WHERE session_id = ?`,
		sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ss, err
}

func (s *SQLiteStorage) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE websocket_sessions SET last_activity = ? WHERE session_id = ?`, at, sessionID)
	return err
}

func (s *SQLiteStorage) DeactivateSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE websocket_sessions SET is_active = 0 WHERE session_id = ?`, sessionID)
	return err
}

func (s *SQLiteStorage) DeactivateAllSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE websocket_sessions SET is_active = 0 WHERE is_active = 1`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) ListActiveSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, user_id, user_type, connected_at, last_activity, is_active
		 FROM websocket_sessions WHERE is_active = 1 ORDER BY connected_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		ss, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *ss)
	}
	return sessions, rows.Err()
}
