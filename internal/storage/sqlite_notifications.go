package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/shohag/dispatchrelay/internal/models"
)

// --- Notifications ---

const notificationColumns = `id, user_id, title, message, type, is_read, order_id, data, push_status, push_attempts,
	next_push_at, created_at`

func scanNotification(row scanner) (*models.Notification, error) {
	var n models.Notification
	var read int
	var data sql.NullString
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &read, &n.OrderID, &data, &n.PushStatus,
		&n.PushAttempts, &n.NextPushAt, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.IsRead = read == 1
	n.Data = rawJSON(data)
	return &n, nil
}

func (s *SQLiteStorage) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Type == "" {
		n.Type = models.NotificationInfo
	}
	if n.PushStatus == "" {
		n.PushStatus = models.PushNone
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (user_id, title, message, type, is_read, order_id, data, push_status, push_attempts,
			next_push_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.UserID, n.Title, n.Message, n.Type, boolToInt(n.IsRead), n.OrderID, nullJSON(n.Data), n.PushStatus,
		n.PushAttempts, n.NextPushAt, n.CreatedAt,
	)
	if err != nil {
		return err
	}
	n.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStorage) GetNotification(ctx context.Context, id int64) (*models.Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return n, err
}

func (s *SQLiteStorage) ListNotifications(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) MarkNotificationRead(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	return err
}

// MarkOffersRead marks one user's unread offers for an order as read.
func (s *SQLiteStorage) MarkOffersRead(ctx context.Context, orderID, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE order_id = ? AND user_id = ? AND type = ? AND is_read = 0`,
		orderID, userID, models.NotificationDeliveryOffer)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InvalidateOffers marks every other user's unread offer for the order as
// read and returns those users.
func (s *SQLiteStorage) InvalidateOffers(ctx context.Context, orderID, exceptUserID int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM notifications WHERE order_id = ? AND type = ? AND is_read = 0 AND user_id <> ?`,
		orderID, models.NotificationDeliveryOffer, exceptUserID)
	if err != nil {
		return nil, err
	}
	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		users = append(users, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE order_id = ? AND type = ? AND is_read = 0 AND user_id <> ?`,
		orderID, models.NotificationDeliveryOffer, exceptUserID,
	); err != nil {
		return nil, err
	}
	return users, tx.Commit()
}

func (s *SQLiteStorage) GetPendingPushes(ctx context.Context, limit int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE push_status IN (?, ?) AND (next_push_at IS NULL OR next_push_at <= ?)
		 ORDER BY created_at ASC, id ASC LIMIT ?`,
		models.PushPending, models.PushRetrying, time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) UpdatePush(ctx context.Context, id int64, status models.PushStatus, attempts int, nextAt *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET push_status = ?, push_attempts = ?, next_push_at = ? WHERE id = ?`,
		status, attempts, nextAt, id)
	return err
}

// --- Push tokens ---

func (s *SQLiteStorage) UpsertPushToken(ctx context.Context, t *models.PushToken) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.LastUsed = now
	t.IsActive = true
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_notification_tokens (user_id, token, platform, is_active, created_at, last_used)
		 VALUES (?, ?, ?, 1, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET
			user_id = excluded.user_id,
			platform = excluded.platform,
			is_active = 1,
			last_used = excluded.last_used`,
		t.UserID, t.Token, t.Platform, t.CreatedAt, t.LastUsed,
	)
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM push_notification_tokens WHERE token = ?`, t.Token,
	).Scan(&t.ID, &t.CreatedAt)
}

func (s *SQLiteStorage) ListActivePushTokens(ctx context.Context, userID int64) ([]models.PushToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, token, platform, is_active, created_at, last_used
		 FROM push_notification_tokens WHERE user_id = ? AND is_active = 1 ORDER BY last_used DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []models.PushToken
	for rows.Next() {
		var t models.PushToken
		var active int
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform, &active, &t.CreatedAt, &t.LastUsed); err != nil {
			return nil, err
		}
		t.IsActive = active == 1
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *SQLiteStorage) DeactivatePushToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE push_notification_tokens SET is_active = 0 WHERE token = ?`, token)
	return err
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)

	counts := []struct {
		dest  *int64
		query string
		args  []interface{}
	}{
		{&stats.ReadyOrders, `SELECT COUNT(*) FROM orders WHERE status = ?`, []interface{}{models.OrderReadyForPickup}},
		{&stats.ActiveDeliveries, `SELECT COUNT(*) FROM deliveries WHERE status NOT IN (?, ?, ?)`,
			[]interface{}{models.DeliveryPending, models.DeliveryDelivered, models.DeliveryCancelled}},
		{&stats.DeliveredToday, `SELECT COUNT(*) FROM deliveries WHERE status = ? AND delivered_at >= ?`,
			[]interface{}{models.DeliveryDelivered, startOfDay}},
		{&stats.AvailablePartners, `SELECT COUNT(*) FROM delivery_partners WHERE status = ? AND is_available = 1`,
			[]interface{}{models.PartnerApproved}},
		{&stats.ActiveSessions, `SELECT COUNT(*) FROM websocket_sessions WHERE is_active = 1`, nil},
		{&stats.PendingPushes, `SELECT COUNT(*) FROM notifications WHERE push_status IN (?, ?)`,
			[]interface{}{models.PushPending, models.PushRetrying}},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return stats, nil
}
