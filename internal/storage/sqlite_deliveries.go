package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/shohag/dispatchrelay/internal/models"
)

// --- Deliveries ---

const deliveryColumns = `id, order_id, delivery_partner_id, status, delivery_fee, pickup_address, delivery_address,
	estimated_distance, estimated_time, actual_time, assigned_at, picked_up_at, delivered_at,
	special_instructions, customer_rating, customer_feedback, created_at`

func scanDelivery(row scanner) (*models.Delivery, error) {
	var d models.Delivery
	err := row.Scan(&d.ID, &d.OrderID, &d.DeliveryPartnerID, &d.Status, &d.DeliveryFee, &d.PickupAddress,
		&d.DeliveryAddress, &d.EstimatedDistanceKm, &d.EstimatedMinutes, &d.ActualMinutes, &d.AssignedAt,
		&d.PickedUpAt, &d.DeliveredAt, &d.SpecialInstructions, &d.CustomerRating, &d.CustomerFeedback, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getDelivery(ctx context.Context, q queryer, id int64) (*models.Delivery, error) {
	d, err := scanDelivery(q.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStorage) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.Status == "" {
		d.Status = models.DeliveryPending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, order_id, delivery_partner_id, status, delivery_fee, pickup_address, delivery_address,
			estimated_distance, estimated_time, assigned_at, special_instructions, created_at)
		 VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OrderID, d.DeliveryPartnerID, d.Status, d.DeliveryFee, d.PickupAddress, d.DeliveryAddress,
		d.EstimatedDistanceKm, d.EstimatedMinutes, d.AssignedAt, d.SpecialInstructions, d.CreatedAt,
	)
	if err != nil {
		return err
	}
	d.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStorage) GetDelivery(ctx context.Context, id int64) (*models.Delivery, error) {
	return getDelivery(ctx, s.db, id)
}

func (s *SQLiteStorage) GetDeliveryByOrder(ctx context.Context, orderID int64) (*models.Delivery, error) {
	d, err := scanDelivery(s.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE order_id = ?`, orderID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStorage) ListDeliveriesByPartner(ctx context.Context, partnerID int64) ([]models.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE delivery_partner_id = ? ORDER BY created_at DESC, id DESC`, partnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

// ClaimOrder flips the order to assigned_for_delivery only if no other claim
// has landed, then binds the delivery row to the partner. The whole exchange
// runs in one transaction so concurrent claims on one order produce exactly
// one winner.
func (s *SQLiteStorage) ClaimOrder(ctx context.Context, c Claim) (*models.Delivery, error) {
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status NOT IN (?, ?, ?, ?)`,
		models.OrderAssignedForDelivery, at, c.OrderID,
		models.OrderAssignedForDelivery, models.OrderOutForDelivery, models.OrderDelivered, models.OrderCancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("claim order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		var status models.OrderStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, c.OrderID).Scan(&status)
		switch {
		case err == sql.ErrNoRows:
			return nil, ErrNotFound
		case err != nil:
			return nil, err
		case status == models.OrderAssignedForDelivery:
			return nil, ErrAlreadyClaimed
		default:
			return nil, ErrNotClaimable
		}
	}

	var deliveryID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM deliveries WHERE order_id = ?`, c.OrderID).Scan(&deliveryID)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO deliveries (order_id, delivery_partner_id, status, delivery_fee, pickup_address, delivery_address,
				estimated_distance, estimated_time, assigned_at, special_instructions, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.OrderID, c.PartnerID, models.DeliveryAssigned, c.DeliveryFee, c.PickupAddress, c.DeliveryAddress,
			c.EstimatedDistanceKm, c.EstimatedMinutes, at, c.SpecialInstructions, at,
		)
		if err != nil {
			return nil, fmt.Errorf("insert delivery: %w", err)
		}
		if deliveryID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		_, err := tx.ExecContext(ctx,
			`UPDATE deliveries SET delivery_partner_id = ?, status = ?, assigned_at = ?, delivery_fee = ?,
				pickup_address = ?, delivery_address = ?, estimated_distance = ?, estimated_time = ?
			 WHERE id = ?`,
			c.PartnerID, models.DeliveryAssigned, at, c.DeliveryFee, c.PickupAddress, c.DeliveryAddress,
			c.EstimatedDistanceKm, c.EstimatedMinutes, deliveryID,
		)
		if err != nil {
			return nil, fmt.Errorf("bind delivery: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO delivery_status_history (delivery_id, status, description, timestamp, updated_by) VALUES (?, ?, ?, ?, ?)`,
		deliveryID, models.DeliveryAssigned, c.Description, at, c.ActorUserID,
	); err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}

	d, err := getDelivery(ctx, tx, deliveryID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d, nil
}

// ApplyStatus moves the delivery from c.From to c.To and appends a history
// entry in the same transaction. It returns ErrStatusChanged when the
// delivery is no longer in c.From.
func (s *SQLiteStorage) ApplyStatus(ctx context.Context, c StatusChange) (*models.Delivery, error) {
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := getDelivery(ctx, tx, c.DeliveryID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound
	}
	if current.Status != c.From {
		return nil, ErrStatusChanged
	}

	// History must never go backwards in time for one delivery.
	var last sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT timestamp FROM delivery_status_history WHERE delivery_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`,
		c.DeliveryID).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if last.Valid && at.Before(last.Time) {
		at = last.Time
	}

	query := `UPDATE deliveries SET status = ?`
	args := []interface{}{c.To}
	switch c.To {
	case models.DeliveryPickedUp:
		query += `, picked_up_at = COALESCE(picked_up_at, ?)`
		args = append(args, at)
	case models.DeliveryDelivered:
		query += `, delivered_at = ?`
		args = append(args, at)
		if current.AssignedAt != nil {
			query += `, actual_time = ?`
			args = append(args, int(math.Round(at.Sub(*current.AssignedAt).Minutes())))
		}
	case models.DeliveryAssigned:
		query += `, assigned_at = COALESCE(assigned_at, ?)`
		args = append(args, at)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, c.DeliveryID, c.From)

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update delivery status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrStatusChanged
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO delivery_status_history (delivery_id, status, description, latitude, longitude, timestamp, updated_by, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.DeliveryID, c.To, c.Description, c.Latitude, c.Longitude, at, c.UpdatedBy, nullJSON(c.Metadata),
	); err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}

	if c.OrderStatus != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`, c.OrderStatus, at, current.OrderID,
		); err != nil {
			return nil, fmt.Errorf("mirror order status: %w", err)
		}
	}

	if c.To == models.DeliveryDelivered && current.DeliveryPartnerID != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE delivery_partners SET total_deliveries = total_deliveries + 1, total_earnings = total_earnings + ? WHERE id = ?`,
			current.DeliveryFee, *current.DeliveryPartnerID,
		); err != nil {
			return nil, fmt.Errorf("credit partner: %w", err)
		}
	}

	d, err := getDelivery(ctx, tx, c.DeliveryID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d, nil
}

// ListStatusHistory returns the delivery's history oldest first, or newest
// first when newestFirst is set.
func (s *SQLiteStorage) ListStatusHistory(ctx context.Context, deliveryID int64, newestFirst bool) ([]models.StatusHistory, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, delivery_id, status, description, latitude, longitude, timestamp, updated_by, metadata
		 FROM delivery_status_history WHERE delivery_id = ? ORDER BY timestamp `+order+`, id `+order, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []models.StatusHistory
	for rows.Next() {
		var h models.StatusHistory
		var metadata sql.NullString
		if err := rows.Scan(&h.ID, &h.DeliveryID, &h.Status, &h.Description, &h.Latitude, &h.Longitude,
			&h.Timestamp, &h.UpdatedBy, &metadata); err != nil {
			return nil, err
		}
		h.Metadata = rawJSON(metadata)
		history = append(history, h)
	}
	return history, rows.Err()
}
