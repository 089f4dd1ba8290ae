package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shohag/dispatchrelay/internal/models"
)

// --- Location pings ---

const locationColumns = `id, delivery_id, delivery_partner_id, current_latitude, current_longitude, heading, speed,
	accuracy, timestamp, is_active`

func scanLocation(row scanner) (*models.LocationPing, error) {
	var p models.LocationPing
	var active int
	err := row.Scan(&p.ID, &p.DeliveryID, &p.DeliveryPartnerID, &p.Latitude, &p.Longitude, &p.Heading, &p.Speed,
		&p.Accuracy, &p.Timestamp, &active)
	if err != nil {
		return nil, err
	}
	p.IsActive = active == 1
	return &p, nil
}

// RecordLocation deactivates the delivery's current ping and inserts p as the
// new active one.
func (s *SQLiteStorage) RecordLocation(ctx context.Context, p *models.LocationPing) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE delivery_location_tracking SET is_active = 0 WHERE delivery_id = ? AND is_active = 1`, p.DeliveryID,
	); err != nil {
		return fmt.Errorf("deactivate previous ping: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO delivery_location_tracking (delivery_id, delivery_partner_id, current_latitude, current_longitude,
			heading, speed, accuracy, timestamp, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		p.DeliveryID, p.DeliveryPartnerID, p.Latitude, p.Longitude, p.Heading, p.Speed, p.Accuracy, p.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert ping: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	p.ID = id
	p.IsActive = true
	return nil
}

func (s *SQLiteStorage) GetActiveLocation(ctx context.Context, deliveryID int64) (*models.LocationPing, error) {
	p, err := scanLocation(s.db.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM delivery_location_tracking
		 WHERE delivery_id = ? AND is_active = 1 ORDER BY timestamp DESC, id DESC LIMIT 1`, deliveryID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStorage) ListLocations(ctx context.Context, deliveryID int64) ([]models.LocationPing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+locationColumns+` FROM delivery_location_tracking WHERE delivery_id = ? ORDER BY id ASC`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pings []models.LocationPing
	for rows.Next() {
		p, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		pings = append(pings, *p)
	}
	return pings, rows.Err()
}

// --- Routes ---

func (s *SQLiteStorage) UpsertRoute(ctx context.Context, r *models.DeliveryRoute) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_routes (delivery_id, pickup_latitude, pickup_longitude, delivery_latitude, delivery_longitude,
			mode, route_geometry, distance_meters, estimated_duration_seconds, traffic_info, provider, provider_route_id,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(delivery_id) DO UPDATE SET
			pickup_latitude = excluded.pickup_latitude,
			pickup_longitude = excluded.pickup_longitude,
			delivery_latitude = excluded.delivery_latitude,
			delivery_longitude = excluded.delivery_longitude,
			mode = excluded.mode,
			route_geometry = excluded.route_geometry,
			distance_meters = excluded.distance_meters,
			estimated_duration_seconds = excluded.estimated_duration_seconds,
			traffic_info = excluded.traffic_info,
			provider = excluded.provider,
			provider_route_id = excluded.provider_route_id,
			updated_at = excluded.updated_at`,
		r.DeliveryID, r.PickupLatitude, r.PickupLongitude, r.DeliveryLatitude, r.DeliveryLongitude,
		r.Mode, r.Polyline, r.DistanceMeters, r.DurationSeconds, nullJSON(r.TrafficInfo), r.Provider, r.ProviderRouteID,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM delivery_routes WHERE delivery_id = ?`, r.DeliveryID,
	).Scan(&r.ID, &r.CreatedAt)
}

func (s *SQLiteStorage) GetRoute(ctx context.Context, deliveryID int64) (*models.DeliveryRoute, error) {
	var r models.DeliveryRoute
	var traffic sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, delivery_id, pickup_latitude, pickup_longitude, delivery_latitude, delivery_longitude, mode,
			route_geometry, distance_meters, estimated_duration_seconds, traffic_info, provider, provider_route_id,
			created_at, updated_at
		 FROM delivery_routes WHERE delivery_id = ?`, deliveryID,
	).Scan(&r.ID, &r.DeliveryID, &r.PickupLatitude, &r.PickupLongitude, &r.DeliveryLatitude, &r.DeliveryLongitude,
		&r.Mode, &r.Polyline, &r.DistanceMeters, &r.DurationSeconds, &traffic, &r.Provider, &r.ProviderRouteID,
		&r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.TrafficInfo = rawJSON(traffic)
	return &r, nil
}
