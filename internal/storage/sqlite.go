package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shohag/dispatchrelay/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

const sqliteParams = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"

func NewSQLite(path string) (*SQLiteStorage, error) {
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+sqliteParams)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			address TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			latitude REAL,
			longitude REAL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id INTEGER NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			store_id INTEGER NOT NULL REFERENCES stores(id),
			total_amount REAL NOT NULL DEFAULT 0,
			delivery_fee REAL NOT NULL DEFAULT 0,
			item_count INTEGER NOT NULL DEFAULT 0,
			special_instructions TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			shipping_address TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_partners (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			vehicle_type TEXT NOT NULL,
			vehicle_number TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			is_available INTEGER NOT NULL DEFAULT 1,
			total_deliveries INTEGER NOT NULL DEFAULT 0,
			total_earnings REAL NOT NULL DEFAULT 0,
			rating REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id INTEGER NOT NULL UNIQUE REFERENCES orders(id),
			delivery_partner_id INTEGER REFERENCES delivery_partners(id),
			status TEXT NOT NULL DEFAULT 'pending',
			delivery_fee REAL NOT NULL DEFAULT 0,
			pickup_address TEXT NOT NULL DEFAULT '',
			delivery_address TEXT NOT NULL DEFAULT '',
			estimated_distance REAL,
			estimated_time INTEGER,
			actual_time INTEGER,
			assigned_at DATETIME,
			picked_up_at DATETIME,
			delivered_at DATETIME,
			special_instructions TEXT NOT NULL DEFAULT '',
			customer_rating INTEGER,
			customer_feedback TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_status_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			delivery_id INTEGER NOT NULL REFERENCES deliveries(id),
			status TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			latitude REAL,
			longitude REAL,
			timestamp DATETIME NOT NULL,
			updated_by INTEGER,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_location_tracking (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			delivery_id INTEGER NOT NULL REFERENCES deliveries(id),
			delivery_partner_id INTEGER NOT NULL REFERENCES delivery_partners(id),
			current_latitude REAL NOT NULL,
			current_longitude REAL NOT NULL,
			heading REAL,
			speed REAL,
			accuracy REAL,
			timestamp DATETIME NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_routes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			delivery_id INTEGER NOT NULL UNIQUE REFERENCES deliveries(id),
			pickup_latitude REAL NOT NULL,
			pickup_longitude REAL NOT NULL,
			delivery_latitude REAL NOT NULL,
			delivery_longitude REAL NOT NULL,
			mode TEXT NOT NULL DEFAULT 'driving',
			route_geometry TEXT NOT NULL DEFAULT '',
			distance_meters INTEGER NOT NULL,
			estimated_duration_seconds INTEGER NOT NULL,
			traffic_info TEXT,
			provider TEXT NOT NULL DEFAULT '',
			provider_route_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS websocket_sessions (
			session_id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			user_type TEXT NOT NULL,
			connected_at DATETIME NOT NULL,
			last_activity DATETIME NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'info',
			is_read INTEGER NOT NULL DEFAULT 0,
			order_id INTEGER,
			data TEXT,
			push_status TEXT NOT NULL DEFAULT 'none',
			push_attempts INTEGER NOT NULL DEFAULT 0,
			next_push_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS push_notification_tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			token TEXT NOT NULL UNIQUE,
			platform TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_used DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_partners_eligible ON delivery_partners(status, is_available)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_partner ON deliveries(delivery_partner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_delivery ON delivery_status_history(delivery_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_location_delivery ON delivery_location_tracking(delivery_id, timestamp)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_location_single_active ON delivery_location_tracking(delivery_id) WHERE is_active = 1`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON websocket_sessions(user_id) WHERE is_active = 1`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_offer ON notifications(order_id, type, is_read)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_push ON notifications(push_status, next_push_at) WHERE push_status IN ('pending', 'retrying')`,
		`CREATE INDEX IF NOT EXISTS idx_push_tokens_user ON push_notification_tokens(user_id) WHERE is_active = 1`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

// --- Stores ---

func (s *SQLiteStorage) CreateStore(ctx context.Context, st *models.Store) error {
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stores (id, name, address, phone, latitude, longitude, created_at) VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Name, st.Address, st.Phone, st.Latitude, st.Longitude, st.CreatedAt,
	)
	if err != nil {
		return err
	}
	st.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStorage) GetStore(ctx context.Context, id int64) (*models.Store, error) {
	var st models.Store
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, address, phone, latitude, longitude, created_at FROM stores WHERE id = ?`, id,
	).Scan(&st.ID, &st.Name, &st.Address, &st.Phone, &st.Latitude, &st.Longitude, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &st, err
}

// --- Orders ---

const orderColumns = `id, customer_id, customer_name, phone, store_id, total_amount, delivery_fee, item_count,
	special_instructions, status, shipping_address, latitude, longitude, created_at, updated_at`

func scanOrder(row scanner) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.CustomerID, &o.CustomerName, &o.Phone, &o.StoreID, &o.TotalAmount, &o.DeliveryFee,
		&o.ItemCount, &o.SpecialInstructions, &o.Status, &o.ShippingAddress, &o.Latitude, &o.Longitude,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQLiteStorage) CreateOrder(ctx context.Context, o *models.Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = models.OrderPending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (id, customer_id, customer_name, phone, store_id, total_amount, delivery_fee, item_count,
			special_instructions, status, shipping_address, latitude, longitude, created_at, updated_at)
		 VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.CustomerID, o.CustomerName, o.Phone, o.StoreID, o.TotalAmount, o.DeliveryFee, o.ItemCount,
		o.SpecialInstructions, o.Status, o.ShippingAddress, o.Latitude, o.Longitude, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	o.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStorage) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func (s *SQLiteStorage) ListOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = ? ORDER BY updated_at ASC, id ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// MarkOrderReady moves a pending or processing order to ready_for_pickup.
// It reports false when the order is in any other state.
func (s *SQLiteStorage) MarkOrderReady(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?, ?)`,
		models.OrderReadyForPickup, time.Now().UTC(), id,
		models.OrderPending, models.OrderProcessing, models.OrderReadyForPickup,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// --- Delivery partners ---

const partnerColumns = `id, user_id, name, phone, vehicle_type, vehicle_number, status, is_available,
	total_deliveries, total_earnings, rating, created_at`

func scanPartner(row scanner) (*models.DeliveryPartner, error) {
	var p models.DeliveryPartner
	var available int
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Phone, &p.VehicleType, &p.VehicleNumber, &p.Status, &available,
		&p.TotalDeliveries, &p.TotalEarnings, &p.Rating, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.IsAvailable = available == 1
	return &p, nil
}

func (s *SQLiteStorage) CreatePartner(ctx context.Context, p *models.DeliveryPartner) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = models.PartnerPending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_partners (id, user_id, name, phone, vehicle_type, vehicle_number, status, is_available,
			total_deliveries, total_earnings, rating, created_at)
		 VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Phone, p.VehicleType, p.VehicleNumber, p.Status, boolToInt(p.IsAvailable),
		p.TotalDeliveries, p.TotalEarnings, p.Rating, p.CreatedAt,
	)
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStorage) GetPartner(ctx context.Context, id int64) (*models.DeliveryPartner, error) {
	p, err := scanPartner(s.db.QueryRowContext(ctx, `SELECT `+partnerColumns+` FROM delivery_partners WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStorage) GetPartnerByUserID(ctx context.Context, userID int64) (*models.DeliveryPartner, error) {
	p, err := scanPartner(s.db.QueryRowContext(ctx, `SELECT `+partnerColumns+` FROM delivery_partners WHERE user_id = ?`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStorage) ListEligiblePartners(ctx context.Context) ([]models.DeliveryPartner, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+partnerColumns+` FROM delivery_partners WHERE status = ? AND is_available = 1 ORDER BY id`,
		models.PartnerApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partners []models.DeliveryPartner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, err
		}
		partners = append(partners, *p)
	}
	return partners, rows.Err()
}

func (s *SQLiteStorage) SetPartnerAvailability(ctx context.Context, id int64, available bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE delivery_partners SET is_available = ? WHERE id = ?`, boolToInt(available), id)
	return err
}
