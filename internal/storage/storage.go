package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shohag/dispatchrelay/internal/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyClaimed = errors.New("order already assigned")
	ErrNotClaimable   = errors.New("order is not open for assignment")
	ErrStatusChanged  = errors.New("delivery status changed concurrently")
)

type Storage interface {
	// Stores
	CreateStore(ctx context.Context, st *models.Store) error
	GetStore(ctx context.Context, id int64) (*models.Store, error)

	// Orders
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
	MarkOrderReady(ctx context.Context, id int64) (bool, error)
	ClaimOrder(ctx context.Context, c Claim) (*models.Delivery, error)

	// Delivery partners
	CreatePartner(ctx context.Context, p *models.DeliveryPartner) error
	GetPartner(ctx context.Context, id int64) (*models.DeliveryPartner, error)
	GetPartnerByUserID(ctx context.Context, userID int64) (*models.DeliveryPartner, error)
	ListEligiblePartners(ctx context.Context) ([]models.DeliveryPartner, error)
	SetPartnerAvailability(ctx context.Context, id int64, available bool) error

	// Deliveries
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	GetDelivery(ctx context.Context, id int64) (*models.Delivery, error)
	GetDeliveryByOrder(ctx context.Context, orderID int64) (*models.Delivery, error)
	ListDeliveriesByPartner(ctx context.Context, partnerID int64) ([]models.Delivery, error)
	ApplyStatus(ctx context.Context, c StatusChange) (*models.Delivery, error)
	ListStatusHistory(ctx context.Context, deliveryID int64, newestFirst bool) ([]models.StatusHistory, error)

	// Location pings
	RecordLocation(ctx context.Context, p *models.LocationPing) error
	GetActiveLocation(ctx context.Context, deliveryID int64) (*models.LocationPing, error)
	ListLocations(ctx context.Context, deliveryID int64) ([]models.LocationPing, error)

	// Routes
	UpsertRoute(ctx context.Context, r *models.DeliveryRoute) error
	GetRoute(ctx context.Context, deliveryID int64) (*models.DeliveryRoute, error)

	// Socket sessions
	UpsertSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	DeactivateSession(ctx context.Context, sessionID string) error
	DeactivateAllSessions(ctx context.Context) (int64, error)
	ListActiveSessions(ctx context.Context) ([]models.Session, error)

	// Notifications
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id int64) (*models.Notification, error)
	ListNotifications(ctx context.Context, userID int64, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkOffersRead(ctx context.Context, orderID, userID int64) (int64, error)
	InvalidateOffers(ctx context.Context, orderID, exceptUserID int64) ([]int64, error)
	GetPendingPushes(ctx context.Context, limit int) ([]models.Notification, error)
	UpdatePush(ctx context.Context, id int64, status models.PushStatus, attempts int, nextAt *time.Time) error

	// Push tokens
	UpsertPushToken(ctx context.Context, t *models.PushToken) error
	ListActivePushTokens(ctx context.Context, userID int64) ([]models.PushToken, error)
	DeactivatePushToken(ctx context.Context, token string) error

	// Stats
	GetStats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Claim binds an order to the first partner that accepts it.
type Claim struct {
	OrderID             int64
	PartnerID           int64
	ActorUserID         *int64
	DeliveryFee         float64
	PickupAddress       string
	DeliveryAddress     string
	EstimatedDistanceKm *float64
	EstimatedMinutes    *int
	SpecialInstructions string
	Description         string
	At                  time.Time
}

// StatusChange moves a delivery from From to To and appends a history entry.
// OrderStatus, when set, is mirrored onto the owning order.
type StatusChange struct {
	DeliveryID  int64
	From        models.DeliveryStatus
	To          models.DeliveryStatus
	Description string
	Latitude    *float64
	Longitude   *float64
	UpdatedBy   *int64
	Metadata    json.RawMessage
	OrderStatus models.OrderStatus
	At          time.Time
}

type Stats struct {
	ReadyOrders       int64 `json:"ready_orders"`
	ActiveDeliveries  int64 `json:"active_deliveries"`
	DeliveredToday    int64 `json:"delivered_today"`
	AvailablePartners int64 `json:"available_partners"`
	ActiveSessions    int64 `json:"active_sessions"`
	PendingPushes     int64 `json:"pending_pushes"`
}
