package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shohag/dispatchrelay/internal/models"
	"github.com/shohag/dispatchrelay/internal/storage"
)

var ErrInvalidToken = errors.New("token and platform are required")

// Notification is a request to notify one user.
type Notification struct {
	UserID  int64
	Title   string
	Message string
	Type    models.NotificationType
	OrderID *int64
	Data    interface{}
}

// Sink records user-facing notifications.
type Sink interface {
	Notify(ctx context.Context, n Notification) (*models.Notification, error)
}

// Service persists notifications and, when push is enabled, queues them for
// the push outbox.
type Service struct {
	store       storage.Storage
	pushEnabled bool
	log         zerolog.Logger
}

func NewService(store storage.Storage, pushEnabled bool, log zerolog.Logger) *Service {
	return &Service{
		store:       store,
		pushEnabled: pushEnabled,
		log:         log.With().Str("component", "notify").Logger(),
	}
}

func (s *Service) Notify(ctx context.Context, n Notification) (*models.Notification, error) {
	if n.UserID <= 0 {
		return nil, fmt.Errorf("notify: invalid user id %d", n.UserID)
	}

	row := &models.Notification{
		UserID:     n.UserID,
		Title:      n.Title,
		Message:    n.Message,
		Type:       n.Type,
		OrderID:    n.OrderID,
		PushStatus: models.PushNone,
	}
	if s.pushEnabled {
		row.PushStatus = models.PushPending
	}
	if n.Data != nil {
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return nil, fmt.Errorf("encode notification data: %w", err)
		}
		row.Data = raw
	}

	if err := s.store.CreateNotification(ctx, row); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	s.log.Debug().
		Int64("notification_id", row.ID).
		Int64("user_id", row.UserID).
		Str("type", string(row.Type)).
		Msg("notification recorded")
	return row, nil
}

// RegisterToken stores a device token for push delivery.
func (s *Service) RegisterToken(ctx context.Context, userID int64, token, platform string) (*models.PushToken, error) {
	if userID <= 0 || token == "" || platform == "" {
		return nil, ErrInvalidToken
	}
	t := &models.PushToken{UserID: userID, Token: token, Platform: platform}
	if err := s.store.UpsertPushToken(ctx, t); err != nil {
		return nil, fmt.Errorf("register push token: %w", err)
	}
	return t, nil
}

func (s *Service) List(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	return s.store.ListNotifications(ctx, userID, limit)
}

// MarkRead marks a notification read. It reports false for an unknown id.
func (s *Service) MarkRead(ctx context.Context, id int64) (bool, error) {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return false, err
	}
	if n == nil {
		return false, nil
	}
	return true, s.store.MarkNotificationRead(ctx, id)
}
