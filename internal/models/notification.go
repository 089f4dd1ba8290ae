package models

import (
	"encoding/json"
	"time"
)

type NotificationType string

const (
	NotificationDeliveryOffer NotificationType = "delivery_offer"
	NotificationDelivery      NotificationType = "delivery"
	NotificationOrder         NotificationType = "order"
	NotificationInfo          NotificationType = "info"
)

type PushStatus string

const (
	PushNone     PushStatus = "none"
	PushPending  PushStatus = "pending"
	PushRetrying PushStatus = "retrying"
	PushSent     PushStatus = "sent"
	PushFailed   PushStatus = "failed"
	PushSkipped  PushStatus = "skipped"
)

type Notification struct {
	ID           int64            `json:"id"`
	UserID       int64            `json:"userId"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	Type         NotificationType `json:"type"`
	IsRead       bool             `json:"isRead"`
	OrderID      *int64           `json:"orderId,omitempty"`
	Data         json.RawMessage  `json:"data,omitempty"`
	PushStatus   PushStatus       `json:"pushStatus"`
	PushAttempts int              `json:"pushAttempts"`
	NextPushAt   *time.Time       `json:"nextPushAt,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type PushToken struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed"`
}
