package models

import (
	"encoding/json"
	"time"
)

// LocationPing is a partner position report. Only the newest ping of a
// delivery is active.
type LocationPing struct {
	ID                int64     `json:"id"`
	DeliveryID        int64     `json:"deliveryId"`
	DeliveryPartnerID int64     `json:"deliveryPartnerId"`
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	Heading           *float64  `json:"heading,omitempty"`
	Speed             *float64  `json:"speed,omitempty"`
	Accuracy          *float64  `json:"accuracy,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	IsActive          bool      `json:"isActive"`
}

// DeliveryRoute is the cached route geometry of a delivery.
type DeliveryRoute struct {
	ID                int64           `json:"id"`
	DeliveryID        int64           `json:"deliveryId"`
	PickupLatitude    float64         `json:"pickupLatitude"`
	PickupLongitude   float64         `json:"pickupLongitude"`
	DeliveryLatitude  float64         `json:"deliveryLatitude"`
	DeliveryLongitude float64         `json:"deliveryLongitude"`
	Mode              string          `json:"mode"`
	Polyline          string          `json:"routeGeometry"`
	DistanceMeters    int64           `json:"distanceMeters"`
	DurationSeconds   int64           `json:"estimatedDurationSeconds"`
	TrafficInfo       json.RawMessage `json:"trafficInfo,omitempty"`
	Provider          string          `json:"provider"`
	ProviderRouteID   string          `json:"providerRouteId,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// LocationReport is a position report from a delivery partner, before it is
// stored as a ping.
type LocationReport struct {
	DeliveryID        int64      `json:"deliveryId"`
	DeliveryPartnerID int64      `json:"deliveryPartnerId"`
	Latitude          float64    `json:"latitude"`
	Longitude         float64    `json:"longitude"`
	Heading           *float64   `json:"heading,omitempty"`
	Speed             *float64   `json:"speed,omitempty"`
	Accuracy          *float64   `json:"accuracy,omitempty"`
	Timestamp         *time.Time `json:"timestamp,omitempty"`
}
