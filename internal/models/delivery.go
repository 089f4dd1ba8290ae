package models

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending         DeliveryStatus = "pending"
	DeliveryAssigned        DeliveryStatus = "assigned"
	DeliveryEnRoutePickup   DeliveryStatus = "en_route_pickup"
	DeliveryArrivedPickup   DeliveryStatus = "arrived_pickup"
	DeliveryPickedUp        DeliveryStatus = "picked_up"
	DeliveryInTransit       DeliveryStatus = "in_transit"
	DeliveryEnRoute         DeliveryStatus = "en_route"
	DeliveryEnRouteDelivery DeliveryStatus = "en_route_delivery"
	DeliveryArrivedDelivery DeliveryStatus = "arrived_delivery"
	DeliveryDelivered       DeliveryStatus = "delivered"
	DeliveryCancelled       DeliveryStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryCancelled
}

type Delivery struct {
	ID                  int64          `json:"id"`
	OrderID             int64          `json:"orderId"`
	DeliveryPartnerID   *int64         `json:"deliveryPartnerId"`
	Status              DeliveryStatus `json:"status"`
	DeliveryFee         float64        `json:"deliveryFee"`
	PickupAddress       string         `json:"pickupAddress"`
	DeliveryAddress     string         `json:"deliveryAddress"`
	EstimatedDistanceKm *float64       `json:"estimatedDistance,omitempty"`
	EstimatedMinutes    *int           `json:"estimatedTime,omitempty"`
	ActualMinutes       *int           `json:"actualTime,omitempty"`
	AssignedAt          *time.Time     `json:"assignedAt,omitempty"`
	PickedUpAt          *time.Time     `json:"pickedUpAt,omitempty"`
	DeliveredAt         *time.Time     `json:"deliveredAt,omitempty"`
	SpecialInstructions string         `json:"specialInstructions,omitempty"`
	CustomerRating      *int           `json:"customerRating,omitempty"`
	CustomerFeedback    string         `json:"customerFeedback,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
}

// BoundTo reports whether partnerID is the delivery's assigned partner.
func (d *Delivery) BoundTo(partnerID int64) bool {
	return d.DeliveryPartnerID != nil && *d.DeliveryPartnerID == partnerID
}

// StatusHistory is one immutable entry in a delivery's status log.
type StatusHistory struct {
	ID          int64           `json:"id"`
	DeliveryID  int64           `json:"deliveryId"`
	Status      DeliveryStatus  `json:"status"`
	Description string          `json:"description"`
	Latitude    *float64        `json:"latitude,omitempty"`
	Longitude   *float64        `json:"longitude,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	UpdatedBy   *int64          `json:"updatedBy,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}
