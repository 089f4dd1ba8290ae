package models

import "time"

type PartnerStatus string

const (
	PartnerPending  PartnerStatus = "pending"
	PartnerApproved PartnerStatus = "approved"
	PartnerRejected PartnerStatus = "rejected"
)

type DeliveryPartner struct {
	ID              int64         `json:"id"`
	UserID          int64         `json:"userId"`
	Name            string        `json:"name"`
	Phone           string        `json:"phone,omitempty"`
	VehicleType     string        `json:"vehicleType"`
	VehicleNumber   string        `json:"vehicleNumber"`
	Status          PartnerStatus `json:"status"`
	IsAvailable     bool          `json:"isAvailable"`
	TotalDeliveries int           `json:"totalDeliveries"`
	TotalEarnings   float64       `json:"totalEarnings"`
	Rating          float64       `json:"rating"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// Eligible reports whether the partner should receive broadcast offers.
func (p *DeliveryPartner) Eligible() bool {
	return p.Status == PartnerApproved && p.IsAvailable
}
