package models

import "time"

type Role string

const (
	RoleCustomer        Role = "customer"
	RoleShopkeeper      Role = "shopkeeper"
	RoleDeliveryPartner Role = "delivery_partner"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleShopkeeper, RoleDeliveryPartner:
		return true
	}
	return false
}

// Session is the persisted record of a socket binding.
type Session struct {
	SessionID    string    `json:"sessionId"`
	UserID       int64     `json:"userId"`
	UserType     Role      `json:"userType"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IsActive     bool      `json:"isActive"`
}
