package models

import "time"

type OrderStatus string

const (
	OrderPending             OrderStatus = "pending"
	OrderProcessing          OrderStatus = "processing"
	OrderReadyForPickup      OrderStatus = "ready_for_pickup"
	OrderAssignedForDelivery OrderStatus = "assigned_for_delivery"
	OrderOutForDelivery      OrderStatus = "out_for_delivery"
	OrderDelivered           OrderStatus = "delivered"
	OrderCancelled           OrderStatus = "cancelled"
)

// Claimable reports whether a partner may still accept the order.
func (s OrderStatus) Claimable() bool {
	switch s {
	case OrderAssignedForDelivery, OrderOutForDelivery, OrderDelivered, OrderCancelled:
		return false
	}
	return true
}

type Store struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone,omitempty"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Order struct {
	ID                  int64       `json:"id"`
	CustomerID          int64       `json:"customerId"`
	CustomerName        string      `json:"customerName"`
	Phone               string      `json:"phone"`
	StoreID             int64       `json:"storeId"`
	TotalAmount         float64     `json:"totalAmount"`
	DeliveryFee         float64     `json:"deliveryFee"`
	ItemCount           int         `json:"itemCount"`
	SpecialInstructions string      `json:"specialInstructions,omitempty"`
	Status              OrderStatus `json:"status"`
	ShippingAddress     string      `json:"shippingAddress"`
	Latitude            *float64    `json:"latitude,omitempty"`
	Longitude           *float64    `json:"longitude,omitempty"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}
