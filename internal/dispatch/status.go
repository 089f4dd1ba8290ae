package dispatch

import (
	"fmt"

	"github.com/shohag/dispatchrelay/internal/models"
)

// Position of each status in the delivery lifecycle. Statuses that share a
// rank are interchangeable stages of the same leg.
var statusRank = map[models.DeliveryStatus]int{
	models.DeliveryPending:         0,
	models.DeliveryAssigned:        1,
	models.DeliveryEnRoutePickup:   2,
	models.DeliveryArrivedPickup:   3,
	models.DeliveryPickedUp:        4,
	models.DeliveryInTransit:       5,
	models.DeliveryEnRoute:         5,
	models.DeliveryEnRouteDelivery: 5,
	models.DeliveryArrivedDelivery: 6,
	models.DeliveryDelivered:       7,
}

// ValidStatus reports whether s is a known delivery status.
func ValidStatus(s models.DeliveryStatus) bool {
	if s == models.DeliveryCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CheckTransition validates moving a delivery from one status to another.
func CheckTransition(from, to models.DeliveryStatus) error {
	if !ValidStatus(to) {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	if from.Terminal() {
		return fmt.Errorf("%w: delivery is already %s", ErrDeliveryClosed, from)
	}
	if to == models.DeliveryCancelled {
		return nil
	}
	if to == models.DeliveryPending || statusRank[to] < statusRank[from] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// requiresBoundPartner reports whether only the assigned partner may move a
// delivery into s.
func requiresBoundPartner(s models.DeliveryStatus) bool {
	return s != models.DeliveryCancelled && statusRank[s] >= statusRank[models.DeliveryEnRoutePickup]
}

// orderStatusFor is the order status mirrored when a delivery enters s, or
// "" when the order is left alone.
func orderStatusFor(s models.DeliveryStatus) models.OrderStatus {
	switch s {
	case models.DeliveryPickedUp:
		return models.OrderOutForDelivery
	case models.DeliveryDelivered:
		return models.OrderDelivered
	case models.DeliveryCancelled:
		return models.OrderCancelled
	}
	return ""
}

type Message struct {
	Title string
	Body  string
}

var statusMessages = map[models.DeliveryStatus]Message{
	models.DeliveryPending:         {"Order Ready", "Your order is waiting for a delivery partner"},
	models.DeliveryAssigned:        {"Delivery Partner Assigned", "Your order has been assigned to a delivery partner"},
	models.DeliveryEnRoutePickup:   {"Partner On The Way", "Delivery partner is heading to pickup your order"},
	models.DeliveryArrivedPickup:   {"Partner At Store", "Delivery partner has arrived at the store"},
	models.DeliveryPickedUp:        {"Order Picked Up", "Your order has been picked up and is on the way"},
	models.DeliveryInTransit:       {"Out For Delivery", "Your order is out for delivery"},
	models.DeliveryEnRoute:         {"Out For Delivery", "Your order is out for delivery"},
	models.DeliveryEnRouteDelivery: {"Out For Delivery", "Your order is out for delivery"},
	models.DeliveryArrivedDelivery: {"Partner Has Arrived", "Delivery partner has arrived at your location"},
	models.DeliveryDelivered:       {"Order Delivered", "Your order has been delivered successfully"},
	models.DeliveryCancelled:       {"Delivery Cancelled", "Your order delivery has been cancelled"},
}

// StatusMessage is the user-facing text for a delivery status.
func StatusMessage(s models.DeliveryStatus) Message {
	if m, ok := statusMessages[s]; ok {
		return m
	}
	return Message{Title: "Order Update", Body: fmt.Sprintf("Order status updated to %s", s)}
}
