package models

// Socket frame types.
const (
	EventAuth                = "auth"
	EventSubscribeTracking   = "subscribe_tracking"
	EventLocationUpdate      = "location_update"
	EventAuthSuccess         = "auth_success"
	EventError               = "error"
	EventSubscriptionSuccess = "subscription_success"
	EventStatusUpdate        = "status_update"
	EventRouteUpdate         = "route_update"
	EventDeliveryOffer       = "delivery_offer"
	EventOfferWithdrawn      = "offer_withdrawn"
	EventOfferOpen           = "offer_open"
	EventAssignmentConfirmed = "assignment_confirmed"
)

// Event is the envelope of every server-to-client socket frame.
type Event struct {
	Type       string      `json:"type"`
	DeliveryID int64       `json:"deliveryId,omitempty"`
	OrderID    int64       `json:"orderId,omitempty"`
	SessionID  string      `json:"sessionId,omitempty"`
	Message    string      `json:"message,omitempty"`
	Data       interface{} `json:"data,omitempty"`
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}
