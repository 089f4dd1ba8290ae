package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/shohag/dispatchrelay/internal/auth"
	"github.com/shohag/dispatchrelay/internal/dispatch"
)

type DeliveryHandler struct {
	engine *dispatch.Engine
	log    zerolog.Logger
}

func NewDeliveryHandler(engine *dispatch.Engine, log zerolog.Logger) *DeliveryHandler {
	return &DeliveryHandler{engine: engine, log: log}
}

// partnerID resolves the acting partner. An authenticated caller acts as
// their own partner profile and may not name another.
func (h *DeliveryHandler) partnerID(w http.ResponseWriter, r *http.Request, requested int64) (int64, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		if requested <= 0 {
			writeError(w, http.StatusBadRequest, "partnerId is required")
			return 0, false
		}
		return requested, true
	}
	partner, err := h.engine.PartnerForUser(r.Context(), p.UserID)
	if err != nil {
		writeDispatchError(w, h.log, err)
		return 0, false
	}
	if requested > 0 && requested != partner.ID {
		writeError(w, http.StatusForbidden, "cannot act for another delivery partner")
		return 0, false
	}
	return partner.ID, true
}

type acceptRequest struct {
	PartnerID int64 `json:"partnerId"`
}

// Accept runs the first-accept-wins claim for the order in the path.
func (h *DeliveryHandler) Accept(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req acceptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	partnerID, ok := h.partnerID(w, r, req.PartnerID)
	if !ok {
		return
	}

	d, err := h.engine.AcceptAssignment(r.Context(), orderID, partnerID)
	if err != nil {
		writeDispatchError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "Order assigned successfully",
		"delivery": d,
	})
}

type rejectRequest struct {
	DeliveryPartnerID int64 `json:"deliveryPartnerId"`
	OrderID           int64 `json:"orderId"`
	NotificationID    int64 `json:"notificationId"`
}

func (h *DeliveryHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderID <= 0 {
		writeError(w, http.StatusBadRequest, "orderId is required")
		return
	}
	partnerID, ok := h.partnerID(w, r, req.DeliveryPartnerID)
	if !ok {
		return
	}

	if err := h.engine.RejectAssignment(r.Context(), partnerID, req.OrderID, req.NotificationID); err != nil {
		writeDispatchError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Assignment rejected"})
}

func (h *DeliveryHandler) Available(w http.ResponseWriter, r *http.Request) {
	requested, _ := queryID(r, "partnerId")
	partnerID, ok := h.partnerID(w, r, requested)
	if !ok {
		return
	}
	offers, err := h.engine.AvailableOffers(r.Context(), partnerID)
	if err != nil {
		writeDispatchError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, offers)
}

// Ready marks an order ready for pickup and offers it to partners.
func (h *DeliveryHandler) Ready(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.engine.NotifyReadyForPickup(r.Context(), orderID)
	if err != nil {
		writeDispatchError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *DeliveryHandler) PartnerDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ds, err := h.engine.PartnerDeliveries(r.Context(), id)
	if err != nil {
		writeDispatchError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}
