package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/shohag/dispatchrelay/internal/auth"
	"github.com/shohag/dispatchrelay/internal/dispatch"
	"github.com/shohag/dispatchrelay/internal/geo"
	"github.com/shohag/dispatchrelay/internal/models"
)

type TrackingHandler struct {
	engine *dispatch.Engine
	log    zerolog.Logger
}

func NewTrackingHandler(engine *dispatch.Engine, log zerolog.Logger) *TrackingHandler {
	return &TrackingHandler{engine: engine, log: log}
}

type locationRequest struct {
	DeliveryID        int64    `json:"deliveryId"`
	DeliveryPartnerID int64    `json:"deliveryPartnerId"`
	Latitude          *float64 `json:"latitude"`
	Longitude         *float64 `json:"longitude"`
	Heading           *float64 `json:"heading"`
	Speed             *float64 `json:"speed"`
	Accuracy          *float64 `json:"accuracy"`
}

func (h *TrackingHandler) Location(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DeliveryID <= 0 {
		writeError(w, http.StatusBadRequest, "deliveryId is required")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "latitude and longitude are required")
		return
	}

	rep := models.LocationReport{
		DeliveryID:        req.DeliveryID,
		DeliveryPartnerID: req.DeliveryPartnerID,
		Latitude:          *req.Latitude,
		Longitude:         *req.Longitude,
		Heading:           req.Heading,
		Speed:             req.Speed,
		Accuracy:          req.Accuracy,
	}

	var err error
	if p, ok := auth.FromContext(r.Context()); ok {
		err = h.engine.UpdateLocationForUser(r.Context(), p.UserID, rep)
	} else if req.DeliveryPartnerID <= 0 {
		writeError(w, http.StatusBadRequest, "deliveryPartnerId is required")
		return
	} else {
		_, err = h.engine.UpdateLocation(r.Context(), rep)
	}
	if err != nil {
		writeDispatchError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Location updated"})
}

type statusRequest struct {
	Status      models.DeliveryStatus `json:"status"`
	Description string                `json:"description"`
	Latitude    *float64              `json:"latitude"`
	Longitude   *float64              `json:"longitude"`
	UpdatedBy   int64                 `json:"updatedBy"`
	Metadata    json.RawMessage       `json:"metadata"`
}

func (h *TrackingHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "deliveryId")
	if !ok {
		return
	}
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	actor := req.UpdatedBy
	if p, ok := auth.FromContext(r.Context()); ok {
		actor = p.UserID
	}

	d, err := h.engine.UpdateStatus(r.Context(), dispatch.StatusUpdate{
		DeliveryID:  id,
		Status:      req.Status,
		ActorUserID: actor,
		Description: req.Description,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeDispatchError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *TrackingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "deliveryId")
	if !ok {
		return
	}
	data, err := h.engine.GetTrackingData(r.Context(), id)
	if err != nil {
		writeDispatchError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *TrackingHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "deliveryId")
	if !ok {
		return
	}
	view, err := h.engine.InitializeTracking(r.Context(), id)
	if err != nil {
		writeDispatchError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// point accepts either {latitude, longitude} or {lat, lng}.
type point struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
}

func (p *point) toGeo() (geo.Point, bool) {
	lat, lng := p.Latitude, p.Longitude
	if lat == nil || lng == nil {
		lat, lng = p.Lat, p.Lng
	}
	if lat == nil || lng == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *lat, Lng: *lng}, true
}

type routeRequest struct {
	PickupLocation   *point `json:"pickupLocation"`
	DeliveryLocation *point `json:"deliveryLocation"`
}

func (h *TrackingHandler) Route(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "deliveryId")
	if !ok {
		return
	}
	var req routeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PickupLocation == nil || req.DeliveryLocation == nil {
		writeError(w, http.StatusBadRequest, "pickupLocation and deliveryLocation are required")
		return
	}
	pickup, ok1 := req.PickupLocation.toGeo()
	drop, ok2 := req.DeliveryLocation.toGeo()
	if !ok1 || !ok2 {
		writeError(w, http.StatusBadRequest, "pickupLocation and deliveryLocation need coordinates")
		return
	}

	view, err := h.engine.RecomputeRoute(r.Context(), id, pickup, drop)
	if err != nil {
		writeDispatchError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
