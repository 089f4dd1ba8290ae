package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/shohag/dispatchrelay/internal/geo"
	"github.com/shohag/dispatchrelay/internal/models"
	"github.com/shohag/dispatchrelay/internal/notify"
	"github.com/shohag/dispatchrelay/internal/route"
	"github.com/shohag/dispatchrelay/internal/storage"
)

// RouteView is a route as clients see it.
type RouteView struct {
	DeliveryID     int64        `json:"deliveryId"`
	Route          *route.Route `json:"route"`
	ETA            route.ETA    `json:"eta"`
	GoogleMapsLink string       `json:"googleMapsLink"`
}

// TrackingData is everything needed to draw a delivery on a map.
type TrackingData struct {
	Delivery        *models.Delivery       `json:"delivery"`
	CurrentLocation *models.LocationPing   `json:"currentLocation"`
	Route           *RouteView             `json:"route"`
	History         []models.StatusHistory `json:"statusHistory"`
}

// StatusUpdate is a request to move a delivery to Status.
type StatusUpdate struct {
	DeliveryID  int64                 `json:"deliveryId"`
	Status      models.DeliveryStatus `json:"status"`
	ActorUserID int64                 `json:"updatedBy"`
	Description string                `json:"description,omitempty"`
	Latitude    *float64              `json:"latitude,omitempty"`
	Longitude   *float64              `json:"longitude,omitempty"`
	Metadata    json.RawMessage       `json:"metadata,omitempty"`
}

// --- Location ---

// UpdateLocation records a position report from the delivery's bound partner
// and pushes it, with a fresh ETA, to everyone following the delivery.
func (e *Engine) UpdateLocation(ctx context.Context, rep models.LocationReport) (*models.LocationPing, error) {
	pos := geo.Point{Lat: rep.Latitude, Lng: rep.Longitude}
	if !pos.Valid() {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}
	if rep.DeliveryID <= 0 {
		return nil, fmt.Errorf("%w: delivery id is required", ErrValidation)
	}

	d, err := e.loadDelivery(ctx, rep.DeliveryID)
	if err != nil {
		return nil, err
	}
	if !d.BoundTo(rep.DeliveryPartnerID) {
		return nil, fmt.Errorf("partner %d is not assigned to delivery %d: %w", rep.DeliveryPartnerID, d.ID, ErrUnauthorized)
	}
	if d.Status.Terminal() {
		return nil, fmt.Errorf("delivery %d is %s: %w", d.ID, d.Status, ErrDeliveryClosed)
	}

	ping := &models.LocationPing{
		DeliveryID:        d.ID,
		DeliveryPartnerID: rep.DeliveryPartnerID,
		Latitude:          rep.Latitude,
		Longitude:         rep.Longitude,
		Heading:           rep.Heading,
		Speed:             rep.Speed,
		Accuracy:          rep.Accuracy,
		Timestamp:         e.now(),
	}
	if rep.Timestamp != nil && !rep.Timestamp.IsZero() {
		ping.Timestamp = rep.Timestamp.UTC()
	}
	if err := e.store.RecordLocation(ctx, ping); err != nil {
		e.log.Error().Err(err).Int64("delivery_id", d.ID).Msg("record location")
		return nil, storeErr("record location", err)
	}
	e.metrics.LocationUpdate()

	var eta *route.ETA
	if stored, err := e.store.GetRoute(ctx, d.ID); err != nil {
		e.log.Warn().Err(err).Int64("delivery_id", d.ID).Msg("load route for eta")
	} else if stored != nil && e.router != nil {
		dest := geo.Point{Lat: stored.DeliveryLatitude, Lng: stored.DeliveryLongitude}
		r := e.router.Calculate(ctx, pos, dest, route.ParseMode(stored.Mode))
		v := route.CalculateETA(r, nil, e.now())
		eta = &v
	}

	e.stakeholders(ctx, d, models.Event{
		Type:       models.EventLocationUpdate,
		DeliveryID: d.ID,
		OrderID:    d.OrderID,
		Data: map[string]interface{}{
			"location":  ping,
			"eta":       eta,
			"timestamp": ping.Timestamp,
		},
	})
	return ping, nil
}

// UpdateLocationForUser resolves the reporting user to a partner and records
// the report.
func (e *Engine) UpdateLocationForUser(ctx context.Context, userID int64, rep models.LocationReport) error {
	p, err := e.store.GetPartnerByUserID(ctx, userID)
	if err != nil {
		return storeErr("load partner", err)
	}
	if p == nil {
		return fmt.Errorf("user %d is not a delivery partner: %w", userID, ErrUnauthorized)
	}
	if rep.DeliveryPartnerID != 0 && rep.DeliveryPartnerID != p.ID {
		return fmt.Errorf("user %d cannot report for partner %d: %w", userID, rep.DeliveryPartnerID, ErrUnauthorized)
	}
	rep.DeliveryPartnerID = p.ID
	_, err = e.UpdateLocation(ctx, rep)
	return err
}

// --- Status ---

// UpdateStatus moves a delivery forward (or cancels it), mirrors the order
// status and tells the stakeholders.
func (e *Engine) UpdateStatus(ctx context.Context, u StatusUpdate) (*models.Delivery, error) {
	if !ValidStatus(u.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, u.Status)
	}
	if (u.Latitude == nil) != (u.Longitude == nil) {
		return nil, fmt.Errorf("%w: latitude and longitude must be given together", ErrValidation)
	}
	if p := point(u.Latitude, u.Longitude); u.Latitude != nil && p == nil {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}
	if len(u.Metadata) > 0 && !json.Valid(u.Metadata) {
		return nil, fmt.Errorf("%w: metadata is not valid JSON", ErrValidation)
	}

	d, err := e.loadDelivery(ctx, u.DeliveryID)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(d.Status, u.Status); err != nil {
		return nil, err
	}
	if requiresBoundPartner(u.Status) {
		if err := e.checkActor(ctx, d, u.ActorUserID); err != nil {
			return nil, err
		}
	}

	msg := StatusMessage(u.Status)
	desc := u.Description
	if desc == "" {
		desc = msg.Body
	}
	change := storage.StatusChange{
		DeliveryID:  d.ID,
		From:        d.Status,
		To:          u.Status,
		Description: desc,
		Latitude:    u.Latitude,
		Longitude:   u.Longitude,
		Metadata:    u.Metadata,
		OrderStatus: orderStatusFor(u.Status),
		At:          e.now(),
	}
	if u.ActorUserID > 0 {
		change.UpdatedBy = int64Ptr(u.ActorUserID)
	}

	updated, err := e.store.ApplyStatus(ctx, change)
	if err != nil {
		if errors.Is(err, storage.ErrStatusChanged) {
			return nil, fmt.Errorf("delivery %d changed concurrently: %w", d.ID, ErrInvalidTransition)
		}
		e.log.Error().Err(err).Int64("delivery_id", d.ID).Msg("apply status")
		return nil, storeErr("apply status", err)
	}
	e.metrics.StatusUpdate(string(u.Status))
	e.log.Info().
		Int64("delivery_id", d.ID).
		Str("from", string(d.Status)).
		Str("to", string(u.Status)).
		Msg("delivery status updated")

	e.announceStatus(ctx, updated, change, msg)
	return updated, nil
}

// checkActor requires actor to be the user behind the delivery's partner.
func (e *Engine) checkActor(ctx context.Context, d *models.Delivery, actor int64) error {
	if d.DeliveryPartnerID == nil {
		return fmt.Errorf("delivery %d has no partner: %w", d.ID, ErrUnauthorized)
	}
	p, err := e.store.GetPartner(ctx, *d.DeliveryPartnerID)
	if err != nil {
		return storeErr("load partner", err)
	}
	if p == nil || actor <= 0 || p.UserID != actor {
		return fmt.Errorf("user %d may not update delivery %d: %w", actor, d.ID, ErrUnauthorized)
	}
	return nil
}

func (e *Engine) announceStatus(ctx context.Context, d *models.Delivery, change storage.StatusChange, msg Message) {
	var loc map[string]float64
	if change.Latitude != nil && change.Longitude != nil {
		loc = map[string]float64{"latitude": *change.Latitude, "longitude": *change.Longitude}
	}
	e.stakeholders(ctx, d, models.Event{
		Type:       models.EventStatusUpdate,
		DeliveryID: d.ID,
		OrderID:    d.OrderID,
		Message:    msg.Body,
		Data: map[string]interface{}{
			"status":      d.Status,
			"description": change.Description,
			"location":    loc,
			"timestamp":   change.At,
		},
	})

	o, err := e.store.GetOrder(ctx, d.OrderID)
	if err != nil || o == nil {
		e.log.Warn().Err(err).Int64("order_id", d.OrderID).Msg("load order for status notification")
		return
	}
	e.notify(ctx, notify.Notification{
		UserID:  o.CustomerID,
		Title:   msg.Title,
		Message: msg.Body,
		Type:    models.NotificationOrder,
		OrderID: int64Ptr(o.ID),
		Data:    map[string]interface{}{"deliveryId": d.ID, "status": d.Status},
	})
}

// --- Routes ---

// InitializeTracking computes and stores the delivery's route, stamps the
// assignment in its history and tells the partner where to go.
func (e *Engine) InitializeTracking(ctx context.Context, deliveryID int64) (*RouteView, error) {
	d, err := e.loadDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	o, err := e.store.GetOrder(ctx, d.OrderID)
	if err != nil {
		return nil, storeErr("load order", err)
	}
	if o == nil {
		return nil, fmt.Errorf("order %d: %w", d.OrderID, ErrNotFound)
	}
	st, err := e.store.GetStore(ctx, o.StoreID)
	if err != nil {
		return nil, storeErr("load store", err)
	}
	if st == nil {
		return nil, fmt.Errorf("store %d: %w", o.StoreID, ErrNotFound)
	}

	pickup := point(st.Latitude, st.Longitude)
	drop := point(o.Latitude, o.Longitude)
	if pickup == nil || drop == nil {
		return nil, fmt.Errorf("%w: store and delivery coordinates are required", ErrValidation)
	}

	mode := e.opts.DefaultMode
	var partner *models.DeliveryPartner
	if d.DeliveryPartnerID != nil {
		if partner, err = e.store.GetPartner(ctx, *d.DeliveryPartnerID); err != nil {
			return nil, storeErr("load partner", err)
		}
		if partner != nil {
			mode = route.ModeForVehicle(partner.VehicleType)
		}
	}

	view, err := e.storeRoute(ctx, d, *pickup, *drop, mode)
	if err != nil {
		return nil, err
	}

	if d.Status == models.DeliveryPending || d.Status == models.DeliveryAssigned {
		_, err := e.store.ApplyStatus(ctx, storage.StatusChange{
			DeliveryID:  d.ID,
			From:        d.Status,
			To:          models.DeliveryAssigned,
			Description: "Delivery partner assigned",
			Latitude:    st.Latitude,
			Longitude:   st.Longitude,
			At:          e.now(),
		})
		if err != nil {
			return nil, storeErr("stamp assignment", err)
		}
	}

	if partner != nil {
		e.notify(ctx, notify.Notification{
			UserID:  partner.UserID,
			Title:   "New Delivery Assignment",
			Message: fmt.Sprintf("You have been assigned a new delivery from %s to %s", st.Address, o.ShippingAddress),
			Type:    models.NotificationDelivery,
			OrderID: int64Ptr(o.ID),
			Data:    map[string]interface{}{"deliveryId": d.ID, "googleMapsLink": view.GoogleMapsLink},
		})
	}

	e.stakeholders(ctx, d, models.Event{Type: models.EventRouteUpdate, DeliveryID: d.ID, OrderID: d.OrderID, Data: view})
	return view, nil
}

// RecomputeRoute replaces the delivery's route with one between the given
// points.
func (e *Engine) RecomputeRoute(ctx context.Context, deliveryID int64, pickup, drop geo.Point) (*RouteView, error) {
	if !pickup.Valid() || !drop.Valid() {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}
	d, err := e.loadDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}

	mode := e.opts.DefaultMode
	if stored, err := e.store.GetRoute(ctx, d.ID); err == nil && stored != nil && stored.Mode != "" {
		mode = route.ParseMode(stored.Mode)
	}

	view, err := e.storeRoute(ctx, d, pickup, drop, mode)
	if err != nil {
		return nil, err
	}
	e.stakeholders(ctx, d, models.Event{Type: models.EventRouteUpdate, DeliveryID: d.ID, OrderID: d.OrderID, Data: view})
	return view, nil
}

func (e *Engine) storeRoute(ctx context.Context, d *models.Delivery, pickup, drop geo.Point, mode route.Mode) (*RouteView, error) {
	r := e.router.Calculate(ctx, pickup, drop, mode)
	stored := &models.DeliveryRoute{
		DeliveryID:        d.ID,
		PickupLatitude:    pickup.Lat,
		PickupLongitude:   pickup.Lng,
		DeliveryLatitude:  drop.Lat,
		DeliveryLongitude: drop.Lng,
		Mode:              string(r.Mode),
		Polyline:          r.Polyline,
		DistanceMeters:    int64(math.Round(r.DistanceMeters)),
		DurationSeconds:   int64(math.Round(r.DurationSeconds)),
		Provider:          r.Provider,
		ProviderRouteID:   r.ProviderRouteID,
	}
	if err := e.store.UpsertRoute(ctx, stored); err != nil {
		e.log.Error().Err(err).Int64("delivery_id", d.ID).Msg("store route")
		return nil, storeErr("store route", err)
	}
	e.log.Debug().
		Int64("delivery_id", d.ID).
		Str("provider", r.Provider).
		Float64("distance_m", r.DistanceMeters).
		Msg("route stored")

	return &RouteView{
		DeliveryID:     d.ID,
		Route:          r,
		ETA:            route.CalculateETA(r, nil, e.now()),
		GoogleMapsLink: route.GoogleMapsLink(pickup, drop),
	}, nil
}

// routeFromStored rebuilds a route from its cached row. A missing or broken
// polyline degrades to the two endpoints.
func routeFromStored(s *models.DeliveryRoute) *route.Route {
	pickup := geo.Point{Lat: s.PickupLatitude, Lng: s.PickupLongitude}
	drop := geo.Point{Lat: s.DeliveryLatitude, Lng: s.DeliveryLongitude}
	coords, err := route.DecodePolyline(s.Polyline)
	if err != nil || len(coords) < 2 {
		coords = []geo.Point{pickup, drop}
	}
	return &route.Route{
		Polyline:        s.Polyline,
		Coordinates:     coords,
		DistanceMeters:  float64(s.DistanceMeters),
		DurationSeconds: float64(s.DurationSeconds),
		Mode:            route.ParseMode(s.Mode),
		Provider:        s.Provider,
		ProviderRouteID: s.ProviderRouteID,
	}
}

// --- Queries ---

func (e *Engine) GetTrackingData(ctx context.Context, deliveryID int64) (*TrackingData, error) {
	d, err := e.loadDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	data := &TrackingData{Delivery: d, History: []models.StatusHistory{}}

	if data.CurrentLocation, err = e.store.GetActiveLocation(ctx, d.ID); err != nil {
		return nil, storeErr("load location", err)
	}

	stored, err := e.store.GetRoute(ctx, d.ID)
	if err != nil {
		return nil, storeErr("load route", err)
	}
	if stored != nil {
		r := routeFromStored(stored)
		var current *geo.Point
		if loc := data.CurrentLocation; loc != nil {
			current = &geo.Point{Lat: loc.Latitude, Lng: loc.Longitude}
		}
		data.Route = &RouteView{
			DeliveryID:     d.ID,
			Route:          r,
			ETA:            route.CalculateETA(r, current, e.now()),
			GoogleMapsLink: route.GoogleMapsLink(r.Origin(), r.Destination()),
		}
	}

	history, err := e.store.ListStatusHistory(ctx, d.ID, true)
	if err != nil {
		return nil, storeErr("load history", err)
	}
	if history != nil {
		data.History = history
	}
	return data, nil
}

// PartnerDeliveries lists the partner's deliveries, newest first.
func (e *Engine) PartnerDeliveries(ctx context.Context, partnerID int64) ([]models.Delivery, error) {
	if _, err := e.loadPartner(ctx, partnerID); err != nil {
		return nil, err
	}
	ds, err := e.store.ListDeliveriesByPartner(ctx, partnerID)
	if err != nil {
		return nil, storeErr("list deliveries", err)
	}
	if ds == nil {
		ds = []models.Delivery{}
	}
	return ds, nil
}

// PartnerForUser resolves the partner profile behind a user id.
func (e *Engine) PartnerForUser(ctx context.Context, userID int64) (*models.DeliveryPartner, error) {
	p, err := e.store.GetPartnerByUserID(ctx, userID)
	if err != nil {
		return nil, storeErr("load partner", err)
	}
	if p == nil {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return p, nil
}
