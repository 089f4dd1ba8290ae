package dispatch

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/shohag/dispatchrelay/internal/geo"
	"github.com/shohag/dispatchrelay/internal/models"
	"github.com/shohag/dispatchrelay/internal/route"
)

// Offer is what a partner sees when an order becomes ready for pickup.
type Offer struct {
	OfferID    uuid.UUID  `json:"offerId"`
	OrderID    int64      `json:"orderId"`
	Pickup     Pickup     `json:"pickup"`
	Delivery   DropOff    `json:"delivery"`
	Financials Financials `json:"financials"`
	Estimate   Estimate   `json:"estimate"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type Pickup struct {
	Name        string     `json:"name"`
	Address     string     `json:"address"`
	Phone       string     `json:"phone,omitempty"`
	MapLink     string     `json:"mapLink,omitempty"`
	Coordinates *geo.Point `json:"coordinates,omitempty"`
}

type DropOff struct {
	CustomerName string     `json:"customerName"`
	Address      string     `json:"address"`
	Phone        string     `json:"phone,omitempty"`
	MapLink      string     `json:"mapLink,omitempty"`
	Coordinates  *geo.Point `json:"coordinates,omitempty"`
}

type Financials struct {
	TotalAmount         float64 `json:"totalAmount"`
	DeliveryFee         float64 `json:"deliveryFee"`
	ItemCount           int     `json:"itemCount"`
	SpecialInstructions string  `json:"specialInstructions,omitempty"`
}

type Estimate struct {
	DistanceKm float64 `json:"distanceKm"`
	Minutes    int     `json:"minutes"`
}

// Broadcast reports how an offer was fanned out.
type Broadcast struct {
	Offer    *Offer `json:"offer"`
	Partners int    `json:"partnersNotified"`
	Frames   int    `json:"framesDelivered"`
}

func point(lat, lng *float64) *geo.Point {
	if lat == nil || lng == nil {
		return nil
	}
	p := geo.Point{Lat: *lat, Lng: *lng}
	if !p.Valid() {
		return nil
	}
	return &p
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// buildOffer prices and describes the order. When either end lacks
// coordinates the estimate is left at zero and the default fee applies.
func (e *Engine) buildOffer(o *models.Order, st *models.Store, r *route.Route) *Offer {
	pickup := point(st.Latitude, st.Longitude)
	drop := point(o.Latitude, o.Longitude)

	off := &Offer{
		OfferID: uuid.New(),
		OrderID: o.ID,
		Pickup: Pickup{
			Name:        st.Name,
			Address:     st.Address,
			Phone:       st.Phone,
			Coordinates: pickup,
		},
		Delivery: DropOff{
			CustomerName: o.CustomerName,
			Address:      o.ShippingAddress,
			Phone:        o.Phone,
			Coordinates:  drop,
		},
		Financials: Financials{
			TotalAmount:         o.TotalAmount,
			ItemCount:           o.ItemCount,
			SpecialInstructions: o.SpecialInstructions,
		},
		CreatedAt: e.now(),
	}
	if pickup != nil {
		off.Pickup.MapLink = route.PlaceLink(*pickup)
	}
	if drop != nil {
		off.Delivery.MapLink = route.PlaceLink(*drop)
	}

	km := 0.0
	if r != nil {
		km = r.DistanceMeters / 1000
		off.Estimate = Estimate{
			DistanceKm: round2(km),
			Minutes:    int(math.Ceil(r.DurationSeconds / 60)),
		}
	}
	off.Financials.DeliveryFee = e.opts.Fees.Fee(km)
	return off
}
