package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"github.com/shohag/dispatchrelay/internal/models"
	"github.com/shohag/dispatchrelay/internal/notify"
	"github.com/shohag/dispatchrelay/internal/route"
	"github.com/shohag/dispatchrelay/internal/storage"
)

// --- Offers ---

// offerFor loads the order's store and builds a priced offer.
func (e *Engine) offerFor(ctx context.Context, o *models.Order) (*Offer, error) {
	st, err := e.store.GetStore(ctx, o.StoreID)
	if err != nil {
		return nil, storeErr("load store", err)
	}
	if st == nil {
		return nil, fmt.Errorf("store %d: %w", o.StoreID, ErrNotFound)
	}

	var r *route.Route
	pickup := point(st.Latitude, st.Longitude)
	drop := point(o.Latitude, o.Longitude)
	if pickup != nil && drop != nil && e.router != nil {
		r = e.router.Calculate(ctx, *pickup, *drop, e.opts.DefaultMode)
	}
	return e.buildOffer(o, st, r), nil
}

// NotifyReadyForPickup marks the order ready and offers it to every approved,
// available partner. No delivery is created until a partner accepts.
func (e *Engine) NotifyReadyForPickup(ctx context.Context, orderID int64) (*Broadcast, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeErr("load order", err)
	}
	if o == nil {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if !o.Status.Claimable() {
		return nil, fmt.Errorf("order %d is %s: %w", orderID, o.Status, ErrOrderUnavailable)
	}

	ok, err := e.store.MarkOrderReady(ctx, orderID)
	if err != nil {
		return nil, storeErr("mark order ready", err)
	}
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrOrderUnavailable)
	}
	o.Status = models.OrderReadyForPickup

	off, err := e.offerFor(ctx, o)
	if err != nil {
		return nil, err
	}

	partners, err := e.store.ListEligiblePartners(ctx)
	if err != nil {
		return nil, storeErr("list partners", err)
	}

	ev := models.Event{Type: models.EventDeliveryOffer, OrderID: o.ID, Data: off}
	title := "🚚 New Delivery Assignment"
	body := fmt.Sprintf("Pickup from %s to %s. Fee: Rs. %.0f", off.Pickup.Name, off.Delivery.Address, off.Financials.DeliveryFee)

	var frames atomic.Int64
	p := pool.New().WithMaxGoroutines(e.opts.FanoutWorkers)
	for _, partner := range partners {
		p.Go(func() {
			if e.hub != nil {
				frames.Add(int64(e.hub.SendToUser(ctx, partner.UserID, ev)))
			}
			e.notify(ctx, notify.Notification{
				UserID:  partner.UserID,
				Title:   title,
				Message: body,
				Type:    models.NotificationDeliveryOffer,
				OrderID: int64Ptr(o.ID),
				Data:    off,
			})
		})
	}
	p.Wait()

	e.metrics.OffersSent(len(partners))
	e.log.Info().
		Int64("order_id", o.ID).
		Str("offer_id", off.OfferID.String()).
		Int("partners", len(partners)).
		Int64("frames", frames.Load()).
		Msg("order offered to partners")

	return &Broadcast{Offer: off, Partners: len(partners), Frames: int(frames.Load())}, nil
}

// AvailableOffers lists an offer for every order still waiting for a
// partner. Partners who cannot take work see nothing.
func (e *Engine) AvailableOffers(ctx context.Context, partnerID int64) ([]*Offer, error) {
	p, err := e.loadPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	offers := []*Offer{}
	if !p.Eligible() {
		return offers, nil
	}

	orders, err := e.store.ListOrdersByStatus(ctx, models.OrderReadyForPickup)
	if err != nil {
		return nil, storeErr("list ready orders", err)
	}
	for i := range orders {
		off, err := e.offerFor(ctx, &orders[i])
		if err != nil {
			e.log.Warn().Err(err).Int64("order_id", orders[i].ID).Msg("skip offer")
			continue
		}
		offers = append(offers, off)
	}
	return offers, nil
}

// --- Assignment ---

// AcceptAssignment binds the order to the partner. Exactly one concurrent
// caller wins; the rest get ErrAlreadyAssigned and cause no side effects.
func (e *Engine) AcceptAssignment(ctx context.Context, orderID, partnerID int64) (*models.Delivery, error) {
	d, err := e.accept(ctx, orderID, partnerID)
	switch {
	case err == nil:
		e.metrics.Accept("won")
	case errors.Is(err, ErrAlreadyAssigned):
		e.metrics.Accept("conflict")
	default:
		e.metrics.Accept("rejected")
	}
	return d, err
}

func (e *Engine) accept(ctx context.Context, orderID, partnerID int64) (*models.Delivery, error) {
	partner, err := e.loadPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if partner.Status != models.PartnerApproved {
		return nil, fmt.Errorf("partner %d is %s: %w", partnerID, partner.Status, ErrUnauthorized)
	}

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeErr("load order", err)
	}
	if o == nil {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if o.Status == models.OrderAssignedForDelivery {
		return nil, ErrAlreadyAssigned
	}
	if !o.Status.Claimable() {
		return nil, fmt.Errorf("order %d is %s: %w", orderID, o.Status, ErrOrderUnavailable)
	}

	off, err := e.offerFor(ctx, o)
	if err != nil {
		return nil, err
	}
	claim := storage.Claim{
		OrderID:             orderID,
		PartnerID:           partnerID,
		ActorUserID:         int64Ptr(partner.UserID),
		DeliveryFee:         off.Financials.DeliveryFee,
		PickupAddress:       off.Pickup.Address,
		DeliveryAddress:     off.Delivery.Address,
		SpecialInstructions: o.SpecialInstructions,
		Description:         fmt.Sprintf("Order accepted by %s", partner.Name),
		At:                  e.now(),
	}
	if off.Estimate.DistanceKm > 0 {
		km, mins := off.Estimate.DistanceKm, off.Estimate.Minutes
		claim.EstimatedDistanceKm = &km
		claim.EstimatedMinutes = &mins
	}

	d, err := e.store.ClaimOrder(ctx, claim)
	if err != nil {
		return nil, storeErr("claim order", err)
	}

	e.log.Info().
		Int64("order_id", orderID).
		Int64("delivery_id", d.ID).
		Int64("partner_id", partnerID).
		Msg("order assigned")

	e.afterAccept(ctx, o, partner, d)
	return d, nil
}

// afterAccept closes out the other offers and tells everyone involved.
// Failures here are logged; the assignment already committed.
func (e *Engine) afterAccept(ctx context.Context, o *models.Order, partner *models.DeliveryPartner, d *models.Delivery) {
	if _, err := e.store.MarkOffersRead(ctx, o.ID, partner.UserID); err != nil {
		e.log.Warn().Err(err).Int64("order_id", o.ID).Msg("mark winning offer read")
	}

	losers, err := e.store.InvalidateOffers(ctx, o.ID, partner.UserID)
	if err != nil {
		e.log.Warn().Err(err).Int64("order_id", o.ID).Msg("invalidate offers")
	}
	if e.hub != nil {
		withdrawn := models.Event{
			Type:    models.EventOfferWithdrawn,
			OrderID: o.ID,
			Message: "This order has been assigned to another delivery partner",
		}
		for _, userID := range losers {
			e.hub.SendToUser(ctx, userID, withdrawn)
		}
	}

	msg := StatusMessage(models.DeliveryAssigned)
	e.notify(ctx, notify.Notification{
		UserID:  o.CustomerID,
		Title:   msg.Title,
		Message: msg.Body,
		Type:    models.NotificationOrder,
		OrderID: int64Ptr(o.ID),
		Data:    map[string]interface{}{"deliveryId": d.ID, "status": d.Status},
	})
	if e.hub != nil {
		e.hub.SendToUser(ctx, o.CustomerID, models.Event{
			Type:       models.EventStatusUpdate,
			DeliveryID: d.ID,
			OrderID:    o.ID,
			Message:    msg.Body,
			Data: map[string]interface{}{
				"status":          d.Status,
				"description":     msg.Body,
				"location":        nil,
				"timestamp":       e.now(),
				"deliveryPartner": partner.Name,
			},
		})
		e.hub.SendToUser(ctx, partner.UserID, models.Event{
			Type:       models.EventAssignmentConfirmed,
			DeliveryID: d.ID,
			OrderID:    o.ID,
			Message:    "Order assigned to you",
			Data:       d,
		})
	}
	e.notify(ctx, notify.Notification{
		UserID:  partner.UserID,
		Title:   "Delivery Confirmed",
		Message: fmt.Sprintf("Order #%d is yours. Head to %s for pickup", o.ID, d.PickupAddress),
		Type:    models.NotificationDelivery,
		OrderID: int64Ptr(o.ID),
		Data:    map[string]interface{}{"deliveryId": d.ID},
	})
}

// RejectAssignment dismisses the partner's offer for the order. The order is
// left open for others.
func (e *Engine) RejectAssignment(ctx context.Context, partnerID, orderID, notificationID int64) error {
	partner, err := e.loadPartner(ctx, partnerID)
	if err != nil {
		return err
	}
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return storeErr("load order", err)
	}
	if o == nil {
		return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}

	if notificationID > 0 {
		n, err := e.store.GetNotification(ctx, notificationID)
		if err != nil {
			return storeErr("load notification", err)
		}
		if n == nil {
			return fmt.Errorf("notification %d: %w", notificationID, ErrNotFound)
		}
		if n.UserID != partner.UserID {
			return fmt.Errorf("notification %d: %w", notificationID, ErrUnauthorized)
		}
		if err := e.store.MarkNotificationRead(ctx, notificationID); err != nil {
			return storeErr("mark notification read", err)
		}
	} else if _, err := e.store.MarkOffersRead(ctx, orderID, partner.UserID); err != nil {
		return storeErr("mark offers read", err)
	}

	e.log.Info().Int64("order_id", orderID).Int64("partner_id", partnerID).Msg("offer rejected")

	if !e.opts.ReannounceOnReject || o.Status != models.OrderReadyForPickup || e.hub == nil {
		return nil
	}
	partners, err := e.store.ListEligiblePartners(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("list partners for re-announce")
		return nil
	}
	ev := models.Event{Type: models.EventOfferOpen, OrderID: orderID, Message: "Order is still looking for a delivery partner"}
	for _, p := range partners {
		if p.ID == partnerID {
			continue
		}
		e.hub.SendToUser(ctx, p.UserID, ev)
	}
	return nil
}
