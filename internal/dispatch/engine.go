package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/dispatchrelay/internal/geo"
	"github.com/shohag/dispatchrelay/internal/metrics"
	"github.com/shohag/dispatchrelay/internal/models"
	"github.com/shohag/dispatchrelay/internal/notify"
	"github.com/shohag/dispatchrelay/internal/route"
	"github.com/shohag/dispatchrelay/internal/storage"
)

// Broadcaster pushes events to connected sockets. *realtime.Registry
// satisfies it.
type Broadcaster interface {
	SendToUser(ctx context.Context, userID int64, ev models.Event) int
	SendToRole(ctx context.Context, role models.Role, ev models.Event) int
	SendToSubscribers(ctx context.Context, deliveryID int64, ev models.Event, roles ...models.Role) int
}

// Router resolves a route between two points. It never fails; the
// straight-line estimate is its last resort.
type Router interface {
	Calculate(ctx context.Context, origin, dest geo.Point, mode route.Mode) *route.Route
}

type Options struct {
	Fees               geo.FeeSchedule
	FanoutWorkers      int
	ReannounceOnReject bool
	DefaultMode        route.Mode
}

// Engine owns the order-to-partner handoff and the tracking lifecycle of a
// delivery.
type Engine struct {
	store   storage.Storage
	router  Router
	hub     Broadcaster
	sink    notify.Sink
	metrics *metrics.Metrics
	opts    Options
	log     zerolog.Logger
	now     func() time.Time
}

func NewEngine(store storage.Storage, router Router, hub Broadcaster, sink notify.Sink, m *metrics.Metrics, opts Options, log zerolog.Logger) *Engine {
	if len(opts.Fees.Tiers) == 0 {
		opts.Fees = geo.DefaultFeeSchedule
	}
	if opts.FanoutWorkers <= 0 {
		opts.FanoutWorkers = 16
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = route.ModeDriving
	}
	return &Engine{
		store:   store,
		router:  router,
		hub:     hub,
		sink:    sink,
		metrics: m,
		opts:    opts,
		log:     log.With().Str("component", "dispatch").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// storeErr maps storage sentinels onto dispatch errors and wraps the rest.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, storage.ErrAlreadyClaimed):
		return ErrAlreadyAssigned
	case errors.Is(err, storage.ErrNotClaimable):
		return ErrOrderUnavailable
	case errors.Is(err, storage.ErrStatusChanged):
		return fmt.Errorf("%s: %w", op, ErrInvalidTransition)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// notify records a notification and logs, rather than returns, failures.
func (e *Engine) notify(ctx context.Context, n notify.Notification) {
	if e.sink == nil {
		return
	}
	if _, err := e.sink.Notify(ctx, n); err != nil {
		e.log.Warn().Err(err).Int64("user_id", n.UserID).Str("type", string(n.Type)).Msg("notification failed")
	}
}

// stakeholders broadcasts ev to the order's customer, the bound partner and
// shopkeepers subscribed to the delivery.
func (e *Engine) stakeholders(ctx context.Context, d *models.Delivery, ev models.Event) int {
	if e.hub == nil {
		return 0
	}
	sent := 0
	if o, err := e.store.GetOrder(ctx, d.OrderID); err != nil {
		e.log.Warn().Err(err).Int64("order_id", d.OrderID).Msg("load order for broadcast")
	} else if o != nil {
		sent += e.hub.SendToUser(ctx, o.CustomerID, ev)
	}
	if d.DeliveryPartnerID != nil {
		if p, err := e.store.GetPartner(ctx, *d.DeliveryPartnerID); err != nil {
			e.log.Warn().Err(err).Int64("partner_id", *d.DeliveryPartnerID).Msg("load partner for broadcast")
		} else if p != nil {
			sent += e.hub.SendToUser(ctx, p.UserID, ev)
		}
	}
	// TODO: resolve the store owner once stores carry an owner user id, so
	// shopkeepers are reached without subscribing.
	sent += e.hub.SendToSubscribers(ctx, d.ID, ev, models.RoleShopkeeper)
	return sent
}

func (e *Engine) loadDelivery(ctx context.Context, id int64) (*models.Delivery, error) {
	d, err := e.store.GetDelivery(ctx, id)
	if err != nil {
		return nil, storeErr("load delivery", err)
	}
	if d == nil {
		return nil, fmt.Errorf("delivery %d: %w", id, ErrNotFound)
	}
	return d, nil
}

func (e *Engine) loadPartner(ctx context.Context, id int64) (*models.DeliveryPartner, error) {
	p, err := e.store.GetPartner(ctx, id)
	if err != nil {
		return nil, storeErr("load partner", err)
	}
	if p == nil {
		return nil, fmt.Errorf("partner %d: %w", id, ErrNotFound)
	}
	return p, nil
}

func int64Ptr(v int64) *int64 { return &v }
