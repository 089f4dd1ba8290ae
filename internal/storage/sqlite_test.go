package storage

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/shohag/dispatchrelay/internal/models"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := NewSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func floatPtr(f float64) *float64 { return &f }

// fixture creates a store, an order ready for pickup and n approved partners.
func fixture(t *testing.T, s *SQLiteStorage, partners int) (*models.Order, []models.DeliveryPartner) {
	t.Helper()
	ctx := context.Background()

	st := &models.Store{Name: "Corner Shop", Address: "Main Rd", Latitude: floatPtr(26.66), Longitude: floatPtr(86.21)}
	require.NoError(t, s.CreateStore(ctx, st))

	o := &models.Order{
		ID: 501, CustomerID: 9, CustomerName: "Asha", StoreID: st.ID, TotalAmount: 420,
		Status: models.OrderReadyForPickup, ShippingAddress: "Lake Side", Latitude: floatPtr(26.70), Longitude: floatPtr(86.25),
	}
	require.NoError(t, s.CreateOrder(ctx, o))

	var out []models.DeliveryPartner
	for i := 0; i < partners; i++ {
		p := &models.DeliveryPartner{
			UserID: int64(100 + i), Name: fmt.Sprintf("P%d", i+1), VehicleType: "scooter",
			Status: models.PartnerApproved, IsAvailable: true,
		}
		require.NoError(t, s.CreatePartner(ctx, p))
		out = append(out, *p)
	}
	return o, out
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestCreateOrderKeepsExplicitID(t *testing.T) {
	s := openTestStore(t)
	o, _ := fixture(t, s, 0)
	require.Equal(t, int64(501), o.ID)

	got, err := s.GetOrder(context.Background(), 501)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, models.OrderReadyForPickup, got.Status)
	require.InDelta(t, 26.70, *got.Latitude, 1e-9)
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	o, err := s.GetOrder(ctx, 42)
	require.NoError(t, err)
	require.Nil(t, o)

	d, err := s.GetDelivery(ctx, 42)
	require.NoError(t, err)
	require.Nil(t, d)

	p, err := s.GetPartnerByUserID(ctx, 42)
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestMarkOrderReady(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := &models.Store{Name: "S", Address: "A"}
	require.NoError(t, s.CreateStore(ctx, st))

	o := &models.Order{CustomerID: 1, StoreID: st.ID, ShippingAddress: "X"}
	require.NoError(t, s.CreateOrder(ctx, o))

	ok, err := s.MarkOrderReady(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ready, err := s.ListOrdersByStatus(ctx, models.OrderReadyForPickup)
	require.NoError(t, err)
	require.Len(t, ready, 1)

	_, err = s.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, models.OrderDelivered, o.ID)
	require.NoError(t, err)
	ok, err = s.MarkOrderReady(ctx, o.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClaimOrderSingleWinner(t *testing.T) {
	s := openTestStore(t)
	o, partners := fixture(t, s, 8)
	ctx := context.Background()

	type result struct {
		partnerID int64
		err       error
	}
	results := make(chan result, len(partners))
	start := make(chan struct{})
	for _, p := range partners {
		p := p
		go func() {
			<-start
			_, err := s.ClaimOrder(ctx, Claim{OrderID: o.ID, PartnerID: p.ID, DeliveryFee: 30})
			results <- result{p.ID, err}
		}()
	}
	close(start)

	var winners []int64
	for range partners {
		r := <-results
		if r.err == nil {
			winners = append(winners, r.partnerID)
			continue
		}
		require.ErrorIs(t, r.err, ErrAlreadyClaimed)
	}
	require.Len(t, winners, 1)

	d, err := s.GetDeliveryByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.True(t, d.BoundTo(winners[0]))
	require.Equal(t, models.DeliveryAssigned, d.Status)
	require.NotNil(t, d.AssignedAt)

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderAssignedForDelivery, got.Status)

	history, err := s.ListStatusHistory(ctx, d.ID, false)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, models.DeliveryAssigned, history[0].Status)
}

func TestClaimOrderRejectsClosedAndUnknown(t *testing.T) {
	s := openTestStore(t)
	o, partners := fixture(t, s, 1)
	ctx := context.Background()

	_, err := s.ClaimOrder(ctx, Claim{OrderID: 999, PartnerID: partners[0].ID})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, models.OrderCancelled, o.ID)
	require.NoError(t, err)
	_, err = s.ClaimOrder(ctx, Claim{OrderID: o.ID, PartnerID: partners[0].ID})
	require.ErrorIs(t, err, ErrNotClaimable)

	d, err := s.GetDeliveryByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Nil(t, d)
}

func TestClaimOrderBindsExistingPendingDelivery(t *testing.T) {
	s := openTestStore(t)
	o, partners := fixture(t, s, 1)
	ctx := context.Background()

	pending := &models.Delivery{ID: 77, OrderID: o.ID}
	require.NoError(t, s.CreateDelivery(ctx, pending))

	d, err := s.ClaimOrder(ctx, Claim{OrderID: o.ID, PartnerID: partners[0].ID, DeliveryFee: 50})
	require.NoError(t, err)
	require.Equal(t, int64(77), d.ID)
	require.Equal(t, 50.0, d.DeliveryFee)
}

func TestApplyStatusLifecycle(t *testing.T) {
	s := openTestStore(t)
	o, partners := fixture(t, s, 1)
	ctx := context.Background()

	d, err := s.ClaimOrder(ctx, Claim{OrderID: o.ID, PartnerID: partners[0].ID, DeliveryFee: 30})
	require.NoError(t, err)

	steps := []struct {
		from, to models.DeliveryStatus
		order    models.OrderStatus
	}{
		{models.DeliveryAssigned, models.DeliveryPickedUp, models.OrderOutForDelivery},
		{models.DeliveryPickedUp, models.DeliveryInTransit, ""},
		{models.DeliveryInTransit, models.DeliveryDelivered, models.OrderDelivered},
	}
	for _, step := range steps {
		d, err = s.ApplyStatus(ctx, StatusChange{
			DeliveryID: d.ID, From: step.from, To: step.to, OrderStatus: step.order,
			Metadata: []byte(`{"source":"test"}`),
		})
		require.NoError(t, err)
		require.Equal(t, step.to, d.Status)
	}
	require.NotNil(t, d.PickedUpAt)
	require.NotNil(t, d.DeliveredAt)
	require.NotNil(t, d.ActualMinutes)

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderDelivered, got.Status)

	p, err := s.GetPartner(ctx, partners[0].ID)
	require.NoError(t, err)
	require.Equal(t, 1, p.TotalDeliveries)
	require.Equal(t, 30.0, p.TotalEarnings)

	history, err := s.ListStatusHistory(ctx, d.ID, false)
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i := 1; i < len(history); i++ {
		require.False(t, history[i].Timestamp.Before(history[i-1].Timestamp))
	}
	require.Equal(t, d.Status, history[len(history)-1].Status)
	require.JSONEq(t, `{"source":"test"}`, string(history[len(history)-1].Metadata))

	newest, err := s.ListStatusHistory(ctx, d.ID, true)
	require.NoError(t, err)
	require.Equal(t, models.DeliveryDelivered, newest[0].Status)
}

func TestApplyStatusDetectsConcurrentChange(t *testing.T) {
	s := openTestStore(t)
	o, partners := fixture(t, s, 1)
	ctx := context.Background()

	d, err := s.ClaimOrder(ctx, Claim{OrderID: o.ID, PartnerID: partners[0].ID})
	require.NoError(t, err)

	_, err = s.ApplyStatus(ctx, StatusChange{DeliveryID: d.ID, From: models.DeliveryPickedUp, To: models.DeliveryInTransit})
	require.ErrorIs(t, err, ErrStatusChanged)

	_, err = s.ApplyStatus(ctx, StatusChange{DeliveryID: 12345, From: models.DeliveryAssigned, To: models.DeliveryPickedUp})
	require.ErrorIs(t, err, ErrNotFound)

	history, err := s.ListStatusHistory(ctx, d.ID, false)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestRecordLocationKeepsSingleActivePing(t *testing.T) {
	s := openTestStore(t)
	o, partners := fixture(t, s, 1)
	ctx := context.Background()

	d, err := s.ClaimOrder(ctx, Claim{OrderID: o.ID, PartnerID: partners[0].ID})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		p := &models.LocationPing{
			DeliveryID: d.ID, DeliveryPartnerID: partners[0].ID,
			Latitude: 26.66 + float64(i)*0.001, Longitude: 86.21,
		}
		require.NoError(t, s.RecordLocation(ctx, p))
		require.True(t, p.IsActive)
	}

	pings, err := s.ListLocations(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, pings, 5)
	active := 0
	for _, p := range pings {
		if p.IsActive {
			active++
		}
	}
	require.Equal(t, 1, active)

	latest, err := s.GetActiveLocation(ctx, d.ID)
	require.NoError(t, err)
	require.InDelta(t, 26.664, latest.Latitude, 1e-9)
}

func TestUpsertRouteReplaces(t *testing.T) {
	s := openTestStore(t)
	o, partners := fixture(t, s, 1)
	ctx := context.Background()

	d, err := s.ClaimOrder(ctx, Claim{OrderID: o.ID, PartnerID: partners[0].ID})
	require.NoError(t, err)

	r := &models.DeliveryRoute{DeliveryID: d.ID, Mode: "driving", Polyline: "abc", DistanceMeters: 1000, DurationSeconds: 90, Provider: "osrm"}
	require.NoError(t, s.UpsertRoute(ctx, r))
	firstID := r.ID

	r2 := &models.DeliveryRoute{DeliveryID: d.ID, Mode: "cycling", Polyline: "xyz", DistanceMeters: 2000, DurationSeconds: 480, Provider: "straight_line"}
	require.NoError(t, s.UpsertRoute(ctx, r2))
	require.Equal(t, firstID, r2.ID)

	got, err := s.GetRoute(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "xyz", got.Polyline)
	require.Equal(t, int64(2000), got.DistanceMeters)
}

func TestSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ss := &models.Session{SessionID: "user_9_a", UserID: 9, UserType: models.RoleCustomer}
	require.NoError(t, s.UpsertSession(ctx, ss))
	require.NoError(t, s.UpsertSession(ctx, &models.Session{SessionID: "user_10_b", UserID: 10, UserType: models.RoleShopkeeper}))

	active, err := s.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	require.NoError(t, s.DeactivateSession(ctx, "user_9_a"))
	got, err := s.GetSession(ctx, "user_9_a")
	require.NoError(t, err)
	require.False(t, got.IsActive)

	require.NoError(t, s.UpsertSession(ctx, &models.Session{SessionID: "user_9_a", UserID: 9, UserType: models.RoleCustomer}))
	got, err = s.GetSession(ctx, "user_9_a")
	require.NoError(t, err)
	require.True(t, got.IsActive)

	n, err := s.DeactivateAllSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestOfferNotifications(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	orderID := int64(501)

	for _, user := range []int64{100, 101, 102} {
		require.NoError(t, s.CreateNotification(ctx, &models.Notification{
			UserID: user, Title: "New delivery", Message: "m", Type: models.NotificationDeliveryOffer, OrderID: &orderID,
		}))
	}

	n, err := s.MarkOffersRead(ctx, orderID, 102)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	users, err := s.InvalidateOffers(ctx, orderID, 100)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{101}, users)

	list, err := s.ListNotifications(ctx, 100, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.False(t, list[0].IsRead)
}

func TestPendingPushes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n := &models.Notification{UserID: 5, Title: "t", Message: "m", PushStatus: models.PushPending}
	require.NoError(t, s.CreateNotification(ctx, n))
	require.NoError(t, s.CreateNotification(ctx, &models.Notification{UserID: 5, Title: "t", Message: "m"}))

	pending, err := s.GetPendingPushes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, n.ID, pending[0].ID)

	require.NoError(t, s.UpdatePush(ctx, n.ID, models.PushSent, 1, nil))
	pending, err = s.GetPendingPushes(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.PendingPushes)
}

func TestPushTokens(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tok := &models.PushToken{UserID: 5, Token: "tok-1", Platform: "android"}
	require.NoError(t, s.UpsertPushToken(ctx, tok))
	require.NotZero(t, tok.ID)
	require.NoError(t, s.UpsertPushToken(ctx, &models.PushToken{UserID: 5, Token: "tok-1", Platform: "ios"}))

	tokens, err := s.ListActivePushTokens(ctx, 5)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	require.Equal(t, "ios", tokens[0].Platform)

	require.NoError(t, s.DeactivatePushToken(ctx, "tok-1"))
	tokens, err = s.ListActivePushTokens(ctx, 5)
	require.NoError(t, err)
	require.Empty(t, tokens)
}
