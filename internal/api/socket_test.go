package api

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/dispatchrelay/internal/models"
)

func dialSocket(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// next reads frames until one of type typ arrives.
func next(t *testing.T, ws *websocket.Conn, typ string) models.Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var ev models.Event
		require.NoError(t, ws.ReadJSON(&ev))
		if ev.Type == typ {
			return ev
		}
	}
}

func login(t *testing.T, ws *websocket.Conn, userID int64, role models.Role) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "auth", "userId": userID, "userType": role}))
	next(t, ws, models.EventAuthSuccess)
}

func TestSocketDispatchFlow(t *testing.T) {
	ts := newTestServer(t, "", "P1", "P2")
	p1 := ts.market.Partners[0]

	partner1 := dialSocket(t, ts)
	login(t, partner1, 100, models.RoleDeliveryPartner)
	partner2 := dialSocket(t, ts)
	login(t, partner2, 101, models.RoleDeliveryPartner)
	customer := dialSocket(t, ts)
	login(t, customer, 9, models.RoleCustomer)

	resp, body := ts.do(t, http.MethodPost, "/api/orders/501/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	offer := next(t, partner1, models.EventDeliveryOffer)
	assert.Equal(t, int64(501), offer.OrderID)
	next(t, partner2, models.EventDeliveryOffer)

	resp, body = ts.do(t, http.MethodPost, "/api/deliveries/501/accept", map[string]int64{"partnerId": p1.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	confirmed := next(t, partner1, models.EventAssignmentConfirmed)
	require.NotZero(t, confirmed.DeliveryID)
	next(t, partner2, models.EventOfferWithdrawn)
	status := next(t, customer, models.EventStatusUpdate)
	assert.Equal(t, "Your order has been assigned to a delivery partner", status.Message)

	require.NoError(t, partner1.WriteJSON(map[string]interface{}{
		"type": "location_update", "deliveryId": confirmed.DeliveryID, "latitude": 26.67, "longitude": 86.22,
	}))
	loc := next(t, customer, models.EventLocationUpdate)
	assert.Equal(t, confirmed.DeliveryID, loc.DeliveryID)

	// The losing partner cannot report positions for the delivery.
	require.NoError(t, partner2.WriteJSON(map[string]interface{}{
		"type": "location_update", "deliveryId": fmt.Sprint(confirmed.DeliveryID), "latitude": 26.67, "longitude": 86.22,
	}))
	errFrame := next(t, partner2, models.EventError)
	assert.Equal(t, "Failed to update location", errFrame.Message)
}
