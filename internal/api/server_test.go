package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/dispatchrelay/internal/config"
	"github.com/shohag/dispatchrelay/internal/dispatch"
	"github.com/shohag/dispatchrelay/internal/metrics"
	"github.com/shohag/dispatchrelay/internal/models"
	"github.com/shohag/dispatchrelay/internal/notify"
	"github.com/shohag/dispatchrelay/internal/realtime"
	"github.com/shohag/dispatchrelay/internal/route"
	"github.com/shohag/dispatchrelay/internal/testutil"
)

type testServer struct {
	*httptest.Server
	market *testutil.Marketplace
	token  string
}

func newTestServer(t *testing.T, jwtSecret string, partners ...string) *testServer {
	t.Helper()
	s := testutil.OpenStore(t)
	m := testutil.SeedMarketplace(t, s, models.OrderProcessing, partners...)

	log := zerolog.Nop()
	mtr := metrics.New()
	registry := realtime.NewRegistry(s, mtr, log)
	notifier := notify.NewService(s, false, log)
	engine := dispatch.NewEngine(s, route.NewResolver(log, mtr), registry, notifier, mtr, dispatch.Options{}, log)

	cfg := &config.Config{
		Auth:    config.AuthConfig{JWTSecret: jwtSecret},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	socket := realtime.NewHandler(registry, engine, realtime.HandlerConfig{JWTSecret: jwtSecret}, log)
	srv := NewServer(cfg, Deps{
		Store:    s,
		Engine:   engine,
		Notifier: notifier,
		Conns:    registry,
		Socket:   socket,
		Metrics:  mtr,
	}, log)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, market: m}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "")
	resp, body := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Status      string `json:"status"`
		Connections struct {
			Total int `json:"total"`
		} `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, 0, got.Connections.Total)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, "")
	ts.do(t, http.MethodGet, "/health", nil)

	resp, body := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "http_request_duration_seconds")
}

func TestReadyAcceptConflict(t *testing.T) {
	ts := newTestServer(t, "", "P1", "P2")
	p1, p2 := ts.market.Partners[0], ts.market.Partners[1]

	resp, body := ts.do(t, http.MethodPost, "/api/orders/501/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var b dispatch.Broadcast
	require.NoError(t, json.Unmarshal(body, &b))
	assert.Equal(t, 2, b.Partners)

	resp, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/deliveries/available?partnerId=%d", p2.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var offers []dispatch.Offer
	require.NoError(t, json.Unmarshal(body, &offers))
	assert.Len(t, offers, 1)

	resp, body = ts.do(t, http.MethodPost, "/api/deliveries/501/accept", map[string]int64{"partnerId": p1.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodPost, "/api/deliveries/501/accept", map[string]int64{"partnerId": p2.ID})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.JSONEq(t, `{"error":"order already assigned","code":"already_assigned"}`, string(body))

	resp, _ = ts.do(t, http.MethodPost, "/api/deliveries/501/accept", map[string]int64{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/deliveries/available?partnerId=%d", p2.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestRejectAssignment(t *testing.T) {
	ts := newTestServer(t, "", "P1")
	ts.do(t, http.MethodPost, "/api/orders/501/ready", nil)

	resp, body := ts.do(t, http.MethodPost, "/api/delivery/reject-assignment", map[string]int64{
		"deliveryPartnerId": ts.market.Partners[0].ID,
		"orderId":           501,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = ts.do(t, http.MethodPost, "/api/delivery/reject-assignment", map[string]int64{"deliveryPartnerId": ts.market.Partners[0].ID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTrackingEndpoints(t *testing.T) {
	ts := newTestServer(t, "", "P1", "P2")
	p1 := ts.market.Partners[0]
	ts.do(t, http.MethodPost, "/api/orders/501/ready", nil)
	_, body := ts.do(t, http.MethodPost, "/api/deliveries/501/accept", map[string]int64{"partnerId": p1.ID})
	var accepted struct {
		Delivery models.Delivery `json:"delivery"`
	}
	require.NoError(t, json.Unmarshal(body, &accepted))
	id := accepted.Delivery.ID
	require.NotZero(t, id)

	resp, body := ts.do(t, http.MethodPost, fmt.Sprintf("/api/tracking/initialize/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodPost, "/api/tracking/location", map[string]interface{}{
		"deliveryId": id, "deliveryPartnerId": p1.ID, "latitude": 26.68, "longitude": 86.23, "speed": 20,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = ts.do(t, http.MethodPost, "/api/tracking/location", map[string]interface{}{"deliveryId": id, "deliveryPartnerId": p1.ID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/tracking/location", map[string]interface{}{
		"deliveryId": id, "deliveryPartnerId": ts.market.Partners[1].ID, "latitude": 26.68, "longitude": 86.23,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/tracking/status/%d", id), map[string]interface{}{
		"status": "picked_up", "updatedBy": 101,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/tracking/status/%d", id), map[string]interface{}{
		"status": "picked_up", "updatedBy": p1.UserID, "metadata": map[string]string{"bag": "sealed"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/tracking/status/%d", id), map[string]interface{}{
		"status": "assigned", "updatedBy": p1.UserID,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, fmt.Sprintf("/api/tracking/route/%d", id), map[string]interface{}{
		"pickupLocation":   map[string]float64{"latitude": 26.66, "longitude": 86.21},
		"deliveryLocation": map[string]float64{"lat": 26.71, "lng": 86.26},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/tracking/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var data dispatch.TrackingData
	require.NoError(t, json.Unmarshal(body, &data))
	assert.Equal(t, models.DeliveryPickedUp, data.Delivery.Status)
	require.NotNil(t, data.CurrentLocation)
	assert.Equal(t, 26.68, data.CurrentLocation.Latitude)
	require.NotNil(t, data.Route)
	assert.Len(t, data.History, 3)

	resp, _ = ts.do(t, http.MethodGet, "/api/tracking/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/api/tracking/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/delivery-partners/%d/deliveries", p1.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ds []models.Delivery
	require.NoError(t, json.Unmarshal(body, &ds))
	assert.Len(t, ds, 1)
}

func TestNotificationsAndPushTokens(t *testing.T) {
	ts := newTestServer(t, "", "P1")
	ts.do(t, http.MethodPost, "/api/orders/501/ready", nil)

	resp, body := ts.do(t, http.MethodGet, "/api/notifications?userId=100", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ns []models.Notification
	require.NoError(t, json.Unmarshal(body, &ns))
	require.Len(t, ns, 1)
	assert.Equal(t, models.NotificationDeliveryOffer, ns[0].Type)

	resp, _ = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/notifications/%d/read", ns[0].ID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPatch, "/api/notifications/999/read", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/api/notifications", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, "/api/push/tokens", map[string]interface{}{
		"userId": 100, "token": "device-abc", "platform": "android",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	resp, _ = ts.do(t, http.MethodPost, "/api/push/tokens", map[string]interface{}{"userId": 100, "platform": "android"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthenticatedAPI(t *testing.T) {
	const secret = "test-secret"
	ts := newTestServer(t, secret, "P1", "P2")

	resp, _ := ts.do(t, http.MethodGet, "/api/notifications", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ts.token = "not-a-jwt"
	resp, _ = ts.do(t, http.MethodGet, "/api/notifications", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ts.token = testutil.Token(t, secret, 100, models.RoleDeliveryPartner)
	resp, _ = ts.do(t, http.MethodPost, "/api/orders/501/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/deliveries/501/accept", map[string]int64{"partnerId": ts.market.Partners[1].ID})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/deliveries/501/accept", map[string]int64{})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ns []models.Notification
	require.NoError(t, json.Unmarshal(body, &ns))
	assert.NotEmpty(t, ns)
	for _, n := range ns {
		assert.Equal(t, int64(100), n.UserID)
	}

	// Health stays public.
	ts.token = ""
	resp, _ = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
