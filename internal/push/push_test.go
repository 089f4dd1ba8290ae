package push

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/dispatchrelay/internal/config"
	"github.com/shohag/dispatchrelay/internal/models"
	"github.com/shohag/dispatchrelay/internal/signing"
	"github.com/shohag/dispatchrelay/internal/storage"
	"github.com/shohag/dispatchrelay/internal/testutil"
)

type gateway struct {
	*httptest.Server
	hits   atomic.Int32
	status atomic.Int32
}

func newGateway(t *testing.T, secret string) *gateway {
	t.Helper()
	g := &gateway{}
	g.status.Store(http.StatusOK)
	g.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		ts, _ := strconv.ParseInt(r.Header.Get(signing.TimestampHeader), 10, 64)
		if err := signing.Verify(secret, body, ts, r.Header.Get(signing.SignatureHeader), time.Now(), time.Minute); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var msg Message
		if err := json.Unmarshal(body, &msg); err != nil || msg.Token == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(int(g.status.Load()))
	}))
	t.Cleanup(g.Close)
	return g
}

func seedPush(t *testing.T, s storage.Storage, withToken bool) *models.Notification {
	t.Helper()
	ctx := context.Background()
	if withToken {
		require.NoError(t, s.UpsertPushToken(ctx, &models.PushToken{UserID: 9, Token: "device-1", Platform: "android"}))
	}
	n := &models.Notification{UserID: 9, Title: "Order Picked Up", Message: "Your order is on the way",
		Type: models.NotificationDelivery, PushStatus: models.PushPending}
	require.NoError(t, s.CreateNotification(ctx, n))
	return n
}

func newTestWorker(s storage.Storage, url string, maxAttempts int) *Worker {
	return NewWorker(s, NewSender(url, "push-secret", time.Second), nil, maxAttempts,
		[]time.Duration{time.Minute, 5 * time.Minute}, zerolog.Nop())
}

func TestWorkerSent(t *testing.T) {
	s := testutil.OpenStore(t)
	g := newGateway(t, "push-secret")
	n := seedPush(t, s, true)

	newTestWorker(s, g.URL, 3).Process(context.Background(), *n)

	got, err := s.GetNotification(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PushSent, got.PushStatus)
	assert.Equal(t, 1, got.PushAttempts)
	assert.Nil(t, got.NextPushAt)
	assert.Equal(t, int32(1), g.hits.Load())
}

func TestWorkerSkippedWithoutTokens(t *testing.T) {
	s := testutil.OpenStore(t)
	g := newGateway(t, "push-secret")
	n := seedPush(t, s, false)

	newTestWorker(s, g.URL, 3).Process(context.Background(), *n)

	got, err := s.GetNotification(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PushSkipped, got.PushStatus)
	assert.Equal(t, int32(0), g.hits.Load())
}

func TestWorkerRetriesThenFails(t *testing.T) {
	s := testutil.OpenStore(t)
	g := newGateway(t, "push-secret")
	g.status.Store(http.StatusServiceUnavailable)
	n := seedPush(t, s, true)
	ctx := context.Background()

	w := newTestWorker(s, g.URL, 2)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	w.Process(ctx, *n)
	got, err := s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PushRetrying, got.PushStatus)
	require.NotNil(t, got.NextPushAt)
	assert.WithinDuration(t, fixed.Add(time.Minute), *got.NextPushAt, time.Second)

	w.Process(ctx, *got)
	got, err = s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PushFailed, got.PushStatus)
	assert.Equal(t, 2, got.PushAttempts)
}

func TestWorkerDeactivatesGoneToken(t *testing.T) {
	s := testutil.OpenStore(t)
	g := newGateway(t, "push-secret")
	g.status.Store(http.StatusGone)
	n := seedPush(t, s, true)

	newTestWorker(s, g.URL, 3).Process(context.Background(), *n)

	tokens, err := s.ListActivePushTokens(context.Background(), 9)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestSenderRejectedSignature(t *testing.T) {
	g := newGateway(t, "push-secret")
	res := NewSender(g.URL, "wrong", time.Second).Send(context.Background(), 1, Message{Token: "x"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.False(t, res.OK())
}

func TestNextRetryTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := []time.Duration{time.Second, time.Minute}

	assert.Nil(t, NextRetryTime(0, schedule, now))
	assert.Equal(t, now.Add(time.Second), *NextRetryTime(1, schedule, now))
	assert.Equal(t, now.Add(time.Minute), *NextRetryTime(2, schedule, now))
	assert.Nil(t, NextRetryTime(3, schedule, now))
}

func TestPoolDrainsOutbox(t *testing.T) {
	s := testutil.OpenStore(t)
	g := newGateway(t, "push-secret")
	n := seedPush(t, s, true)

	pool := NewPool(config.PushConfig{
		Enabled: true, GatewayURL: g.URL, Secret: "push-secret", Workers: 2,
		Timeout: time.Second, MaxAttempts: 3, PollInterval: 10 * time.Millisecond,
	}, s, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	require.Eventually(t, func() bool {
		got, err := s.GetNotification(context.Background(), n.ID)
		return err == nil && got.PushStatus == models.PushSent
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), g.hits.Load())
}
