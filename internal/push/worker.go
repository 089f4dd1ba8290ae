package push

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/dispatchrelay/internal/metrics"
	"github.com/shohag/dispatchrelay/internal/models"
	"github.com/shohag/dispatchrelay/internal/storage"
)

type Worker struct {
	store         storage.Storage
	sender        *Sender
	metrics       *metrics.Metrics
	maxAttempts   int
	retrySchedule []time.Duration
	log           zerolog.Logger
	now           func() time.Time
}

func NewWorker(store storage.Storage, sender *Sender, m *metrics.Metrics, maxAttempts int, retrySchedule []time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		store:         store,
		sender:        sender,
		metrics:       m,
		maxAttempts:   maxAttempts,
		retrySchedule: retrySchedule,
		log:           log,
		now:           time.Now,
	}
}

// Process pushes n to every active device of its user and records the
// outcome on the notification row.
func (w *Worker) Process(ctx context.Context, n models.Notification) {
	log := w.log.With().Int64("notification_id", n.ID).Int64("user_id", n.UserID).Logger()

	tokens, err := w.store.ListActivePushTokens(ctx, n.UserID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load push tokens")
		return
	}

	if len(tokens) == 0 {
		w.metrics.PushAttempt(string(models.PushSkipped))
		if err := w.store.UpdatePush(ctx, n.ID, models.PushSkipped, n.PushAttempts, nil); err != nil {
			log.Error().Err(err).Msg("failed to update push status")
		}
		log.Debug().Msg("no active push tokens, skipping")
		return
	}

	delivered := false
	var lastErr string
	for _, tok := range tokens {
		result := w.sender.Send(ctx, n.ID, Message{
			Token:    tok.Token,
			Platform: tok.Platform,
			Title:    n.Title,
			Body:     n.Message,
			Data:     n.Data,
		})
		if result.OK() {
			delivered = true
			continue
		}
		lastErr = result.Error
		if result.StatusCode == http.StatusGone {
			// gateway reports the device unregistered
			if err := w.store.DeactivatePushToken(ctx, tok.Token); err != nil {
				log.Error().Err(err).Msg("failed to deactivate push token")
			}
		}
		log.Debug().
			Int("status_code", result.StatusCode).
			Str("platform", tok.Platform).
			Str("error", result.Error).
			Msg("push rejected")
	}

	n.PushAttempts++
	var next *time.Time

	switch {
	case delivered:
		n.PushStatus = models.PushSent
		log.Info().Int("attempt", n.PushAttempts).Msg("push sent")
	case n.PushAttempts >= w.maxAttempts:
		n.PushStatus = models.PushFailed
		log.Warn().Int("attempts", n.PushAttempts).Str("error", lastErr).Msg("push permanently failed")
	default:
		next = NextRetryTime(n.PushAttempts, w.retrySchedule, w.now())
		if next == nil {
			n.PushStatus = models.PushFailed
			log.Warn().Int("attempts", n.PushAttempts).Msg("push retry schedule exhausted")
			break
		}
		n.PushStatus = models.PushRetrying
		log.Info().Int("attempt", n.PushAttempts).Time("next_retry", *next).Msg("push scheduled for retry")
	}

	w.metrics.PushAttempt(string(n.PushStatus))
	if err := w.store.UpdatePush(ctx, n.ID, n.PushStatus, n.PushAttempts, next); err != nil {
		log.Error().Err(err).Msg("failed to update push status")
	}
}
