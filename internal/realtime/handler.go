package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/shohag/dispatchrelay/internal/auth"
	"github.com/shohag/dispatchrelay/internal/models"
)

// Error frame messages.
const (
	MsgMissingAuth        = "Missing authentication data"
	MsgInvalidToken       = "Invalid authentication token"
	MsgAuthFailed         = "Authentication failed"
	MsgMissingDeliveryID  = "Missing delivery ID"
	MsgUnauthorizedUpdate = "Unauthorized location update"
	MsgMissingLocation    = "Missing location data"
	MsgLocationFailed     = "Failed to update location"
	MsgUnknownType        = "Unknown message type"
	MsgInvalidFormat      = "Invalid message format"
)

// LocationUpdater records a location frame sent by a delivery partner.
type LocationUpdater interface {
	UpdateLocationForUser(ctx context.Context, userID int64, report models.LocationReport) error
}

type HandlerConfig struct {
	AllowedOrigins []string
	SendBuffer     int
	// ReadTimeout closes a connection that sends neither frames nor pongs.
	ReadTimeout time.Duration
	// JWTSecret, when set, requires a token on auth frames.
	JWTSecret string
}

// Handler upgrades HTTP requests to sockets and runs the client protocol.
type Handler struct {
	registry *Registry
	updater  LocationUpdater
	upgrader websocket.Upgrader
	cfg      HandlerConfig
	log      zerolog.Logger
}

func NewHandler(registry *Registry, updater LocationUpdater, cfg HandlerConfig, log zerolog.Logger) *Handler {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	h := &Handler{
		registry: registry,
		updater:  updater,
		cfg:      cfg,
		log:      log.With().Str("component", "socket").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// client is the protocol state of one connection.
type client struct {
	conn      *Conn
	sessionID string
	userID    int64
	role      models.Role
}

func (c *client) authenticated() bool {
	return c.sessionID != ""
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The request context ends with the handler; cleanup must outlive it.
	ctx := context.WithoutCancel(r.Context())

	conn := newConn(ws, h.cfg.SendBuffer, h.log)
	go conn.writePump()

	c := &client{conn: conn}
	conn.readPump(h.cfg.ReadTimeout, func(raw []byte) {
		h.handleFrame(ctx, c, raw)
	})

	h.registry.Detach(ctx, conn)
	conn.Close()
}

// flexID accepts both JSON numbers and numeric strings.
type flexID int64

func (i *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*i = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*i = flexID(n)
	return nil
}

type inboundFrame struct {
	Type       string   `json:"type"`
	UserID     flexID   `json:"userId"`
	UserType   string   `json:"userType"`
	SessionID  string   `json:"sessionId"`
	Token      string   `json:"token"`
	DeliveryID flexID   `json:"deliveryId"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Heading    *float64 `json:"heading"`
	Speed      *float64 `json:"speed"`
	Accuracy   *float64 `json:"accuracy"`
}

func (h *Handler) handleFrame(ctx context.Context, c *client, raw []byte) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		h.reply(c, models.ErrorEvent(MsgInvalidFormat))
		return
	}

	switch f.Type {
	case models.EventAuth:
		h.handleAuth(ctx, c, f)
	case models.EventSubscribeTracking:
		h.handleSubscribe(c, f)
	case models.EventLocationUpdate:
		h.handleLocation(ctx, c, f)
	default:
		h.reply(c, models.ErrorEvent(MsgUnknownType))
	}

	if c.authenticated() {
		h.registry.Touch(ctx, c.sessionID)
	}
}

func (h *Handler) handleAuth(ctx context.Context, c *client, f inboundFrame) {
	if f.UserID <= 0 || f.UserType == "" {
		h.reply(c, models.ErrorEvent(MsgMissingAuth))
		return
	}
	role := models.Role(f.UserType)

	if h.cfg.JWTSecret != "" {
		p, err := auth.ParseToken(f.Token, h.cfg.JWTSecret)
		if err != nil || p.UserID != int64(f.UserID) || p.Role != role {
			h.reply(c, models.ErrorEvent(MsgInvalidToken))
			return
		}
	}

	sessionID := f.SessionID
	if c.authenticated() && sessionID == "" && c.userID == int64(f.UserID) {
		sessionID = c.sessionID
	}
	if c.authenticated() && sessionID != c.sessionID {
		h.registry.Unregister(ctx, c.sessionID)
	}

	sessionID, err := h.registry.Authenticate(ctx, c.conn, int64(f.UserID), role, sessionID)
	if err != nil {
		h.log.Warn().Err(err).Int64("user_id", int64(f.UserID)).Msg("socket authentication failed")
		c.sessionID = ""
		h.reply(c, models.ErrorEvent(MsgAuthFailed))
		return
	}
	c.sessionID, c.userID, c.role = sessionID, int64(f.UserID), role

	h.reply(c, models.Event{Type: models.EventAuthSuccess, SessionID: sessionID})
}

func (h *Handler) handleSubscribe(c *client, f inboundFrame) {
	if f.DeliveryID <= 0 {
		h.reply(c, models.ErrorEvent(MsgMissingDeliveryID))
		return
	}
	if c.authenticated() {
		h.registry.Subscribe(c.sessionID, int64(f.DeliveryID))
	}
	h.reply(c, models.Event{Type: models.EventSubscriptionSuccess, DeliveryID: int64(f.DeliveryID)})
}

func (h *Handler) handleLocation(ctx context.Context, c *client, f inboundFrame) {
	if !c.authenticated() || c.role != models.RoleDeliveryPartner {
		h.reply(c, models.ErrorEvent(MsgUnauthorizedUpdate))
		return
	}
	if f.DeliveryID <= 0 || f.Latitude == nil || f.Longitude == nil {
		h.reply(c, models.ErrorEvent(MsgMissingLocation))
		return
	}

	report := models.LocationReport{
		DeliveryID: int64(f.DeliveryID),
		Latitude:   *f.Latitude,
		Longitude:  *f.Longitude,
		Heading:    f.Heading,
		Speed:      f.Speed,
		Accuracy:   f.Accuracy,
	}
	if err := h.updater.UpdateLocationForUser(ctx, c.userID, report); err != nil {
		h.log.Warn().Err(err).
			Int64("delivery_id", report.DeliveryID).
			Int64("user_id", c.userID).
			Msg("socket location update rejected")
		h.reply(c, models.ErrorEvent(MsgLocationFailed))
	}
}

func (h *Handler) reply(c *client, ev models.Event) {
	frame, err := encode(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode reply")
		return
	}
	if err := c.conn.Send(frame); err != nil {
		h.log.Debug().Err(err).Msg("failed to send reply")
	}
}
