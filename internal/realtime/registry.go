package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/dispatchrelay/internal/metrics"
	"github.com/shohag/dispatchrelay/internal/models"
	"github.com/shohag/dispatchrelay/internal/storage"
)

var (
	ErrInvalidUser = errors.New("missing or invalid user id")
	ErrInvalidRole = errors.New("unknown user type")
)

// Handle is one live, bidirectional client connection.
type Handle interface {
	Send(frame []byte) error
	Close() error
	// IsAlive reports whether the client answered since the last Ping.
	IsAlive() bool
	Ping() error
}

type entry struct {
	handle Handle
	userID int64
	role   models.Role
	subs   map[int64]struct{}
}

type target struct {
	sessionID string
	handle    Handle
}

// Registry indexes live connections by session id and by user id. The
// persisted session rows mirror it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	users    map[int64]map[string]struct{}

	store   storage.Storage
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewRegistry(store storage.Storage, m *metrics.Metrics, log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		users:    make(map[int64]map[string]struct{}),
		store:    store,
		metrics:  m,
		log:      log.With().Str("component", "registry").Logger(),
		now:      time.Now,
	}
}

// Authenticate binds h to a session of the user and returns the session id.
// An empty sessionID starts a new session. A known sessionID of the same user
// is resumed and any handle still bound to it is closed. A sessionID owned by
// another user is ignored and a new session is started.
func (r *Registry) Authenticate(ctx context.Context, h Handle, userID int64, role models.Role, sessionID string) (string, error) {
	if userID <= 0 {
		return "", ErrInvalidUser
	}
	if !role.Valid() {
		return "", ErrInvalidRole
	}
	if sessionID != "" {
		row, err := r.store.GetSession(ctx, sessionID)
		if err != nil {
			return "", fmt.Errorf("load session: %w", err)
		}
		if row != nil && row.UserID != userID {
			r.log.Warn().
				Str("session_id", sessionID).
				Int64("user_id", userID).
				Msg("session belongs to another user, starting a new one")
			sessionID = ""
		}
	}
	if sessionID == "" {
		sessionID = models.NewSessionID(userID)
	}

	// Index before persisting so a concurrent sweep never sees the active
	// row without its live entry.
	r.mu.Lock()
	prev := r.sessions[sessionID]
	if prev != nil && prev.userID != userID {
		sessionID = models.NewSessionID(userID)
		prev = r.sessions[sessionID]
	}
	if prev != nil {
		r.removeLocked(sessionID)
	}
	e := &entry{handle: h, userID: userID, role: role, subs: make(map[int64]struct{})}
	r.sessions[sessionID] = e
	if r.users[userID] == nil {
		r.users[userID] = make(map[string]struct{})
	}
	r.users[userID][sessionID] = struct{}{}
	r.mu.Unlock()

	if prev != nil {
		r.metrics.ConnectionClosed(string(prev.role))
		if prev.handle != h {
			_ = prev.handle.Close()
		}
	}

	now := r.now().UTC()
	if err := r.store.UpsertSession(ctx, &models.Session{
		SessionID:    sessionID,
		UserID:       userID,
		UserType:     role,
		ConnectedAt:  now,
		LastActivity: now,
	}); err != nil {
		r.mu.Lock()
		if r.sessions[sessionID] == e {
			r.removeLocked(sessionID)
		}
		r.mu.Unlock()
		return "", fmt.Errorf("persist session: %w", err)
	}

	r.metrics.ConnectionOpened(string(role))

	r.log.Info().
		Str("session_id", sessionID).
		Int64("user_id", userID).
		Str("role", string(role)).
		Msg("session authenticated")
	return sessionID, nil
}

// Subscribe adds deliveryID to the session's tracked deliveries. It reports
// false for an unknown session.
func (r *Registry) Subscribe(sessionID string, deliveryID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	e.subs[deliveryID] = struct{}{}
	return true
}

// Touch records client activity on the session row.
func (r *Registry) Touch(ctx context.Context, sessionID string) {
	if err := r.store.TouchSession(ctx, sessionID, r.now().UTC()); err != nil {
		r.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to touch session")
	}
}

// Unregister drops the session from both indexes and marks its row
// inactive. It reports whether the session was live.
func (r *Registry) Unregister(ctx context.Context, sessionID string) bool {
	r.mu.Lock()
	e := r.removeLocked(sessionID)
	r.mu.Unlock()

	if e == nil {
		return false
	}
	r.closed(ctx, sessionID, e)
	return true
}

// Detach unregisters every session bound to h.
func (r *Registry) Detach(ctx context.Context, h Handle) int {
	r.mu.Lock()
	var removed []target
	var entries []*entry
	for id, e := range r.sessions {
		if e.handle == h {
			removed = append(removed, target{sessionID: id, handle: h})
			entries = append(entries, e)
		}
	}
	for _, t := range removed {
		r.removeLocked(t.sessionID)
	}
	r.mu.Unlock()

	for i, t := range removed {
		r.closed(ctx, t.sessionID, entries[i])
	}
	return len(removed)
}

func (r *Registry) removeLocked(sessionID string) *entry {
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(r.sessions, sessionID)
	if set := r.users[e.userID]; set != nil {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.users, e.userID)
		}
	}
	return e
}

func (r *Registry) closed(ctx context.Context, sessionID string, e *entry) {
	r.metrics.ConnectionClosed(string(e.role))
	if err := r.store.DeactivateSession(ctx, sessionID); err != nil {
		r.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to deactivate session")
	}
	r.log.Info().
		Str("session_id", sessionID).
		Int64("user_id", e.userID).
		Msg("session closed")
}

// --- Broadcast ---

func encode(ev models.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// SendToUser writes ev to every session of the user.
func (r *Registry) SendToUser(ctx context.Context, userID int64, ev models.Event) int {
	r.mu.RLock()
	targets := make([]target, 0, len(r.users[userID]))
	for id := range r.users[userID] {
		targets = append(targets, target{sessionID: id, handle: r.sessions[id].handle})
	}
	r.mu.RUnlock()
	return r.deliver(ctx, targets, ev)
}

// SendToRole writes ev to every session authenticated with role.
func (r *Registry) SendToRole(ctx context.Context, role models.Role, ev models.Event) int {
	return r.sendWhere(ctx, ev, func(e *entry) bool { return e.role == role })
}

func (r *Registry) SendToAll(ctx context.Context, ev models.Event) int {
	return r.sendWhere(ctx, ev, func(*entry) bool { return true })
}

// SendToSubscribers writes ev to sessions tracking deliveryID. When roles
// are given only sessions with one of those roles are included.
func (r *Registry) SendToSubscribers(ctx context.Context, deliveryID int64, ev models.Event, roles ...models.Role) int {
	return r.sendWhere(ctx, ev, func(e *entry) bool {
		if _, ok := e.subs[deliveryID]; !ok {
			return false
		}
		if len(roles) == 0 {
			return true
		}
		for _, role := range roles {
			if e.role == role {
				return true
			}
		}
		return false
	})
}

func (r *Registry) sendWhere(ctx context.Context, ev models.Event, match func(*entry) bool) int {
	r.mu.RLock()
	var targets []target
	for id, e := range r.sessions {
		if match(e) {
			targets = append(targets, target{sessionID: id, handle: e.handle})
		}
	}
	r.mu.RUnlock()
	return r.deliver(ctx, targets, ev)
}

func (r *Registry) deliver(ctx context.Context, targets []target, ev models.Event) int {
	if len(targets) == 0 {
		return 0
	}
	frame, err := encode(ev)
	if err != nil {
		r.log.Error().Err(err).Str("type", ev.Type).Msg("failed to encode event")
		return 0
	}

	sent := 0
	for _, t := range targets {
		if err := t.handle.Send(frame); err != nil {
			r.log.Warn().Err(err).Str("session_id", t.sessionID).Msg("send failed, dropping session")
			_ = t.handle.Close()
			r.Detach(ctx, t.handle)
			continue
		}
		sent++
	}
	return sent
}

// --- Liveness ---

// Sweep closes sessions that did not answer the previous ping and pings the
// rest. Active session rows without a live connection are then marked
// inactive. It returns the number of evicted and reconciled sessions.
func (r *Registry) Sweep(ctx context.Context) (evicted, reconciled int) {
	r.mu.RLock()
	targets := make([]target, 0, len(r.sessions))
	for id, e := range r.sessions {
		targets = append(targets, target{sessionID: id, handle: e.handle})
	}
	r.mu.RUnlock()

	for _, t := range targets {
		if t.handle.IsAlive() {
			if err := t.handle.Ping(); err == nil {
				continue
			}
		}
		_ = t.handle.Close()
		if r.evict(ctx, t) {
			r.metrics.SweepEviction()
			evicted++
		}
	}

	rows, err := r.store.ListActiveSessions(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to list active sessions")
		return evicted, 0
	}
	for _, row := range rows {
		r.mu.RLock()
		_, live := r.sessions[row.SessionID]
		r.mu.RUnlock()
		if live {
			continue
		}
		if err := r.store.DeactivateSession(ctx, row.SessionID); err != nil {
			r.log.Error().Err(err).Str("session_id", row.SessionID).Msg("failed to reconcile session")
			continue
		}
		reconciled++
	}

	if evicted > 0 || reconciled > 0 {
		r.log.Info().Int("evicted", evicted).Int("reconciled", reconciled).Msg("liveness sweep")
	}
	return evicted, reconciled
}

// evict unregisters t's session only while it is still bound to t's handle,
// so a session resumed on a new connection since the snapshot survives.
func (r *Registry) evict(ctx context.Context, t target) bool {
	r.mu.Lock()
	var e *entry
	if cur := r.sessions[t.sessionID]; cur != nil && cur.handle == t.handle {
		e = r.removeLocked(t.sessionID)
	}
	r.mu.Unlock()

	if e == nil {
		return false
	}
	r.closed(ctx, t.sessionID, e)
	return true
}

// Reset marks every persisted session inactive. Connections do not survive
// a restart, so it runs once at startup.
func (r *Registry) Reset(ctx context.Context) error {
	n, err := r.store.DeactivateAllSessions(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		r.log.Info().Int64("sessions", n).Msg("deactivated stale sessions")
	}
	return nil
}

// --- Introspection ---

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) CountByRole() map[models.Role]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[models.Role]int{
		models.RoleCustomer:        0,
		models.RoleShopkeeper:      0,
		models.RoleDeliveryPartner: 0,
	}
	for _, e := range r.sessions {
		counts[e.role]++
	}
	return counts
}

// Online reports whether the user has at least one live session.
func (r *Registry) Online(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}
