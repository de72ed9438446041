// Package realtime implements the live-connection core: the connection
// registry, job progress broadcasting, collaborative editing sessions and
// channel notifications, plus the façade and sweep that tie them together.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jgirmay/slidegenie-realtime/pkg/logging"
	"github.com/jgirmay/slidegenie-realtime/pkg/metrics"
)

// Close codes used when the server ends a connection.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseUnsupportedData = 1003
	ClosePolicyViolation = 1008
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	errEmptyFrame        = errors.New("empty frame")
)

// Transport is the send capability of one live connection. Send must not
// block; an error means the frame could not be queued and the connection
// should be considered dead.
type Transport interface {
	Send(frame []byte) error
	Close(code int, reason string) error
}

// Connection is one live transport session of one authenticated user.
type Connection struct {
	ID            string
	UserID        string
	EstablishedAt time.Time
	LastActivity  time.Time
	Metadata      map[string]string

	transport Transport
	queue     [][]byte
}

// ConnectionInfo is a read-only copy of a connection's bookkeeping.
type ConnectionInfo struct {
	ID             string            `json:"connection_id"`
	UserID         string            `json:"user_id"`
	EstablishedAt  time.Time         `json:"connected_at"`
	LastActivity   time.Time         `json:"last_activity"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	QueuedMessages int               `json:"queued_messages"`
}

// Stats summarizes one registry.
type Stats struct {
	TotalConnections      int64   `json:"total_connections"`
	ActiveConnections     int     `json:"active_connections"`
	MessagesSent          int64   `json:"messages_sent"`
	Errors                int64   `json:"errors"`
	ActiveUsers           int     `json:"active_users"`
	AvgConnectionsPerUser float64 `json:"average_connections_per_user"`
	UptimeSeconds         float64 `json:"uptime_seconds"`
}

// RegistryConf configures a Registry. Zero values take defaults.
type RegistryConf struct {
	Name       string
	QueueLimit int
	Clock      func() time.Time
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
}

func (c *RegistryConf) norm() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = 100
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	c.Logger = logging.OrGlobal(c.Logger).Named(c.Name)
}

// Registry owns the connection set and the user index of one manager.
// Managers compose it and register a release hook for their own state.
type Registry struct {
	conf RegistryConf

	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[string]map[string]struct{}

	release func(*Connection)

	total     atomic.Int64
	sent      atomic.Int64
	errs      atomic.Int64
	startedAt time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(conf RegistryConf) *Registry {
	conf.norm()
	return &Registry{
		conf:      conf,
		conns:     make(map[string]*Connection),
		byUser:    make(map[string]map[string]struct{}),
		startedAt: conf.Clock(),
	}
}

// onRelease installs the hook run after a connection leaves the registry.
func (r *Registry) onRelease(fn func(*Connection)) {
	r.release = fn
}

func (r *Registry) now() time.Time { return r.conf.Clock() }

// Logger returns the registry's component logger.
func (r *Registry) Logger() *logging.Logger { return r.conf.Logger }

// Connect registers an accepted transport and returns the new connection id.
func (r *Registry) Connect(t Transport, userID string, metadata map[string]string) string {
	now := r.now()
	c := &Connection{
		ID:            uuid.NewString(),
		UserID:        userID,
		EstablishedAt: now,
		LastActivity:  now,
		Metadata:      copyMetadata(metadata),
		transport:     t,
	}

	r.mu.Lock()
	r.conns[c.ID] = c
	ids, ok := r.byUser[userID]
	if !ok {
		ids = make(map[string]struct{})
		r.byUser[userID] = ids
	}
	ids[c.ID] = struct{}{}
	r.mu.Unlock()

	r.total.Add(1)
	r.conf.Metrics.ConnectionOpened(r.conf.Name)
	r.conf.Logger.Info("connection established",
		zap.String("connection_id", c.ID), zap.String("user_id", userID))
	return c.ID
}

// Disconnect removes the connection, releases manager state and closes the
// transport. It reports whether the connection was present; repeated calls
// are no-ops.
func (r *Registry) Disconnect(id string) bool {
	return r.DisconnectWithReason(id, CloseNormal, "")
}

// DisconnectWithReason is Disconnect with an explicit close code.
func (r *Registry) DisconnectWithReason(id string, code int, reason string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		if ids := r.byUser[c.UserID]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(r.byUser, c.UserID)
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if r.release != nil {
		r.release(c)
	}
	if err := c.transport.Close(code, reason); err != nil {
		r.conf.Logger.Debug("transport close", zap.String("connection_id", id), zap.Error(err))
	}

	r.conf.Metrics.ConnectionClosed(r.conf.Name)
	r.conf.Logger.Info("connection closed",
		zap.String("connection_id", id), zap.String("user_id", c.UserID), zap.String("reason", reason))
	return true
}

// Send delivers msg to one connection. A delivery failure disconnects that
// connection and is reported only as false.
func (r *Registry) Send(id string, msg interface{}) bool {
	frame, err := encode(msg)
	if err != nil {
		r.conf.Logger.Error("encode frame", zap.Error(err))
		return false
	}
	err = r.deliver(id, frame)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrUnknownConnection) {
		r.evict([]string{id})
	}
	return false
}

// SendToUser delivers msg to every connection of userID and returns the
// number of successful deliveries.
func (r *Registry) SendToUser(userID string, msg interface{}) int {
	frame, err := encode(msg)
	if err != nil {
		r.conf.Logger.Error("encode frame", zap.Error(err))
		return 0
	}
	n, failed := r.deliverAll(r.userConnectionIDs(userID), frame)
	r.evict(failed)
	return n
}

// Broadcast delivers msg to every connection except those of excludeUser.
func (r *Registry) Broadcast(msg interface{}, excludeUser string) int {
	frame, err := encode(msg)
	if err != nil {
		r.conf.Logger.Error("encode frame", zap.Error(err))
		return 0
	}

	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id, c := range r.conns {
		if excludeUser == "" || c.UserID != excludeUser {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	n, failed := r.deliverAll(ids, frame)
	r.evict(failed)
	return n
}

// deliver queues frame on one transport without any eviction.
func (r *Registry) deliver(id string, frame []byte) error {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	if err := c.transport.Send(frame); err != nil {
		r.errs.Add(1)
		r.conf.Metrics.DeliveryFailed(r.conf.Name)
		r.conf.Logger.Warn("delivery failed",
			zap.String("connection_id", id), zap.Error(err))
		return fmt.Errorf("send to %s: %w", id, err)
	}
	r.sent.Add(1)
	r.conf.Metrics.MessageSent(r.conf.Name)
	return nil
}

// deliverAll sends frame to each id and returns the success count plus the
// ids whose transport failed. Callers evict the failures once they no
// longer hold their own locks.
func (r *Registry) deliverAll(ids []string, frame []byte) (int, []string) {
	n := 0
	var failed []string
	for _, id := range ids {
		err := r.deliver(id, frame)
		switch {
		case err == nil:
			n++
		case errors.Is(err, ErrUnknownConnection):
		default:
			failed = append(failed, id)
		}
	}
	return n, failed
}

func (r *Registry) evict(ids []string) {
	for _, id := range ids {
		r.DisconnectWithReason(id, CloseGoingAway, "delivery failed")
	}
}

// Touch records inbound activity on a connection.
func (r *Registry) Touch(id string) {
	now := r.now()
	r.mu.Lock()
	if c, ok := r.conns[id]; ok {
		c.LastActivity = now
	}
	r.mu.Unlock()
}

// Has reports whether id is a live connection.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// UserOf returns the user owning the connection.
func (r *Registry) UserOf(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return "", false
	}
	return c.UserID, true
}

// UserConnections returns the connection ids of userID.
func (r *Registry) UserConnections(userID string) []string {
	return r.userConnectionIDs(userID)
}

func (r *Registry) userConnectionIDs(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
	}
	return ids
}

// ConnectionInfo returns a copy of the connection's bookkeeping.
func (r *Registry) ConnectionInfo(id string) (ConnectionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return ConnectionInfo{}, false
	}
	return ConnectionInfo{
		ID:             c.ID,
		UserID:         c.UserID,
		EstablishedAt:  c.EstablishedAt,
		LastActivity:   c.LastActivity,
		Metadata:       copyMetadata(c.Metadata),
		QueuedMessages: len(c.queue),
	}, true
}

// IdleSince returns connections whose last activity is before cutoff.
func (r *Registry) IdleSince(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, c := range r.conns {
		if c.LastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// EvictIdle disconnects connections idle since before cutoff.
func (r *Registry) EvictIdle(cutoff time.Time) int {
	n := 0
	for _, id := range r.IdleSince(cutoff) {
		if r.DisconnectWithReason(id, CloseGoingAway, "idle timeout") {
			n++
		}
	}
	return n
}

// QueueMessage parks msg for later delivery. The queue keeps the newest
// QueueLimit frames.
func (r *Registry) QueueMessage(id string, msg interface{}) error {
	frame, err := encode(msg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	c.queue = append(c.queue, frame)
	if over := len(c.queue) - r.conf.QueueLimit; over > 0 {
		c.queue = c.queue[over:]
	}
	return nil
}

// DeliverQueued flushes parked frames in order and returns how many were
// delivered. A failure disconnects the connection and drops the rest.
func (r *Registry) DeliverQueued(id string) int {
	r.mu.Lock()
	c, ok := r.conns[id]
	var queue [][]byte
	if ok {
		queue, c.queue = c.queue, nil
	}
	r.mu.Unlock()

	n := 0
	for _, frame := range queue {
		if err := r.deliver(id, frame); err != nil {
			if !errors.Is(err, ErrUnknownConnection) {
				r.evict([]string{id})
			}
			break
		}
		n++
	}
	return n
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stats returns counters for this registry.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	active := len(r.conns)
	users := len(r.byUser)
	r.mu.RUnlock()

	avg := 0.0
	if users > 0 {
		avg = float64(active) / float64(users)
	}
	return Stats{
		TotalConnections:      r.total.Load(),
		ActiveConnections:     active,
		MessagesSent:          r.sent.Load(),
		Errors:                r.errs.Load(),
		ActiveUsers:           users,
		AvgConnectionsPerUser: avg,
		UptimeSeconds:         r.now().Sub(r.startedAt).Seconds(),
	}
}

// CloseAll disconnects every connection, used on shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.DisconnectWithReason(id, CloseGoingAway, reason)
	}
}

func encode(msg interface{}) ([]byte, error) {
	switch m := msg.(type) {
	case nil:
		return nil, errEmptyFrame
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	default:
		return json.Marshal(m)
	}
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
