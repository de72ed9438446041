package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jgirmay/slidegenie-realtime/pkg/models"
	"github.com/jgirmay/slidegenie-realtime/pkg/repository"
)

// Identity is an authenticated caller as supplied by the identity provider.
type Identity struct {
	UserID string
	Name   string
	Email  string
	Role   string
}

// CollaborationConf configures a CollaborationCoordinator.
type CollaborationConf struct {
	RegistryConf
	LockTTL      time.Duration
	HistoryLimit int
}

// PresenceUpdate carries the mutable presence fields. Nil fields are left
// unchanged.
type PresenceUpdate struct {
	Status         models.PresenceStatus
	CurrentSlide   *int
	CursorPosition json.RawMessage
	ActiveSection  *string
}

type session struct {
	conns    map[string]string // connection id -> user id
	presence map[string]*models.PresenceRecord
	history  []models.EditOperation
}

func (s *session) empty() bool {
	return len(s.conns) == 0 && len(s.presence) == 0 && len(s.history) == 0
}

func (s *session) userHasConnection(userID string) bool {
	for _, u := range s.conns {
		if u == userID {
			return true
		}
	}
	return false
}

// CollaborationStats summarizes collaboration state.
type CollaborationStats struct {
	Sessions        int `json:"active_sessions"`
	SessionMembers  int `json:"session_members"`
	PresenceRecords int `json:"presence_records"`
	EditOperations  int `json:"edit_operations"`
	SlideLocks      int `json:"slide_locks"`
}

// CollaborationCoordinator tracks presentation sessions, presence, slide
// locks and edit history.
type CollaborationCoordinator struct {
	*Registry
	locks        repository.SlideLockStore
	lockTTL      time.Duration
	historyLimit int
	slideLocks   *keyedMutex

	mu           sync.Mutex
	sessions     map[string]*session
	connSessions map[string]map[string]struct{}
}

func NewCollaborationCoordinator(conf CollaborationConf, locks repository.SlideLockStore) *CollaborationCoordinator {
	if conf.Name == "" {
		conf.Name = "collaboration"
	}
	if conf.LockTTL <= 0 {
		conf.LockTTL = 5 * time.Minute
	}
	if conf.HistoryLimit <= 0 {
		conf.HistoryLimit = 1000
	}
	if locks == nil {
		locks = repository.NewMemoryLockStore()
	}
	c := &CollaborationCoordinator{
		Registry:     NewRegistry(conf.RegistryConf),
		locks:        locks,
		lockTTL:      conf.LockTTL,
		historyLimit: conf.HistoryLimit,
		slideLocks:   newKeyedMutex(),
		sessions:     make(map[string]*session),
		connSessions: make(map[string]map[string]struct{}),
	}
	c.onRelease(c.releaseConnection)
	return c
}

func (c *CollaborationCoordinator) session(presentationID string) *session {
	s, ok := c.sessions[presentationID]
	if !ok {
		s = &session{
			conns:    make(map[string]string),
			presence: make(map[string]*models.PresenceRecord),
		}
		c.sessions[presentationID] = s
	}
	return s
}

func (c *CollaborationCoordinator) dropIfEmpty(presentationID string) {
	if s, ok := c.sessions[presentationID]; ok && s.empty() {
		delete(c.sessions, presentationID)
	}
}

// Join attaches a connection to a presentation and makes the user present.
// Other members receive user_joined; the joiner receives the full presence
// snapshot.
func (c *CollaborationCoordinator) Join(connID, presentationID string, user Identity) error {
	now := c.now()

	c.mu.Lock()
	if !c.Has(connID) {
		c.mu.Unlock()
		return ErrUnknownConnection
	}
	s := c.session(presentationID)
	s.conns[connID] = user.UserID
	set, ok := c.connSessions[connID]
	if !ok {
		set = make(map[string]struct{})
		c.connSessions[connID] = set
	}
	set[presentationID] = struct{}{}

	s.presence[user.UserID] = &models.PresenceRecord{
		UserID:      user.UserID,
		DisplayName: user.Name,
		Email:       user.Email,
		Status:      models.PresenceOnline,
		LastSeen:    now,
	}

	_, failed := c.fanOut(s, MembershipEvent{
		Type: EventUserJoined, UserID: user.UserID, UserName: user.Name, Timestamp: now,
	}, connID, "")
	snapshot := PresenceSnapshotEvent{
		Type:           EventPresenceUpdate,
		PresentationID: presentationID,
		Users:          presenceList(s),
		Timestamp:      now,
	}
	if frame, err := encode(snapshot); err == nil {
		_, f := c.deliverAll([]string{connID}, frame)
		failed = append(failed, f...)
	}
	c.mu.Unlock()

	c.evict(failed)
	c.Logger().Info("user joined presentation",
		zap.String("presentation_id", presentationID), zap.String("user_id", user.UserID))
	return nil
}

// Leave detaches a connection and removes the user's presence record.
func (c *CollaborationCoordinator) Leave(connID, presentationID, userID string) {
	c.mu.Lock()
	failed := c.leaveLocked(connID, presentationID, userID, true)
	c.mu.Unlock()
	c.evict(failed)
}

// leaveLocked removes membership. With force the presence record goes
// regardless of the user's other connections.
func (c *CollaborationCoordinator) leaveLocked(connID, presentationID, userID string, force bool) []string {
	if set, ok := c.connSessions[connID]; ok {
		delete(set, presentationID)
		if len(set) == 0 {
			delete(c.connSessions, connID)
		}
	}
	s, ok := c.sessions[presentationID]
	if !ok {
		return nil
	}
	delete(s.conns, connID)

	var failed []string
	if rec, present := s.presence[userID]; present && (force || !s.userHasConnection(userID)) {
		delete(s.presence, userID)
		_, failed = c.fanOut(s, MembershipEvent{
			Type: EventUserLeft, UserID: userID, UserName: rec.DisplayName, Timestamp: c.now(),
		}, "", "")
	}
	c.dropIfEmpty(presentationID)
	return failed
}

func (c *CollaborationCoordinator) releaseConnection(conn *Connection) {
	c.mu.Lock()
	var failed []string
	for presentationID := range c.connSessions[conn.ID] {
		failed = append(failed, c.leaveLocked(conn.ID, presentationID, conn.UserID, false)...)
	}
	c.mu.Unlock()
	c.evict(failed)
}

// UpdatePresence mutates a present user's record and echoes it to the whole
// session. It returns false when the user is not present.
func (c *CollaborationCoordinator) UpdatePresence(presentationID, userID string, upd PresenceUpdate) (bool, error) {
	if upd.Status != "" && !upd.Status.Valid() {
		return false, ErrInvalidStatus
	}
	now := c.now()

	c.mu.Lock()
	s, ok := c.sessions[presentationID]
	if !ok || s.presence[userID] == nil {
		c.mu.Unlock()
		return false, nil
	}
	rec := s.presence[userID]
	if upd.Status != "" {
		rec.Status = upd.Status
		rec.IsEditing = upd.Status == models.PresenceEditing
	}
	if upd.CurrentSlide != nil {
		rec.CurrentSlide = upd.CurrentSlide
	}
	if upd.CursorPosition != nil {
		rec.CursorPosition = upd.CursorPosition
	}
	if upd.ActiveSection != nil {
		rec.ActiveSection = upd.ActiveSection
	}
	rec.LastSeen = now

	_, failed := c.fanOut(s, PresenceChangedEvent{
		Type:           EventPresenceUpdate,
		PresentationID: presentationID,
		UserID:         userID,
		Status:         rec.Status,
		CurrentSlide:   rec.CurrentSlide,
		CursorPosition: rec.CursorPosition,
		ActiveSection:  rec.ActiveSection,
		Timestamp:      now,
	}, "", "")
	c.mu.Unlock()

	c.evict(failed)
	return true, nil
}

// SubmitEdit records an already-arbitrated operation and relays it to the
// session excluding the author.
func (c *CollaborationCoordinator) SubmitEdit(presentationID string, op models.EditOperation) int {
	c.mu.Lock()
	s := c.session(presentationID)
	s.history = append(s.history, op)
	if over := len(s.history) - c.historyLimit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
	n, failed := c.fanOut(s, EditOperationEvent{
		Type: EventEditOperation, Operation: op, Timestamp: c.now(),
	}, "", op.AuthorID)
	c.mu.Unlock()

	c.evict(failed)
	return n
}

// RecentEdits returns history entries of a presentation newer than since.
func (c *CollaborationCoordinator) RecentEdits(presentationID string, since time.Time) []models.EditOperation {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[presentationID]
	if !ok {
		return nil
	}
	var out []models.EditOperation
	for _, op := range s.history {
		if !op.Timestamp.Before(since) {
			out = append(out, op)
		}
	}
	return out
}

// History returns the full stored history of a presentation.
func (c *CollaborationCoordinator) History(presentationID string) []models.EditOperation {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[presentationID]
	if !ok {
		return nil
	}
	return append([]models.EditOperation(nil), s.history...)
}

// LockSlide acquires the advisory lock on a slide. The TTL runs from this
// acquisition; only re-acquisition by the holder extends it.
func (c *CollaborationCoordinator) LockSlide(ctx context.Context, presentationID, slideID string, user Identity, lockType string) (bool, error) {
	if lockType == "" {
		lockType = "edit"
	}
	unlock := c.slideLocks.Lock(presentationID)
	defer unlock()

	now := c.now()
	lock := models.SlideLock{
		PresentationID: presentationID,
		SlideID:        slideID,
		HolderID:       user.UserID,
		HolderName:     user.Name,
		LockType:       lockType,
		AcquiredAt:     now,
		ExpiresAt:      now.Add(c.lockTTL),
	}
	granted, err := c.locks.Acquire(ctx, lock, now)
	c.conf.Metrics.LockRequested(granted && err == nil)
	if err != nil || !granted {
		return false, err
	}

	c.mu.Lock()
	var failed []string
	if s, ok := c.sessions[presentationID]; ok {
		_, failed = c.fanOut(s, SlideLockEvent{
			Type:      EventSlideLocked,
			SlideID:   slideID,
			UserID:    user.UserID,
			UserName:  user.Name,
			ExpiresAt: &lock.ExpiresAt,
			Timestamp: now,
		}, "", user.UserID)
	}
	c.mu.Unlock()

	c.evict(failed)
	return true, nil
}

// UnlockSlide releases a lock held by userID. Releasing a lock the caller
// does not hold does nothing.
func (c *CollaborationCoordinator) UnlockSlide(ctx context.Context, presentationID, slideID, userID string) (bool, error) {
	unlock := c.slideLocks.Lock(presentationID)
	defer unlock()

	released, err := c.locks.Release(ctx, presentationID, slideID, userID)
	if err != nil || !released {
		return false, err
	}

	c.mu.Lock()
	var failed []string
	if s, ok := c.sessions[presentationID]; ok {
		_, failed = c.fanOut(s, SlideLockEvent{
			Type: EventSlideUnlocked, SlideID: slideID, UserID: userID, Timestamp: c.now(),
		}, "", "")
	}
	c.mu.Unlock()

	c.evict(failed)
	return true, nil
}

// SlideLock returns the live lock on a slide, if any.
func (c *CollaborationCoordinator) SlideLock(ctx context.Context, presentationID, slideID string) (*models.SlideLock, error) {
	return c.locks.Get(ctx, presentationID, slideID, c.now())
}

// Locks lists the live locks of a presentation.
func (c *CollaborationCoordinator) Locks(ctx context.Context, presentationID string) ([]models.SlideLock, error) {
	return c.locks.List(ctx, presentationID, c.now())
}

// UpdateCursor relays a cursor move to the rest of the session.
func (c *CollaborationCoordinator) UpdateCursor(presentationID, userID string, cursor json.RawMessage) int {
	now := c.now()
	c.mu.Lock()
	s, ok := c.sessions[presentationID]
	if !ok {
		c.mu.Unlock()
		return 0
	}
	if rec := s.presence[userID]; rec != nil {
		rec.CursorPosition = cursor
		rec.LastSeen = now
	}
	n, failed := c.fanOut(s, CursorEvent{
		Type: EventCursorUpdate, UserID: userID, Cursor: cursor, Timestamp: now,
	}, "", userID)
	c.mu.Unlock()

	c.evict(failed)
	return n
}

// BroadcastToSession delivers msg to the members of a presentation, minus
// excludeConn and every connection of excludeUser.
func (c *CollaborationCoordinator) BroadcastToSession(presentationID string, msg interface{}, excludeConn, excludeUser string) int {
	c.mu.Lock()
	s, ok := c.sessions[presentationID]
	if !ok {
		c.mu.Unlock()
		return 0
	}
	n, failed := c.fanOut(s, msg, excludeConn, excludeUser)
	c.mu.Unlock()

	c.evict(failed)
	return n
}

// fanOut must be called with c.mu held so that members see session events
// in mutation order.
func (c *CollaborationCoordinator) fanOut(s *session, msg interface{}, excludeConn, excludeUser string) (int, []string) {
	frame, err := encode(msg)
	if err != nil {
		c.Logger().Error("encode frame", zap.Error(err))
		return 0, nil
	}
	ids := make([]string, 0, len(s.conns))
	for id, user := range s.conns {
		if id == excludeConn || (excludeUser != "" && user == excludeUser) {
			continue
		}
		ids = append(ids, id)
	}
	return c.deliverAll(ids, frame)
}

// Presence returns the present users of a presentation ordered by user id.
func (c *CollaborationCoordinator) Presence(presentationID string) []models.PresenceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[presentationID]
	if !ok {
		return nil
	}
	return presenceList(s)
}

// SessionConnections returns the connection ids attached to a presentation.
func (c *CollaborationCoordinator) SessionConnections(presentationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[presentationID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func presenceList(s *session) []models.PresenceRecord {
	out := make([]models.PresenceRecord, 0, len(s.presence))
	for _, rec := range s.presence {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ExpireLocks removes locks whose TTL has passed.
func (c *CollaborationCoordinator) ExpireLocks(ctx context.Context) (int, error) {
	return c.locks.PurgeExpired(ctx, c.now())
}

// ExpirePresence removes records not seen since cutoff. No event is sent.
func (c *CollaborationCoordinator) ExpirePresence(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, s := range c.sessions {
		for userID, rec := range s.presence {
			if rec.LastSeen.Before(cutoff) {
				delete(s.presence, userID)
				n++
			}
		}
		c.dropIfEmpty(id)
	}
	return n
}

// TrimHistory drops edit operations older than cutoff.
func (c *CollaborationCoordinator) TrimHistory(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, s := range c.sessions {
		kept := s.history[:0]
		for _, op := range s.history {
			if !op.Timestamp.Before(cutoff) {
				kept = append(kept, op)
			}
		}
		n += len(s.history) - len(kept)
		s.history = kept
		c.dropIfEmpty(id)
	}
	return n
}

// CollaborationStats returns session-level counters.
func (c *CollaborationCoordinator) CollaborationStats(ctx context.Context) CollaborationStats {
	c.mu.Lock()
	var s CollaborationStats
	for _, sess := range c.sessions {
		if len(sess.conns) > 0 {
			s.Sessions++
		}
		s.SessionMembers += len(sess.conns)
		s.PresenceRecords += len(sess.presence)
		s.EditOperations += len(sess.history)
	}
	c.mu.Unlock()

	if n, err := c.locks.Count(ctx); err == nil {
		s.SlideLocks = n
	} else {
		c.Logger().Warn("count slide locks", zap.Error(err))
	}
	return s
}
