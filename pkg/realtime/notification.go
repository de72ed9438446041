package realtime

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jgirmay/slidegenie-realtime/pkg/models"
)

// GeneralChannel is the broadcast channel every connection joins.
const GeneralChannel = "general"

var (
	ErrReservedChannel = errors.New("reserved channel cannot be unsubscribed")
	ErrInvalidChannel  = errors.New("channel name is required")
	ErrForeignChannel  = errors.New("cannot subscribe to another user's channel")
)

// UserChannel returns the per-user channel name.
func UserChannel(userID string) string {
	return "user_" + userID
}

// NotificationConf configures a NotificationHub.
type NotificationConf struct {
	RegistryConf
	HistoryLimit int
}

// NotificationRequest describes a notification to send. With TargetUserID
// set it goes to that user's connections, otherwise to Channel.
type NotificationRequest struct {
	Type         models.NotificationType
	Title        string
	Message      string
	Data         map[string]interface{}
	Channel      string
	TargetUserID string
	Priority     models.NotificationPriority
	Category     string
	ActionURL    string
	ActionText   string
	ExpiresAt    *time.Time
}

// NotificationStats summarizes the hub.
type NotificationStats struct {
	Channels      int `json:"channels"`
	Subscriptions int `json:"subscriptions"`
	History       int `json:"history_size"`
}

// NotificationHub tracks channel subscriptions and a bounded global
// notification history.
type NotificationHub struct {
	*Registry

	mu           sync.Mutex
	channels     map[string]map[string]struct{}
	connChannels map[string]map[string]struct{}
	history      *notificationRing
}

func NewNotificationHub(conf NotificationConf) *NotificationHub {
	if conf.Name == "" {
		conf.Name = "notifications"
	}
	if conf.HistoryLimit <= 0 {
		conf.HistoryLimit = 1000
	}
	h := &NotificationHub{
		Registry:     NewRegistry(conf.RegistryConf),
		channels:     make(map[string]map[string]struct{}),
		connChannels: make(map[string]map[string]struct{}),
		history:      newNotificationRing(conf.HistoryLimit),
	}
	h.onRelease(h.releaseConnection)
	return h
}

// Connect registers the transport and subscribes it to the general and
// per-user channels.
func (h *NotificationHub) Connect(t Transport, userID string, metadata map[string]string) string {
	id := h.Registry.Connect(t, userID, metadata)
	h.mu.Lock()
	if h.Has(id) {
		h.subscribeLocked(id, GeneralChannel)
		h.subscribeLocked(id, UserChannel(userID))
	}
	h.mu.Unlock()
	return id
}

// ReservedChannels returns the channels a user's connections always hold.
func ReservedChannels(userID string) []string {
	return []string{GeneralChannel, UserChannel(userID)}
}

func (h *NotificationHub) subscribeLocked(connID, channel string) {
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[string]struct{})
		h.channels[channel] = subs
	}
	subs[connID] = struct{}{}
	set, ok := h.connChannels[connID]
	if !ok {
		set = make(map[string]struct{})
		h.connChannels[connID] = set
	}
	set[channel] = struct{}{}
}

func (h *NotificationHub) unsubscribeLocked(connID, channel string) {
	if subs, ok := h.channels[channel]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	if set, ok := h.connChannels[connID]; ok {
		delete(set, channel)
		if len(set) == 0 {
			delete(h.connChannels, connID)
		}
	}
}

// SubscribeChannel adds a connection to a channel.
func (h *NotificationHub) SubscribeChannel(connID, channel string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return ErrInvalidChannel
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	userID, ok := h.UserOf(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if strings.HasPrefix(channel, "user_") && channel != UserChannel(userID) {
		return ErrForeignChannel
	}
	h.subscribeLocked(connID, channel)
	return nil
}

// UnsubscribeChannel removes a connection from a channel. The general
// channel and the caller's own user channel are refused.
func (h *NotificationHub) UnsubscribeChannel(connID, channel string) error {
	userID, ok := h.UserOf(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if channel == GeneralChannel || channel == UserChannel(userID) {
		return ErrReservedChannel
	}
	h.mu.Lock()
	h.unsubscribeLocked(connID, channel)
	h.mu.Unlock()
	return nil
}

// Channels returns the channels a connection is subscribed to.
func (h *NotificationHub) Channels(connID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.connChannels[connID]))
	for ch := range h.connChannels[connID] {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (h *NotificationHub) releaseConnection(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.connChannels[c.ID] {
		h.unsubscribeLocked(c.ID, ch)
	}
}

// Send records the notification in history, then delivers it to the target
// user or the channel. It returns the stored notification and the number of
// connections reached.
func (h *NotificationHub) Send(req NotificationRequest) (models.Notification, int) {
	n := models.Notification{
		ID:           uuid.NewString(),
		Type:         req.Type,
		Title:        req.Title,
		Message:      req.Message,
		Data:         req.Data,
		TargetUserID: req.TargetUserID,
		Priority:     req.Priority,
		Category:     req.Category,
		ActionURL:    req.ActionURL,
		ActionText:   req.ActionText,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    h.now(),
	}
	if n.Type == "" {
		n.Type = models.NotificationInfo
	}
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}
	if n.Data == nil {
		n.Data = map[string]interface{}{}
	}
	if req.TargetUserID == "" {
		n.Channel = req.Channel
		if n.Channel == "" {
			n.Channel = GeneralChannel
		}
	}

	event := NotificationEvent{Type: EventNotification, Notification: n}

	h.mu.Lock()
	h.history.push(n)
	var (
		sent   int
		failed []string
	)
	if frame, err := encode(event); err != nil {
		h.Logger().Error("encode notification", zap.Error(err))
	} else if n.TargetUserID != "" {
		sent, failed = h.deliverAll(h.userConnectionIDs(n.TargetUserID), frame)
	} else {
		sent, failed = h.deliverAll(h.subscribersLocked(n.Channel), frame)
	}
	h.mu.Unlock()

	h.evict(failed)
	target := "channel"
	if n.TargetUserID != "" {
		target = "user"
	}
	h.conf.Metrics.NotificationSent(target)
	return n, sent
}

// BroadcastToChannel delivers msg to the current subscribers of channel.
func (h *NotificationHub) BroadcastToChannel(channel string, msg interface{}) int {
	frame, err := encode(msg)
	if err != nil {
		h.Logger().Error("encode frame", zap.Error(err))
		return 0
	}
	h.mu.Lock()
	n, failed := h.deliverAll(h.subscribersLocked(channel), frame)
	h.mu.Unlock()

	h.evict(failed)
	return n
}

func (h *NotificationHub) subscribersLocked(channel string) []string {
	subs := h.channels[channel]
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	return ids
}

// Recent returns the newest n history entries, oldest first.
func (h *NotificationHub) Recent(n int) []models.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.history.last(n, nil)
}

// RecentVisible is Recent restricted to entries userID may see: general
// broadcasts and those addressed to userID.
func (h *NotificationHub) RecentVisible(userID string, n int) []models.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.history.last(n, func(e *models.Notification) bool {
		return visibleTo(e, userID)
	})
}

func visibleTo(e *models.Notification, userID string) bool {
	if e.TargetUserID != "" {
		return e.TargetUserID == userID
	}
	return e.Channel == GeneralChannel || e.Channel == UserChannel(userID)
}

// MarkRead flags a history entry as read. Only entries the connection could
// have received are matched: its user's own and general notifications, and
// those on channels it is subscribed to.
func (h *NotificationHub) MarkRead(connID, notificationID string) bool {
	userID, ok := h.UserOf(connID)
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < h.history.len(); i++ {
		e := h.history.at(i)
		if e.ID != notificationID {
			continue
		}
		if !visibleTo(e, userID) {
			if _, sub := h.connChannels[connID][e.Channel]; e.TargetUserID != "" || !sub {
				return false
			}
		}
		e.Read = true
		return true
	}
	return false
}

// NotificationStats returns hub counters.
func (h *NotificationHub) NotificationStats() NotificationStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := NotificationStats{Channels: len(h.channels), History: h.history.len()}
	for _, subs := range h.channels {
		s.Subscriptions += len(subs)
	}
	return s
}
