package realtime

import (
	"encoding/json"
	"time"

	"github.com/jgirmay/slidegenie-realtime/pkg/models"
)

// Outbound frame types.
const (
	EventConnected      = "connected"
	EventPong           = "pong"
	EventError          = "error"
	EventJobProgress    = "job_progress"
	EventSubscribed     = "subscribed"
	EventUnsubscribed   = "unsubscribed"
	EventPresenceUpdate = "presence_update"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventEditOperation  = "edit_operation"
	EventSlideLocked    = "slide_locked"
	EventSlideUnlocked  = "slide_unlocked"
	EventLockResponse   = "lock_response"
	EventCursorUpdate   = "cursor_update"
	EventNotification   = "notification"
	EventMarkedRead     = "marked_read"
)

// ErrorEvent reports a protocol problem to the sender.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message}
}

// PongEvent answers a ping.
type PongEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectedEvent is the first frame on every surface.
type ConnectedEvent struct {
	Type               string    `json:"type"`
	ConnectionID       string    `json:"connection_id"`
	JobID              string    `json:"job_id,omitempty"`
	PresentationID     string    `json:"presentation_id,omitempty"`
	SubscribedChannels []string  `json:"subscribed_channels,omitempty"`
	Message            string    `json:"message,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// JobProgressEvent carries the last known job state.
type JobProgressEvent struct {
	Type      string             `json:"type"`
	JobID     string             `json:"job_id"`
	Data      models.JobProgress `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
}

// SubscriptionEvent acknowledges job and channel (un)subscriptions.
type SubscriptionEvent struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id,omitempty"`
	Channel string `json:"channel,omitempty"`
	Success bool   `json:"success"`
}

// PresenceSnapshotEvent lists every present user; unicast on join.
type PresenceSnapshotEvent struct {
	Type           string                  `json:"type"`
	PresentationID string                  `json:"presentation_id"`
	Users          []models.PresenceRecord `json:"users"`
	Timestamp      time.Time               `json:"timestamp"`
}

// PresenceChangedEvent reports one user's new presence.
type PresenceChangedEvent struct {
	Type           string                `json:"type"`
	PresentationID string                `json:"presentation_id"`
	UserID         string                `json:"user_id"`
	Status         models.PresenceStatus `json:"status"`
	CurrentSlide   *int                  `json:"current_slide,omitempty"`
	CursorPosition json.RawMessage       `json:"cursor_position,omitempty"`
	ActiveSection  *string               `json:"active_section,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
}

// MembershipEvent announces user_joined and user_left.
type MembershipEvent struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Timestamp time.Time `json:"timestamp"`
}

// EditOperationEvent echoes a recorded edit, conflicts included.
type EditOperationEvent struct {
	Type      string               `json:"type"`
	Operation models.EditOperation `json:"operation"`
	Timestamp time.Time            `json:"timestamp"`
}

// SlideLockEvent announces slide_locked and slide_unlocked.
type SlideLockEvent struct {
	Type      string     `json:"type"`
	SlideID   string     `json:"slide_id"`
	UserID    string     `json:"user_id"`
	UserName  string     `json:"user_name,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// LockResponseEvent answers lock_slide and unlock_slide requests.
type LockResponseEvent struct {
	Type    string `json:"type"`
	SlideID string `json:"slide_id"`
	Action  string `json:"action"`
	Success bool   `json:"success"`
}

// CursorEvent relays a cursor move.
type CursorEvent struct {
	Type      string          `json:"type"`
	UserID    string          `json:"user_id"`
	Cursor    json.RawMessage `json:"cursor"`
	Timestamp time.Time       `json:"timestamp"`
}

// NotificationEvent wraps a notification for delivery.
type NotificationEvent struct {
	Type string `json:"type"`
	models.Notification
}

// MarkedReadEvent acknowledges mark_read.
type MarkedReadEvent struct {
	Type           string `json:"type"`
	NotificationID string `json:"notification_id"`
	Found          bool   `json:"found"`
}
