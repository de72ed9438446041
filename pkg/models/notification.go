package models

import "time"

// NotificationType classifies a notification for client rendering.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationInfo, NotificationSuccess, NotificationWarning, NotificationError:
		return true
	}
	return false
}

// NotificationPriority orders notifications for display.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

func (p NotificationPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Notification is one entry of the global notification history.
type Notification struct {
	ID           string                 `json:"id"`
	Type         NotificationType       `json:"notification_type"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message"`
	Data         map[string]interface{} `json:"data"`
	Channel      string                 `json:"channel,omitempty"`
	TargetUserID string                 `json:"user_id,omitempty"`
	Priority     NotificationPriority   `json:"priority"`
	Category     string                 `json:"category,omitempty"`
	ActionURL    string                 `json:"action_url,omitempty"`
	ActionText   string                 `json:"action_text,omitempty"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
	Read         bool                   `json:"read"`
	CreatedAt    time.Time              `json:"timestamp"`
}
