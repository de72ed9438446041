package dto

import (
	"time"
)

// ErrorResponse is a standard error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NotifyRequest is the admin request to publish a notification.
// Without user_id it goes to channel (default "general").
type NotifyRequest struct {
	Title            string                 `json:"title" validate:"required"`
	Message          string                 `json:"message"`
	NotificationType string                 `json:"notification_type"` // info|success|warning|error
	Priority         string                 `json:"priority"`          // low|normal|high|urgent
	UserID           string                 `json:"user_id"`
	Channel          string                 `json:"channel"`
	Category         string                 `json:"category"`
	ActionURL        string                 `json:"action_url"`
	ActionText       string                 `json:"action_text"`
	ExpiresAt        *time.Time             `json:"expires_at"`
	Data             map[string]interface{} `json:"data"`
}

// NotifyResponse acknowledges a published notification
type NotifyResponse struct {
	Status         string    `json:"status"`
	NotificationID string    `json:"notification_id"`
	Delivered      int       `json:"delivered"`
	Timestamp      time.Time `json:"timestamp"`
}

// HealthResponse is the liveness probe body
type HealthResponse struct {
	Status      string    `json:"status"`
	Connections int       `json:"connections"`
	Uptime      float64   `json:"uptime_seconds"`
	Timestamp   time.Time `json:"timestamp"`
}
