package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jgirmay/slidegenie-realtime/pkg/auth"
	"github.com/jgirmay/slidegenie-realtime/pkg/http/dto"
	"github.com/jgirmay/slidegenie-realtime/pkg/logging"
	"github.com/jgirmay/slidegenie-realtime/pkg/models"
	"github.com/jgirmay/slidegenie-realtime/pkg/monitoring"
	"github.com/jgirmay/slidegenie-realtime/pkg/realtime"
)

// HandlerConf configures the HTTP side of the realtime core.
type HandlerConf struct {
	PollInterval time.Duration
	Keepalive    time.Duration
	Replay       int
	// MissingJob ends a generation stream whose job stays unknown this
	// long. Defaults to the broadcaster's grace period.
	MissingJob time.Duration
	AdminRole    string
	// Health backs /ready; nil reports ready.
	Health *monitoring.HealthChecker
	// Draining is closed when the server shuts down; open SSE streams end.
	Draining <-chan struct{}
	Logger *logging.Logger
}

func (c *HandlerConf) norm() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Keepalive <= 0 {
		c.Keepalive = 30 * time.Second
	}
	if c.Replay <= 0 {
		c.Replay = 10
	}
	if c.AdminRole == "" {
		c.AdminRole = "admin"
	}
	c.Logger = logging.OrGlobal(c.Logger).Named("http")
}

// RealtimeHandlers serves stats, admin notifications and the SSE paths.
type RealtimeHandlers struct {
	svc  *realtime.Service
	conf HandlerConf
	log  *logging.Logger
}

// NewRealtimeHandlers creates new realtime handlers
func NewRealtimeHandlers(svc *realtime.Service, conf HandlerConf) *RealtimeHandlers {
	conf.norm()
	if conf.MissingJob <= 0 {
		conf.MissingJob = svc.Generation.GracePeriod()
	}
	return &RealtimeHandlers{svc: svc, conf: conf, log: conf.Logger}
}

// GetHealth handles GET /health
func (h *RealtimeHandlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	health := h.svc.SystemHealth(r.Context())
	writeJSON(w, http.StatusOK, &dto.HealthResponse{
		Status:      health.Status,
		Connections: health.TotalConnections,
		Uptime:      health.UptimeSeconds,
		Timestamp:   health.Timestamp,
	})
}

// GetReady handles GET /ready
func (h *RealtimeHandlers) GetReady(w http.ResponseWriter, r *http.Request) {
	if h.conf.Health == nil {
		writeJSON(w, http.StatusOK, monitoring.Report{Status: monitoring.HealthStatusHealthy, Timestamp: h.svc.Now()})
		return
	}
	report := h.conf.Health.Check(r.Context())
	status := http.StatusOK
	if report.Status == monitoring.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// GetStats handles GET /api/v1/realtime/stats
func (h *RealtimeHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.SystemHealth(r.Context()))
}

// SendNotification handles POST /api/v1/realtime/notify
// Admin only; publishes to one user or to a channel.
func (h *RealtimeHandlers) SendNotification(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required", "UNAUTHORIZED")
		return
	}
	if caller.Role != h.conf.AdminRole {
		writeError(w, http.StatusForbidden, "Admin access required", "FORBIDDEN")
		return
	}

	var req dto.NotifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}
	notifyReq, err := toNotificationRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		return
	}

	n, delivered := h.svc.Notify(notifyReq)
	h.log.Info("admin notification sent",
		zap.String("notification_id", n.ID),
		zap.String("admin_id", caller.UserID),
		zap.Int("delivered", delivered))

	writeJSON(w, http.StatusOK, &dto.NotifyResponse{
		Status:         "notification_sent",
		NotificationID: n.ID,
		Delivered:      delivered,
		Timestamp:      n.CreatedAt,
	})
}

func toNotificationRequest(req dto.NotifyRequest) (realtime.NotificationRequest, error) {
	out := realtime.NotificationRequest{
		Type:         models.NotificationType(req.NotificationType),
		Title:        strings.TrimSpace(req.Title),
		Message:      req.Message,
		Data:         req.Data,
		Channel:      req.Channel,
		TargetUserID: req.UserID,
		Priority:     models.NotificationPriority(req.Priority),
		Category:     req.Category,
		ActionURL:    req.ActionURL,
		ActionText:   req.ActionText,
		ExpiresAt:    req.ExpiresAt,
	}
	if out.Title == "" {
		return out, errMissing("title")
	}
	if out.Type != "" && !out.Type.Valid() {
		return out, errInvalid("notification_type", req.NotificationType)
	}
	if out.Priority != "" && !out.Priority.Valid() {
		return out, errInvalid("priority", req.Priority)
	}
	if out.Channel != "" && out.TargetUserID != "" {
		return out, errExclusive("user_id", "channel")
	}
	return out, nil
}

// StreamGeneration handles GET /api/v1/realtime/sse/generation/{jobID}
// Polls the job snapshot and ends the stream after a terminal status.
func (h *RealtimeHandlers) StreamGeneration(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job_id", "INVALID_REQUEST")
		return
	}
	stream, ok := newSSEStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SSE not supported", "SSE_UNSUPPORTED")
		return
	}

	if err := stream.send(realtime.ConnectedEvent{
		Type:      realtime.EventConnected,
		JobID:     jobID,
		Message:   "SSE connection established",
		Timestamp: h.svc.Now(),
	}); err != nil {
		return
	}

	var last time.Time
	seen := time.Now()
	// poll returns false once the stream should end.
	poll := func() bool {
		p, ok := h.svc.Generation.Snapshot(jobID)
		if !ok {
			if time.Since(seen) < h.conf.MissingJob {
				return true
			}
			h.log.Debug("sse job not found", zap.String("job_id", jobID))
			_ = stream.send(realtime.NewErrorEvent("Job not found: " + jobID))
			return false
		}
		seen = time.Now()
		if !p.UpdatedAt.After(last) {
			return true
		}
		last = p.UpdatedAt
		err := stream.send(realtime.JobProgressEvent{
			Type:      realtime.EventJobProgress,
			JobID:     jobID,
			Data:      p,
			Timestamp: h.svc.Now(),
		})
		return err == nil && !p.Status.Terminal()
	}
	if !poll() {
		return
	}

	pollTicker := time.NewTicker(h.conf.PollInterval)
	defer pollTicker.Stop()
	keepTicker := time.NewTicker(h.conf.Keepalive)
	defer keepTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.conf.Draining:
			return
		case <-pollTicker.C:
			if !poll() {
				return
			}
		case <-keepTicker.C:
			if err := stream.keepalive(); err != nil {
				return
			}
		}
	}
}

// StreamNotifications handles GET /api/v1/realtime/sse/notifications
// Replays the caller's most recent notifications, then keeps the stream open.
func (h *RealtimeHandlers) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required", "UNAUTHORIZED")
		return
	}
	stream, ok := newSSEStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SSE not supported", "SSE_UNSUPPORTED")
		return
	}

	if err := stream.send(realtime.ConnectedEvent{
		Type:               realtime.EventConnected,
		SubscribedChannels: realtime.ReservedChannels(caller.UserID),
		Message:            "SSE connection established",
		Timestamp:          h.svc.Now(),
	}); err != nil {
		return
	}
	for _, n := range h.svc.Notifications.RecentVisible(caller.UserID, h.conf.Replay) {
		if err := stream.send(realtime.NotificationEvent{Type: realtime.EventNotification, Notification: n}); err != nil {
			return
		}
	}

	keepTicker := time.NewTicker(h.conf.Keepalive)
	defer keepTicker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.conf.Draining:
			return
		case <-keepTicker.C:
			if err := stream.keepalive(); err != nil {
				h.log.Debug("sse stream closed", zap.String("user_id", caller.UserID), zap.Error(err))
				return
			}
		}
	}
}
