package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jgirmay/slidegenie-realtime/pkg/config"
	"github.com/jgirmay/slidegenie-realtime/pkg/logging"
	"github.com/jgirmay/slidegenie-realtime/pkg/metrics"
	"github.com/jgirmay/slidegenie-realtime/pkg/models"
	"github.com/jgirmay/slidegenie-realtime/pkg/repository"
)

var (
	ErrPresentationNotFound = errors.New("presentation not found")
	ErrUnauthorized         = errors.New("access denied")
	ErrInvalidEdit          = errors.New("invalid edit operation")
)

// ServiceConf configures the managers behind a Service.
type ServiceConf struct {
	Clock   func() time.Time
	Logger  *logging.Logger
	Metrics *metrics.Metrics

	Conflict                 ConflictPolicy
	LockTTL                  time.Duration
	EditHistoryLimit         int
	EditRetention            time.Duration
	NotificationHistoryLimit int
	JobGracePeriod           time.Duration
	MessageQueueLimit        int
	PresenceTTL              time.Duration
}

// ServiceConfFromConfig maps the realtime config section.
func ServiceConfFromConfig(cfg config.RealtimeConfig) ServiceConf {
	return ServiceConf{
		Conflict: ConflictPolicy{
			Window:       cfg.ConflictWindow,
			Distance:     cfg.ConflictDistance,
			LineDistance: cfg.ConflictLineDistance,
		},
		LockTTL:                  cfg.LockTTL,
		EditHistoryLimit:         cfg.EditHistoryLimit,
		EditRetention:            cfg.EditHistoryRetention,
		NotificationHistoryLimit: cfg.NotificationHistoryLimit,
		JobGracePeriod:           cfg.JobGracePeriod,
		MessageQueueLimit:        cfg.MessageQueueLimit,
		PresenceTTL:              cfg.PresenceTTL,
	}
}

func (c *ServiceConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	c.Logger = logging.OrGlobal(c.Logger)
	if c.Conflict == (ConflictPolicy{}) {
		c.Conflict = DefaultConflictPolicy()
	}
	if c.EditRetention <= 0 {
		c.EditRetention = 24 * time.Hour
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = time.Hour
	}
}

func (c ServiceConf) registry(name string) RegistryConf {
	return RegistryConf{
		Name:       name,
		QueueLimit: c.MessageQueueLimit,
		Clock:      c.Clock,
		Logger:     c.Logger,
		Metrics:    c.Metrics,
	}
}

// JobHook observes every job state pushed through the service.
type JobHook func(models.JobProgress)

// CollaborationEvent describes an edit routed through the service.
type CollaborationEvent struct {
	Type           string
	PresentationID string
	UserID         string
	Operation      *models.EditOperation
}

// CollaborationHook observes collaboration events routed through the service.
type CollaborationHook func(CollaborationEvent)

// Service is the entry point for job runners, presentation services and the
// protocol handlers. It owns the three managers.
type Service struct {
	Generation    *GenerationBroadcaster
	Collaboration *CollaborationCoordinator
	Notifications *NotificationHub

	conf          ServiceConf
	presentations repository.PresentationRepository
	edits         *keyedMutex
	log           *logging.Logger
	startedAt     time.Time

	mu         sync.RWMutex
	jobOwners  map[string]string
	jobHooks   []JobHook
	collabHook []CollaborationHook
}

// NewService wires the managers. presentations may be nil when joins are
// authorized elsewhere.
func NewService(conf ServiceConf, presentations repository.PresentationRepository, locks repository.SlideLockStore) *Service {
	conf.norm()
	return &Service{
		Generation: NewGenerationBroadcaster(GenerationConf{
			RegistryConf: conf.registry("generation"),
			GracePeriod:  conf.JobGracePeriod,
		}),
		Collaboration: NewCollaborationCoordinator(CollaborationConf{
			RegistryConf: conf.registry("collaboration"),
			LockTTL:      conf.LockTTL,
			HistoryLimit: conf.EditHistoryLimit,
		}, locks),
		Notifications: NewNotificationHub(NotificationConf{
			RegistryConf: conf.registry("notifications"),
			HistoryLimit: conf.NotificationHistoryLimit,
		}),
		conf:          conf,
		presentations: presentations,
		edits:         newKeyedMutex(),
		log:           conf.Logger.Named("service"),
		startedAt:     conf.Clock(),
		jobOwners:     make(map[string]string),
	}
}

func (s *Service) now() time.Time { return s.conf.Clock() }

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.now() }

// AuthorizeJoin checks once, before a collaboration connection is admitted,
// that userID may attach to the presentation.
func (s *Service) AuthorizeJoin(ctx context.Context, presentationID, userID string) (*models.Presentation, error) {
	if s.presentations == nil {
		return nil, ErrPresentationNotFound
	}
	p, err := s.presentations.Get(ctx, presentationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPresentationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load presentation: %w", err)
	}
	if !p.CanAccess(userID) {
		return nil, ErrUnauthorized
	}
	return p, nil
}

// SubmitEdit arbitrates op against recent history and records it. Conflict
// check and recording are serialized per presentation. The returned
// operation carries Applied and Conflicts.
func (s *Service) SubmitEdit(presentationID string, op models.EditOperation) (models.EditOperation, error) {
	if !op.Type.Valid() {
		return op, fmt.Errorf("%w: unknown type %q", ErrInvalidEdit, op.Type)
	}
	if op.AuthorID == "" {
		return op, fmt.Errorf("%w: missing author", ErrInvalidEdit)
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	unlock := s.edits.Lock(presentationID)
	now := s.now()
	op.Timestamp = now
	recent := s.Collaboration.RecentEdits(presentationID, now.Add(-s.conf.Conflict.Window))
	op.Conflicts = DetectConflicts(recent, op, s.conf.Conflict, now)
	if op.Conflicts == nil {
		op.Conflicts = []string{}
	}
	op.Applied = len(op.Conflicts) == 0
	s.Collaboration.SubmitEdit(presentationID, op)
	unlock()

	s.conf.Metrics.EditSubmitted(op.Applied)
	if !op.Applied {
		s.log.Info("edit conflict",
			zap.String("presentation_id", presentationID),
			zap.String("user_id", op.AuthorID),
			zap.Strings("conflicts", op.Conflicts))
	}
	s.emitCollaboration(CollaborationEvent{
		Type: EventEditOperation, PresentationID: presentationID, UserID: op.AuthorID, Operation: &op,
	})
	return op, nil
}

// StartJob registers a job in the queued state. ownerID, when set, receives
// notifications about the job.
func (s *Service) StartJob(jobID, ownerID, jobType string) error {
	if ownerID != "" {
		s.mu.Lock()
		s.jobOwners[jobID] = ownerID
		s.mu.Unlock()
	}
	p := models.JobProgress{
		Status:  models.JobQueued,
		Step:    "Queued",
		Message: fmt.Sprintf("Starting %s generation", jobType),
	}
	if _, err := s.Generation.UpdateProgress(jobID, p); err != nil {
		return err
	}
	s.emitJob(jobID)

	if ownerID != "" {
		s.Notifications.Send(NotificationRequest{
			Type:         models.NotificationInfo,
			Title:        "Generation Started",
			Message:      "Your presentation generation has started.",
			Data:         map[string]interface{}{"job_id": jobID, "job_type": jobType},
			TargetUserID: ownerID,
			Category:     "generation",
		})
	}
	return nil
}

// UpdateJobProgress publishes a processing update.
func (s *Service) UpdateJobProgress(jobID string, progress float64, step, message string, eta *time.Time) error {
	_, err := s.Generation.UpdateProgress(jobID, models.JobProgress{
		Status:              models.JobProcessing,
		Progress:            progress,
		Step:                step,
		Message:             message,
		EstimatedCompletion: eta,
	})
	if err != nil {
		return err
	}
	s.emitJob(jobID)
	return nil
}

// CompleteJob finishes the job and notifies its owner.
func (s *Service) CompleteJob(jobID string, result map[string]interface{}) error {
	if _, err := s.Generation.Complete(jobID, result); err != nil {
		return err
	}
	s.emitJob(jobID)

	if owner := s.takeOwner(jobID); owner != "" {
		s.Notifications.Send(NotificationRequest{
			Type:         models.NotificationSuccess,
			Title:        "Generation Complete",
			Message:      "Your presentation has been generated successfully!",
			Data:         map[string]interface{}{"job_id": jobID, "result": result},
			TargetUserID: owner,
			Priority:     models.PriorityHigh,
			Category:     "generation",
		})
	}
	return nil
}

// FailJob marks the job failed and notifies its owner.
func (s *Service) FailJob(jobID, reason string, details map[string]interface{}) error {
	if _, err := s.Generation.Fail(jobID, reason); err != nil {
		return err
	}
	s.emitJob(jobID)

	if owner := s.takeOwner(jobID); owner != "" {
		data := map[string]interface{}{"job_id": jobID, "error": reason}
		if details != nil {
			data["error_details"] = details
		}
		s.Notifications.Send(NotificationRequest{
			Type:         models.NotificationError,
			Title:        "Generation Failed",
			Message:      fmt.Sprintf("Presentation generation failed: %s", reason),
			Data:         data,
			TargetUserID: owner,
			Priority:     models.PriorityHigh,
			Category:     "generation",
		})
	}
	return nil
}

// CancelJob marks the job cancelled without notifying.
func (s *Service) CancelJob(jobID, reason string) error {
	if _, err := s.Generation.Cancel(jobID, reason); err != nil {
		return err
	}
	s.takeOwner(jobID)
	s.emitJob(jobID)
	return nil
}

func (s *Service) takeOwner(jobID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner := s.jobOwners[jobID]
	delete(s.jobOwners, jobID)
	return owner
}

// Notify sends a notification through the hub.
func (s *Service) Notify(req NotificationRequest) (models.Notification, int) {
	return s.Notifications.Send(req)
}

// NotifyPresentationUpdate tells every collaborator except the author that
// a presentation changed.
func (s *Service) NotifyPresentationUpdate(presentationID, title, updateType, updatedBy string, collaborators []string) int {
	sent := 0
	for _, userID := range collaborators {
		if userID == updatedBy {
			continue
		}
		_, n := s.Notifications.Send(NotificationRequest{
			Type:    models.NotificationInfo,
			Title:   "Presentation Updated",
			Message: fmt.Sprintf("'%s' has been updated", title),
			Data: map[string]interface{}{
				"presentation_id": presentationID,
				"update_type":     updateType,
				"updated_by":      updatedBy,
			},
			TargetUserID: userID,
			Priority:     models.PriorityLow,
			Category:     "collaboration",
			ActionURL:    "/presentations/" + presentationID,
			ActionText:   "View",
		})
		sent += n
	}
	return sent
}

// OnJobProgress registers a hook run after each job state change.
func (s *Service) OnJobProgress(h JobHook) {
	s.mu.Lock()
	s.jobHooks = append(s.jobHooks, h)
	s.mu.Unlock()
}

// OnCollaborationEvent registers a hook run after each routed edit.
func (s *Service) OnCollaborationEvent(h CollaborationHook) {
	s.mu.Lock()
	s.collabHook = append(s.collabHook, h)
	s.mu.Unlock()
}

func (s *Service) emitJob(jobID string) {
	p, ok := s.Generation.Snapshot(jobID)
	if !ok {
		return
	}
	s.mu.RLock()
	hooks := append([]JobHook(nil), s.jobHooks...)
	s.mu.RUnlock()
	for _, h := range hooks {
		s.safeHook("job", func() { h(p) })
	}
}

func (s *Service) emitCollaboration(ev CollaborationEvent) {
	s.mu.RLock()
	hooks := append([]CollaborationHook(nil), s.collabHook...)
	s.mu.RUnlock()
	for _, h := range hooks {
		s.safeHook("collaboration", func() { h(ev) })
	}
}

func (s *Service) safeHook(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("hook panicked", zap.String("hook", kind), zap.Any("panic", r))
		}
	}()
	fn()
}

// SystemHealth aggregates the managers' stats.
type SystemHealth struct {
	Status           string             `json:"status"`
	Timestamp        time.Time          `json:"timestamp"`
	UptimeSeconds    float64            `json:"uptime_seconds"`
	TotalConnections int                `json:"total_connections"`
	Connections      map[string]Stats   `json:"connections"`
	Jobs             JobStats           `json:"generation"`
	Collaboration    CollaborationStats `json:"collaboration"`
	Notifications    NotificationStats  `json:"notifications"`
}

// SystemHealth returns a point-in-time health report.
func (s *Service) SystemHealth(ctx context.Context) SystemHealth {
	now := s.now()
	h := SystemHealth{
		Status:        "healthy",
		Timestamp:     now,
		UptimeSeconds: now.Sub(s.startedAt).Seconds(),
		Connections: map[string]Stats{
			"generation":    s.Generation.Stats(),
			"collaboration": s.Collaboration.Stats(),
			"notifications": s.Notifications.Stats(),
		},
		Jobs:          s.Generation.JobStats(),
		Collaboration: s.Collaboration.CollaborationStats(ctx),
		Notifications: s.Notifications.NotificationStats(),
	}
	for _, st := range h.Connections {
		h.TotalConnections += st.ActiveConnections
	}
	return h
}

// CleanupReport counts what a cleanup pass removed.
type CleanupReport struct {
	ExpiredLocks  int `json:"expired_locks"`
	StalePresence int `json:"stale_presence"`
	TrimmedEdits  int `json:"trimmed_edits"`
}

// CleanupStaleData expires locks, stale presence and old edit history.
func (s *Service) CleanupStaleData(ctx context.Context) (CleanupReport, error) {
	now := s.now()
	var r CleanupReport
	n, err := s.Collaboration.ExpireLocks(ctx)
	if err != nil {
		err = fmt.Errorf("expire locks: %w", err)
	}
	r.ExpiredLocks = n
	r.StalePresence = s.Collaboration.ExpirePresence(now.Add(-s.conf.PresenceTTL))
	r.TrimmedEdits = s.Collaboration.TrimHistory(now.Add(-s.conf.EditRetention))

	s.conf.Metrics.Evicted("lock", r.ExpiredLocks)
	s.conf.Metrics.Evicted("presence", r.StalePresence)
	s.conf.Metrics.Evicted("edit", r.TrimmedEdits)
	return r, err
}

// EvictIdle disconnects connections idle since before cutoff in every
// manager and returns the count per manager.
func (s *Service) EvictIdle(cutoff time.Time) map[string]int {
	out := map[string]int{
		"generation":    s.Generation.EvictIdle(cutoff),
		"collaboration": s.Collaboration.EvictIdle(cutoff),
		"notifications": s.Notifications.EvictIdle(cutoff),
	}
	total := 0
	for _, n := range out {
		total += n
	}
	s.conf.Metrics.Evicted("connection", total)
	return out
}

// Shutdown closes every connection and stops pending timers.
func (s *Service) Shutdown() {
	s.Generation.Shutdown()
	s.Generation.CloseAll("server shutdown")
	s.Collaboration.CloseAll("server shutdown")
	s.Notifications.CloseAll("server shutdown")
}
