package realtime

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jgirmay/slidegenie-realtime/pkg/models"
)

var (
	ErrJobFinished     = errors.New("job already finished")
	ErrInvalidProgress = errors.New("progress must be within [0, 1]")
	ErrInvalidStatus   = errors.New("invalid status")
)

// GenerationConf configures a GenerationBroadcaster.
type GenerationConf struct {
	RegistryConf
	// GracePeriod is how long terminal job state stays readable.
	GracePeriod time.Duration
}

type jobEntry struct {
	progress    models.JobProgress
	known       bool
	subscribers map[string]struct{}
	purge       *time.Timer
}

// GenerationBroadcaster tracks job subscribers and the last known state of
// each job, and pushes every change to the subscribers.
type GenerationBroadcaster struct {
	*Registry
	grace time.Duration

	mu         sync.Mutex
	jobs       map[string]*jobEntry
	connToJobs map[string]map[string]struct{}
}

// JobStats summarizes the broadcaster.
type JobStats struct {
	TrackedJobs   int `json:"tracked_jobs"`
	ActiveJobs    int `json:"active_jobs"`
	Subscriptions int `json:"subscriptions"`
}

func NewGenerationBroadcaster(conf GenerationConf) *GenerationBroadcaster {
	if conf.Name == "" {
		conf.Name = "generation"
	}
	if conf.GracePeriod <= 0 {
		conf.GracePeriod = 5 * time.Second
	}
	g := &GenerationBroadcaster{
		Registry:   NewRegistry(conf.RegistryConf),
		grace:      conf.GracePeriod,
		jobs:       make(map[string]*jobEntry),
		connToJobs: make(map[string]map[string]struct{}),
	}
	g.onRelease(g.releaseConnection)
	return g
}

func (g *GenerationBroadcaster) entry(jobID string) *jobEntry {
	e, ok := g.jobs[jobID]
	if !ok {
		e = &jobEntry{subscribers: make(map[string]struct{})}
		g.jobs[jobID] = e
	}
	return e
}

// GracePeriod returns how long terminal job state stays readable.
func (g *GenerationBroadcaster) GracePeriod() time.Duration {
	return g.grace
}

// Subscribe attaches a connection to a job. A job with known state is
// replayed to the new subscriber immediately.
func (g *GenerationBroadcaster) Subscribe(connID, jobID string) error {
	g.mu.Lock()
	// Checked under g.mu so a concurrent release cannot leave a stale entry.
	if !g.Has(connID) {
		g.mu.Unlock()
		return ErrUnknownConnection
	}
	e := g.entry(jobID)
	e.subscribers[connID] = struct{}{}
	jobs, ok := g.connToJobs[connID]
	if !ok {
		jobs = make(map[string]struct{})
		g.connToJobs[connID] = jobs
	}
	jobs[jobID] = struct{}{}

	var failed []string
	if e.known {
		frame, err := encode(g.progressEvent(e.progress))
		if err == nil {
			_, failed = g.deliverAll([]string{connID}, frame)
		}
	}
	g.mu.Unlock()

	g.evict(failed)
	return nil
}

// Unsubscribe detaches a connection from a job.
func (g *GenerationBroadcaster) Unsubscribe(connID, jobID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detach(connID, jobID)
}

func (g *GenerationBroadcaster) detach(connID, jobID string) {
	if e, ok := g.jobs[jobID]; ok {
		delete(e.subscribers, connID)
		if !e.known && len(e.subscribers) == 0 {
			delete(g.jobs, jobID)
		}
	}
	if jobs, ok := g.connToJobs[connID]; ok {
		delete(jobs, jobID)
		if len(jobs) == 0 {
			delete(g.connToJobs, connID)
		}
	}
}

func (g *GenerationBroadcaster) releaseConnection(c *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for jobID := range g.connToJobs[c.ID] {
		g.detach(c.ID, jobID)
	}
}

// UpdateProgress overwrites the job state and fans it out. It returns the
// number of subscribers reached. Terminal statuses schedule the purge.
func (g *GenerationBroadcaster) UpdateProgress(jobID string, p models.JobProgress) (int, error) {
	if p.Status == "" {
		p.Status = models.JobProcessing
	}
	if !p.Status.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, p.Status)
	}
	if p.Progress < 0 || p.Progress > 1 {
		return 0, ErrInvalidProgress
	}

	now := g.now()
	p.JobID = jobID
	p.UpdatedAt = now
	if p.Status.Terminal() && p.CompletedAt == nil {
		p.CompletedAt = &now
	}

	g.mu.Lock()
	e := g.entry(jobID)
	if e.known && e.progress.Status.Terminal() {
		g.mu.Unlock()
		return 0, ErrJobFinished
	}
	e.progress = p
	e.known = true

	ids := make([]string, 0, len(e.subscribers))
	for id := range e.subscribers {
		ids = append(ids, id)
	}
	var (
		n      int
		failed []string
	)
	frame, err := encode(g.progressEvent(p))
	if err == nil {
		n, failed = g.deliverAll(ids, frame)
	}
	if p.Status.Terminal() {
		e.purge = time.AfterFunc(g.grace, func() { g.purge(jobID) })
	}
	g.mu.Unlock()

	g.evict(failed)
	if err != nil {
		return n, err
	}
	if p.Status.Terminal() {
		g.Logger().Info("job finished",
			zap.String("job_id", jobID), zap.String("status", string(p.Status)), zap.Int("subscribers", n))
	}
	return n, nil
}

// Complete marks the job completed with its result.
func (g *GenerationBroadcaster) Complete(jobID string, result map[string]interface{}) (int, error) {
	return g.UpdateProgress(jobID, models.JobProgress{
		Status:   models.JobCompleted,
		Progress: 1.0,
		Step:     "Completed",
		Message:  "Generation completed successfully",
		Result:   result,
	})
}

// Fail marks the job failed, keeping the last reported progress.
func (g *GenerationBroadcaster) Fail(jobID, reason string) (int, error) {
	last, _ := g.Snapshot(jobID)
	return g.UpdateProgress(jobID, models.JobProgress{
		Status:       models.JobFailed,
		Progress:     last.Progress,
		Step:         "Failed",
		Message:      reason,
		ErrorMessage: reason,
	})
}

// Cancel marks the job cancelled.
func (g *GenerationBroadcaster) Cancel(jobID, reason string) (int, error) {
	last, _ := g.Snapshot(jobID)
	return g.UpdateProgress(jobID, models.JobProgress{
		Status:   models.JobCancelled,
		Progress: last.Progress,
		Step:     "Cancelled",
		Message:  reason,
	})
}

func (g *GenerationBroadcaster) purge(jobID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.jobs[jobID]
	if !ok || !e.progress.Status.Terminal() {
		return
	}
	for connID := range e.subscribers {
		if jobs, ok := g.connToJobs[connID]; ok {
			delete(jobs, jobID)
			if len(jobs) == 0 {
				delete(g.connToJobs, connID)
			}
		}
	}
	delete(g.jobs, jobID)
}

func (g *GenerationBroadcaster) progressEvent(p models.JobProgress) JobProgressEvent {
	return JobProgressEvent{Type: EventJobProgress, JobID: p.JobID, Data: p, Timestamp: g.now()}
}

// Snapshot returns the last known state of a job.
func (g *GenerationBroadcaster) Snapshot(jobID string) (models.JobProgress, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.jobs[jobID]
	if !ok || !e.known {
		return models.JobProgress{}, false
	}
	return e.progress, true
}

// Subscribers returns the connection ids subscribed to a job.
func (g *GenerationBroadcaster) Subscribers(jobID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.jobs[jobID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(e.subscribers))
	for id := range e.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// JobStats returns job-level counters.
func (g *GenerationBroadcaster) JobStats() JobStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	var s JobStats
	for _, e := range g.jobs {
		s.TrackedJobs++
		if e.known && !e.progress.Status.Terminal() {
			s.ActiveJobs++
		}
		s.Subscriptions += len(e.subscribers)
	}
	return s
}

// Shutdown stops pending purge timers.
func (g *GenerationBroadcaster) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.jobs {
		if e.purge != nil {
			e.purge.Stop()
		}
	}
}
