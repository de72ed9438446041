package models

import "time"

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobProcessing, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// JobProgress is the last known state of one generation job.
type JobProgress struct {
	JobID               string                 `json:"job_id"`
	Status              JobStatus              `json:"status"`
	Progress            float64                `json:"progress"`
	Step                string                 `json:"current_step"`
	Message             string                 `json:"message,omitempty"`
	Result              map[string]interface{} `json:"result,omitempty"`
	ErrorMessage        string                 `json:"error_message,omitempty"`
	EstimatedCompletion *time.Time             `json:"estimated_completion,omitempty"`
	UpdatedAt           time.Time              `json:"updated_at"`
	CompletedAt         *time.Time             `json:"completed_at,omitempty"`
}
