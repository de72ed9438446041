package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jgirmay/slidegenie-realtime/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// PresentationRepository defines the presentation operations the realtime
// core relies on. The durable presentation service owns the data.
type PresentationRepository interface {
	// Get retrieves a presentation by id, or ErrNotFound
	Get(ctx context.Context, id string) (*models.Presentation, error)

	// Create stores a new presentation
	Create(ctx context.Context, p *models.Presentation) error

	// Update saves changes to an existing presentation
	Update(ctx context.Context, p *models.Presentation) error
}

// SlideLockStore keeps at most one lock per (presentation, slide). Every
// method is atomic with respect to concurrent callers.
type SlideLockStore interface {
	// Acquire grants lock when the slot is free, expired at now, or already
	// held by lock.HolderID. Otherwise it returns false and leaves the
	// existing lock untouched.
	Acquire(ctx context.Context, lock models.SlideLock, now time.Time) (bool, error)

	// Release deletes the lock only if holderID holds it
	Release(ctx context.Context, presentationID, slideID, holderID string) (bool, error)

	// Get returns the live lock or nil when absent or expired at now
	Get(ctx context.Context, presentationID, slideID string, now time.Time) (*models.SlideLock, error)

	// List returns live locks of one presentation
	List(ctx context.Context, presentationID string, now time.Time) ([]models.SlideLock, error)

	// PurgeExpired removes locks expired at now and reports how many
	PurgeExpired(ctx context.Context, now time.Time) (int, error)

	// Count returns the number of stored locks, expired or not
	Count(ctx context.Context) (int, error)
}
