// Package repository provides data access for presentations and slide locks
package repository

import (
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/jgirmay/slidegenie-realtime/pkg/config"
)

// Registry provides centralized access to the repositories the realtime
// core consumes.
type Registry struct {
	Presentations PresentationRepository
	SlideLocks    SlideLockStore

	db    *gorm.DB
	redis *redis.Client
	mu    sync.RWMutex
}

// NewRegistry creates a registry over db. rdb may be nil unless the redis
// lock backend is selected.
func NewRegistry(db *gorm.DB, rdb *redis.Client) *Registry {
	return &Registry{db: db, redis: rdb}
}

// Initialize builds the repositories for the selected lock backend.
func (r *Registry) Initialize(backend string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Presentations = NewPresentationRepository(r.db)

	switch backend {
	case config.LockBackendMemory, "":
		r.SlideLocks = NewMemoryLockStore()
	case config.LockBackendDatabase:
		r.SlideLocks = NewGormLockStore(r.db)
	case config.LockBackendRedis:
		if r.redis == nil {
			return fmt.Errorf("redis lock backend selected without a redis client")
		}
		r.SlideLocks = NewRedisLockStore(r.redis)
	default:
		return fmt.Errorf("unknown lock backend: %s", backend)
	}
	return nil
}

// GetDB returns the database connection
func (r *Registry) GetDB() *gorm.DB {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.db
}

// Close closes the registry and all resources
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			return fmt.Errorf("failed to close redis client: %w", err)
		}
	}
	if r.db != nil {
		sqlDB, err := r.db.DB()
		if err != nil {
			return fmt.Errorf("failed to get database connection: %w", err)
		}
		if err := sqlDB.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}
	return nil
}
