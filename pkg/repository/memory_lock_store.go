package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jgirmay/slidegenie-realtime/pkg/models"
)

type lockKey struct {
	presentationID string
	slideID        string
}

// MemoryLockStore is the single-process lock backend.
type MemoryLockStore struct {
	mu    sync.Mutex
	locks map[lockKey]models.SlideLock
}

func NewMemoryLockStore() *MemoryLockStore {
	return &MemoryLockStore{locks: make(map[lockKey]models.SlideLock)}
}

func (s *MemoryLockStore) Acquire(_ context.Context, lock models.SlideLock, now time.Time) (bool, error) {
	key := lockKey{lock.PresentationID, lock.SlideID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.locks[key]; ok && cur.HolderID != lock.HolderID && !cur.ExpiredAt(now) {
		return false, nil
	}
	s.locks[key] = lock
	return true, nil
}

func (s *MemoryLockStore) Release(_ context.Context, presentationID, slideID, holderID string) (bool, error) {
	key := lockKey{presentationID, slideID}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.locks[key]
	if !ok || cur.HolderID != holderID {
		return false, nil
	}
	delete(s.locks, key)
	return true, nil
}

func (s *MemoryLockStore) Get(_ context.Context, presentationID, slideID string, now time.Time) (*models.SlideLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.locks[lockKey{presentationID, slideID}]
	if !ok || cur.ExpiredAt(now) {
		return nil, nil
	}
	return &cur, nil
}

func (s *MemoryLockStore) List(_ context.Context, presentationID string, now time.Time) ([]models.SlideLock, error) {
	s.mu.Lock()
	var out []models.SlideLock
	for k, l := range s.locks {
		if k.presentationID == presentationID && !l.ExpiredAt(now) {
			out = append(out, l)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SlideID < out[j].SlideID })
	return out, nil
}

func (s *MemoryLockStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, l := range s.locks {
		if l.ExpiredAt(now) {
			delete(s.locks, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryLockStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks), nil
}
