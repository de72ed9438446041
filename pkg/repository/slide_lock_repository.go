package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/jgirmay/slidegenie-realtime/pkg/models"
)

// GormLockStore keeps slide locks in the slide_locks table so that locks
// survive restarts.
type GormLockStore struct {
	db *gorm.DB
}

// NewGormLockStore creates a database-backed lock store
func NewGormLockStore(db *gorm.DB) *GormLockStore {
	return &GormLockStore{db: db}
}

// Acquire inserts the lock, or takes it over when the current row belongs to
// the same holder or has expired. The takeover is a single conditional
// UPDATE so two contenders cannot both win.
func (s *GormLockStore) Acquire(ctx context.Context, lock models.SlideLock, now time.Time) (bool, error) {
	db := s.db.WithContext(ctx)

	for attempt := 0; attempt < 2; attempt++ {
		err := db.Create(&lock).Error
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, err
		}

		res := db.Model(&models.SlideLock{}).
			Where("presentation_id = ? AND slide_id = ?", lock.PresentationID, lock.SlideID).
			Where("holder_id = ? OR expires_at <= ?", lock.HolderID, now).
			Updates(map[string]interface{}{
				"holder_id":   lock.HolderID,
				"holder_name": lock.HolderName,
				"lock_type":   lock.LockType,
				"acquired_at": lock.AcquiredAt,
				"expires_at":  lock.ExpiresAt,
			})
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected > 0 {
			return true, nil
		}

		// Held by someone else, unless the row vanished between the insert
		// and the update; in that case try the insert once more.
		var n int64
		if err := db.Model(&models.SlideLock{}).
			Where("presentation_id = ? AND slide_id = ?", lock.PresentationID, lock.SlideID).
			Count(&n).Error; err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
	}
	return false, nil
}

// Release releases a lock
func (s *GormLockStore) Release(ctx context.Context, presentationID, slideID, holderID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("presentation_id = ? AND slide_id = ?", presentationID, slideID).
		Where("holder_id = ?", holderID).
		Delete(&models.SlideLock{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormLockStore) Get(ctx context.Context, presentationID, slideID string, now time.Time) (*models.SlideLock, error) {
	var lock models.SlideLock
	err := s.db.WithContext(ctx).
		Where("presentation_id = ? AND slide_id = ?", presentationID, slideID).
		Where("expires_at > ?", now).
		First(&lock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

func (s *GormLockStore) List(ctx context.Context, presentationID string, now time.Time) ([]models.SlideLock, error) {
	var locks []models.SlideLock
	err := s.db.WithContext(ctx).
		Where("presentation_id = ? AND expires_at > ?", presentationID, now).
		Order("slide_id").
		Find(&locks).Error
	return locks, err
}

// PurgeExpired removes expired locks
func (s *GormLockStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.SlideLock{})
	return int(res.RowsAffected), res.Error
}

func (s *GormLockStore) Count(ctx context.Context) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.SlideLock{}).Count(&n).Error
	return int(n), err
}
