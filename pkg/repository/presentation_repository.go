package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jgirmay/slidegenie-realtime/pkg/models"
)

// PresentationRepositoryImpl implements PresentationRepository with gorm
type PresentationRepositoryImpl struct {
	db *gorm.DB
}

// NewPresentationRepository creates a new presentation repository
func NewPresentationRepository(db *gorm.DB) PresentationRepository {
	return &PresentationRepositoryImpl{db: db}
}

func (r *PresentationRepositoryImpl) Get(ctx context.Context, id string) (*models.Presentation, error) {
	var p models.Presentation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get presentation %s: %w", id, err)
	}
	return &p, nil
}

func (r *PresentationRepositoryImpl) Create(ctx context.Context, p *models.Presentation) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PresentationRepositoryImpl) Update(ctx context.Context, p *models.Presentation) error {
	res := r.db.WithContext(ctx).Model(&models.Presentation{}).Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"owner_id":  p.OwnerID,
			"title":     p.Title,
			"is_public": p.IsPublic,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
