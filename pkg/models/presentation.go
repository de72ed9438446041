package models

import "time"

// Presentation is the slice of the presentation record the realtime core
// reads to authorize collaboration joins.
type Presentation struct {
	ID        string    `json:"id" gorm:"type:varchar(64);primary_key"`
	OwnerID   string    `json:"owner_id" gorm:"type:varchar(255);index"`
	Title     string    `json:"title" gorm:"type:varchar(255)"`
	IsPublic  bool      `json:"is_public" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Presentation) TableName() string {
	return "presentations"
}

// CanAccess reports whether userID may attach to the presentation.
func (p *Presentation) CanAccess(userID string) bool {
	return p.IsPublic || p.OwnerID == userID
}
