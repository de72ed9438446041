package models

import (
	"encoding/json"
	"time"
)

// PresenceStatus is a collaborator's status within one presentation.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceEditing PresenceStatus = "editing"
	PresenceViewing PresenceStatus = "viewing"
)

// Valid reports whether s is one of the known statuses.
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceEditing, PresenceViewing:
		return true
	}
	return false
}

// PresenceRecord is the latest known state of one user in one presentation.
type PresenceRecord struct {
	UserID         string          `json:"user_id"`
	DisplayName    string          `json:"user_name"`
	Email          string          `json:"user_email,omitempty"`
	Status         PresenceStatus  `json:"status"`
	LastSeen       time.Time       `json:"last_seen"`
	CurrentSlide   *int            `json:"current_slide,omitempty"`
	CursorPosition json.RawMessage `json:"cursor_position,omitempty"`
	ActiveSection  *string         `json:"active_section,omitempty"`
	IsEditing      bool            `json:"is_editing"`
}

// EditType enumerates edit operation kinds.
type EditType string

const (
	EditInsert  EditType = "insert"
	EditDelete  EditType = "delete"
	EditReplace EditType = "replace"
	EditMove    EditType = "move"
	EditFormat  EditType = "format"
)

func (t EditType) Valid() bool {
	switch t {
	case EditInsert, EditDelete, EditReplace, EditMove, EditFormat:
		return true
	}
	return false
}

// Position locates an edit either by coordinates or by line/column. Either
// pair may be absent.
type Position struct {
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Line   *int     `json:"line,omitempty"`
	Column *int     `json:"column,omitempty"`
}

// HasPoint reports whether both coordinates are set.
func (p *Position) HasPoint() bool {
	return p != nil && p.X != nil && p.Y != nil
}

// HasLine reports whether a line number is set.
func (p *Position) HasLine() bool {
	return p != nil && p.Line != nil
}

// EditOperation is one collaborative mutation as recorded in session history.
type EditOperation struct {
	ID         string          `json:"operation_id"`
	Type       EditType        `json:"type"`
	SlideID    string          `json:"slide_id,omitempty"`
	ElementID  string          `json:"element_id,omitempty"`
	Position   *Position       `json:"position,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	AuthorID   string          `json:"user_id"`
	AuthorName string          `json:"user_name"`
	Timestamp  time.Time       `json:"timestamp"`
	Applied    bool            `json:"applied"`
	Conflicts  []string        `json:"conflicts"`
}

// SlideLock is an advisory, TTL-bound editing token for one slide.
type SlideLock struct {
	PresentationID string    `json:"presentation_id" gorm:"type:varchar(64);primaryKey"`
	SlideID        string    `json:"slide_id" gorm:"type:varchar(64);primaryKey"`
	HolderID       string    `json:"user_id" gorm:"type:varchar(255);index"`
	HolderName     string    `json:"user_name" gorm:"type:varchar(255)"`
	LockType       string    `json:"lock_type" gorm:"type:varchar(32);default:'edit'"`
	AcquiredAt     time.Time `json:"acquired_at"`
	ExpiresAt      time.Time `json:"expires_at" gorm:"index"`
}

// TableName specifies the table name for GORM
func (SlideLock) TableName() string {
	return "slide_locks"
}

// ExpiredAt reports whether the lock no longer holds at now.
func (l *SlideLock) ExpiredAt(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
