// Package protocol decodes inbound websocket frames. Each surface accepts a
// closed set of message types; anything else is a ProtocolError that is
// reported to the sender while the connection stays open.
package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jgirmay/slidegenie-realtime/pkg/models"
)

// Surface identifies one websocket endpoint.
type Surface int

const (
	SurfaceGeneration Surface = iota
	SurfaceCollaboration
	SurfaceNotifications
)

func (s Surface) String() string {
	switch s {
	case SurfaceGeneration:
		return "generation"
	case SurfaceCollaboration:
		return "collaboration"
	case SurfaceNotifications:
		return "notifications"
	}
	return fmt.Sprintf("surface(%d)", int(s))
}

// Inbound frame types.
const (
	TypePing               = "ping"
	TypeSubscribeJob       = "subscribe_job"
	TypeUnsubscribeJob     = "unsubscribe_job"
	TypeJoin               = "join"
	TypePresenceUpdate     = "presence_update"
	TypeEditOperation      = "edit_operation"
	TypeLockSlide          = "lock_slide"
	TypeUnlockSlide        = "unlock_slide"
	TypeCursorUpdate       = "cursor_update"
	TypeSubscribeChannel   = "subscribe_channel"
	TypeUnsubscribeChannel = "unsubscribe_channel"
	TypeMarkRead           = "mark_read"
)

// ProtocolError is a malformed or unknown inbound frame. Message is sent
// back verbatim in an error frame.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

// ErrInvalidJSON is returned for frames that are not a JSON object.
var ErrInvalidJSON = &ProtocolError{Message: "Invalid JSON format"}

func unknownType(t string) *ProtocolError {
	return &ProtocolError{Message: "Unknown message type: " + t}
}

func missing(field string) *ProtocolError {
	return &ProtocolError{Message: field + " is required"}
}

// Message is one decoded inbound frame.
type Message interface {
	Type() string
	validate() error
}

type Ping struct{}

type SubscribeJob struct {
	JobID string `json:"job_id"`
}

type UnsubscribeJob struct {
	JobID string `json:"job_id"`
}

// Join re-attaches the connection to its presentation.
type Join struct {
	PresentationID string `json:"presentation_id"`
}

type PresenceUpdate struct {
	Status         models.PresenceStatus `json:"status"`
	CurrentSlide   *int                  `json:"current_slide,omitempty"`
	CursorPosition json.RawMessage       `json:"cursor_position,omitempty"`
	Cursor         json.RawMessage       `json:"cursor,omitempty"`
	ActiveSection  *string               `json:"active_section,omitempty"`
}

// EditPayload is the client-supplied part of an edit operation. Author and
// timestamp are assigned by the server.
type EditPayload struct {
	ID        string           `json:"operation_id,omitempty"`
	Type      models.EditType  `json:"type"`
	SlideID   string           `json:"slide_id"`
	ElementID string           `json:"element_id,omitempty"`
	Position  *models.Position `json:"position,omitempty"`
	Content   json.RawMessage  `json:"content,omitempty"`
}

type EditOperation struct {
	Operation *EditPayload `json:"operation"`
}

type LockSlide struct {
	SlideID  string `json:"slide_id"`
	LockType string `json:"lock_type,omitempty"`
}

type UnlockSlide struct {
	SlideID string `json:"slide_id"`
}

type CursorUpdate struct {
	Cursor json.RawMessage `json:"cursor"`
}

type SubscribeChannel struct {
	Channel string `json:"channel"`
}

type UnsubscribeChannel struct {
	Channel string `json:"channel"`
}

type MarkRead struct {
	NotificationID string `json:"notification_id"`
}

func (Ping) Type() string               { return TypePing }
func (SubscribeJob) Type() string       { return TypeSubscribeJob }
func (UnsubscribeJob) Type() string     { return TypeUnsubscribeJob }
func (Join) Type() string               { return TypeJoin }
func (PresenceUpdate) Type() string     { return TypePresenceUpdate }
func (EditOperation) Type() string      { return TypeEditOperation }
func (LockSlide) Type() string          { return TypeLockSlide }
func (UnlockSlide) Type() string        { return TypeUnlockSlide }
func (CursorUpdate) Type() string       { return TypeCursorUpdate }
func (SubscribeChannel) Type() string   { return TypeSubscribeChannel }
func (UnsubscribeChannel) Type() string { return TypeUnsubscribeChannel }
func (MarkRead) Type() string           { return TypeMarkRead }

func (Ping) validate() error { return nil }

func (m *SubscribeJob) validate() error   { return requireField("job_id", &m.JobID) }
func (m *UnsubscribeJob) validate() error { return requireField("job_id", &m.JobID) }
func (m *Join) validate() error           { return requireField("presentation_id", &m.PresentationID) }
func (m *LockSlide) validate() error      { return requireField("slide_id", &m.SlideID) }
func (m *UnlockSlide) validate() error    { return requireField("slide_id", &m.SlideID) }
func (m *SubscribeChannel) validate() error {
	return requireField("channel", &m.Channel)
}
func (m *UnsubscribeChannel) validate() error {
	return requireField("channel", &m.Channel)
}
func (m *MarkRead) validate() error {
	return requireField("notification_id", &m.NotificationID)
}

// validate defaults the status to online and folds the legacy cursor key
// into CursorPosition.
func (m *PresenceUpdate) validate() error {
	if m.Status == "" {
		m.Status = models.PresenceOnline
	}
	if !m.Status.Valid() {
		return &ProtocolError{Message: fmt.Sprintf("Invalid presence status: %s", m.Status)}
	}
	if m.CursorPosition == nil && m.Cursor != nil {
		m.CursorPosition = m.Cursor
	}
	m.Cursor = nil
	return nil
}

func (m *EditOperation) validate() error {
	if m.Operation == nil {
		return missing("operation")
	}
	if !m.Operation.Type.Valid() {
		return &ProtocolError{Message: fmt.Sprintf("Invalid edit operation type: %s", m.Operation.Type)}
	}
	return nil
}

func (m *CursorUpdate) validate() error {
	if len(m.Cursor) == 0 || string(m.Cursor) == "null" {
		m.Cursor = json.RawMessage(`{}`)
	}
	return nil
}

func requireField(name string, v *string) error {
	*v = strings.TrimSpace(*v)
	if *v == "" {
		return missing(name)
	}
	return nil
}

var surfaces = map[Surface]map[string]func() Message{
	SurfaceGeneration: {
		TypePing:           func() Message { return &Ping{} },
		TypeSubscribeJob:   func() Message { return &SubscribeJob{} },
		TypeUnsubscribeJob: func() Message { return &UnsubscribeJob{} },
	},
	SurfaceCollaboration: {
		TypePing:           func() Message { return &Ping{} },
		TypeJoin:           func() Message { return &Join{} },
		TypePresenceUpdate: func() Message { return &PresenceUpdate{} },
		TypeEditOperation:  func() Message { return &EditOperation{} },
		TypeLockSlide:      func() Message { return &LockSlide{} },
		TypeUnlockSlide:    func() Message { return &UnlockSlide{} },
		TypeCursorUpdate:   func() Message { return &CursorUpdate{} },
	},
	SurfaceNotifications: {
		TypePing:               func() Message { return &Ping{} },
		TypeSubscribeChannel:   func() Message { return &SubscribeChannel{} },
		TypeUnsubscribeChannel: func() Message { return &UnsubscribeChannel{} },
		TypeMarkRead:           func() Message { return &MarkRead{} },
	},
}

// Decode parses one frame for the given surface. Errors are always
// *ProtocolError.
func Decode(s Surface, data []byte) (Message, error) {
	var envelope struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, ErrInvalidJSON
	}
	if envelope.Type == nil {
		return nil, missing("type")
	}

	ctor, ok := surfaces[s][*envelope.Type]
	if !ok {
		return nil, unknownType(*envelope.Type)
	}
	msg := ctor()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("Invalid %s payload", *envelope.Type)}
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Types lists the frame types a surface accepts.
func Types(s Surface) []string {
	out := make([]string, 0, len(surfaces[s]))
	for t := range surfaces[s] {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
