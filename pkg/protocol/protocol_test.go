package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgirmay/slidegenie-realtime/pkg/models"
)

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name    string
		surface Surface
		frame   string
		want    string
	}{
		{"not json", SurfaceGeneration, `{nope`, "Invalid JSON format"},
		{"not an object", SurfaceGeneration, `[1,2]`, "Invalid JSON format"},
		{"no type", SurfaceGeneration, `{"job_id":"j"}`, "type is required"},
		{"unknown type", SurfaceGeneration, `{"type":"dance"}`, "Unknown message type: dance"},
		{"type from other surface", SurfaceGeneration, `{"type":"lock_slide","slide_id":"s"}`, "Unknown message type: lock_slide"},
		{"mark_read on collaboration", SurfaceCollaboration, `{"type":"mark_read","notification_id":"n"}`, "Unknown message type: mark_read"},
		{"missing job id", SurfaceGeneration, `{"type":"subscribe_job"}`, "job_id is required"},
		{"blank slide id", SurfaceCollaboration, `{"type":"lock_slide","slide_id":"  "}`, "slide_id is required"},
		{"missing channel", SurfaceNotifications, `{"type":"subscribe_channel"}`, "channel is required"},
		{"wrong field type", SurfaceGeneration, `{"type":"subscribe_job","job_id":7}`, "Invalid subscribe_job payload"},
		{"bad presence status", SurfaceCollaboration, `{"type":"presence_update","status":"asleep"}`, "Invalid presence status: asleep"},
		{"edit without operation", SurfaceCollaboration, `{"type":"edit_operation"}`, "operation is required"},
		{"edit bad type", SurfaceCollaboration, `{"type":"edit_operation","operation":{"type":"rotate"}}`, "Invalid edit operation type: rotate"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode(tc.surface, []byte(tc.frame))
			require.Error(t, err)
			assert.Nil(t, msg)

			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.want, perr.Message)
		})
	}
}

func TestDecodeGeneration(t *testing.T) {
	msg, err := Decode(SurfaceGeneration, []byte(`{"type":"subscribe_job","job_id":" job-1 "}`))
	require.NoError(t, err)
	sub, ok := msg.(*SubscribeJob)
	require.True(t, ok)
	assert.Equal(t, "job-1", sub.JobID)

	msg, err = Decode(SurfaceGeneration, []byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, TypePing, msg.Type())
}

func TestDecodePresenceUpdate(t *testing.T) {
	msg, err := Decode(SurfaceCollaboration, []byte(`{"type":"presence_update","current_slide":2,"cursor":{"x":3}}`))
	require.NoError(t, err)
	upd := msg.(*PresenceUpdate)
	assert.Equal(t, models.PresenceOnline, upd.Status)
	require.NotNil(t, upd.CurrentSlide)
	assert.Equal(t, 2, *upd.CurrentSlide)
	assert.JSONEq(t, `{"x":3}`, string(upd.CursorPosition))
	assert.Nil(t, upd.Cursor)

	msg, err = Decode(SurfaceCollaboration, []byte(`{"type":"presence_update","status":"viewing","current_slide":3}`))
	require.NoError(t, err)
	upd = msg.(*PresenceUpdate)
	assert.Equal(t, models.PresenceViewing, upd.Status)
	require.NotNil(t, upd.CurrentSlide)
	assert.Equal(t, 3, *upd.CurrentSlide)

	_, err = Decode(SurfaceCollaboration, []byte(`{"type":"presence_update","current_slide":"s2"}`))
	assert.Error(t, err)

	msg, err = Decode(SurfaceCollaboration, []byte(`{"type":"presence_update","status":"editing","active_section":"notes"}`))
	require.NoError(t, err)
	upd = msg.(*PresenceUpdate)
	assert.Equal(t, models.PresenceEditing, upd.Status)
	assert.Equal(t, "notes", *upd.ActiveSection)
}

func TestDecodeEditOperation(t *testing.T) {
	frame := `{"type":"edit_operation","operation":{"type":"replace","slide_id":"s1","element_id":"e1",
		"position":{"x":10,"y":20},"content":{"text":"hi"}}}`
	msg, err := Decode(SurfaceCollaboration, []byte(frame))
	require.NoError(t, err)
	op := msg.(*EditOperation).Operation
	assert.Equal(t, models.EditReplace, op.Type)
	assert.Equal(t, "s1", op.SlideID)
	assert.True(t, op.Position.HasPoint())
	assert.False(t, op.Position.HasLine())
	assert.JSONEq(t, `{"text":"hi"}`, string(op.Content))
}

func TestDecodeCursorDefaultsToEmptyObject(t *testing.T) {
	msg, err := Decode(SurfaceCollaboration, []byte(`{"type":"cursor_update"}`))
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{}`), msg.(*CursorUpdate).Cursor)
}

func TestDecodeNotifications(t *testing.T) {
	msg, err := Decode(SurfaceNotifications, []byte(`{"type":"mark_read","notification_id":"n-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "n-1", msg.(*MarkRead).NotificationID)

	msg, err = Decode(SurfaceNotifications, []byte(`{"type":"unsubscribe_channel","channel":"team"}`))
	require.NoError(t, err)
	assert.Equal(t, "team", msg.(*UnsubscribeChannel).Channel)
}

func TestTypesPerSurface(t *testing.T) {
	assert.Equal(t, []string{"ping", "subscribe_job", "unsubscribe_job"}, Types(SurfaceGeneration))
	assert.Equal(t, []string{"mark_read", "ping", "subscribe_channel", "unsubscribe_channel"}, Types(SurfaceNotifications))
	assert.Len(t, Types(SurfaceCollaboration), 7)
	assert.Equal(t, "collaboration", SurfaceCollaboration.String())
}
