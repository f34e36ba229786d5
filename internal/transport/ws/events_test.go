package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedran77/pulsesync/internal/domain"
)

func TestDecodeRelayedMessageWithoutEventName(t *testing.T) {
	frame := `{"_id":"m1","type":"private","sender":{"id":42,"role":"user","username":"ana"},
		"receiver":{"id":7,"role":"user","username":"me"},"content":{"text":"hi","image":null,"file":null},
		"timestamp":"2024-05-01T10:00:00+05:30","status":"sent","is_deleted":false}`

	evt, err := Decode([]byte(frame))
	require.NoError(t, err)

	nm, ok := evt.(NewMessage)
	require.True(t, ok, "got %T", evt)
	assert.Equal(t, "m1", nm.Message.ID)
	assert.Equal(t, domain.MessageTypePrivate, nm.Message.Type)
	assert.Equal(t, int64(42), nm.Message.Sender.ID)
	require.NotNil(t, nm.Message.Content.Text)
	assert.Equal(t, "hi", *nm.Message.Content.Text)
	assert.False(t, nm.Message.Timestamp.IsZero())
}

func TestDecodeNaiveTimestamp(t *testing.T) {
	evt, err := Decode([]byte(`{"type":"group","_id":"g1","group":{"id":3,"name":"ops"},
		"sender":{"id":1,"role":"admin"},"content":{"text":"x"},"timestamp":"2024-05-01T10:00:00.123456"}`))
	require.NoError(t, err)
	nm := evt.(NewMessage)
	assert.Equal(t, 2024, nm.Message.Timestamp.Year())
	assert.Equal(t, "UTC", nm.Message.Timestamp.Location().String())
}

func TestDecodeTaggedEvents(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, evt Event)
	}{
		{
			name:  "ack",
			frame: `{"event":"message_acknowledged","temp_id":"temp-1","new_id":"m123","conversation":{"id":42,"role":"user"},"timestamp":"2024-05-01T10:00:00Z"}`,
			check: func(t *testing.T, evt Event) {
				ack := evt.(MessageAcknowledged)
				assert.Equal(t, "temp-1", ack.TempID)
				assert.Equal(t, "m123", ack.NewID)
				assert.Equal(t, "user-42", ack.Conversation.Key().String())
			},
		},
		{
			name:  "deleted without conversation",
			frame: `{"event":"message_deleted","message_id":"m5"}`,
			check: func(t *testing.T, evt Event) {
				del := evt.(MessageDeleted)
				assert.Equal(t, "m5", del.MessageID)
				assert.Nil(t, del.Conversation)
				assert.True(t, del.Conversation.Key().IsZero())
			},
		},
		{
			name:  "presence snapshot",
			frame: `{"event":"initial_presence_state","users":{"user-2":{"status":"offline","lastSeen":"2024-05-01T09:00:00Z"},"admin-1":{"status":"online","lastSeen":null}}}`,
			check: func(t *testing.T, evt Event) {
				ps := evt.(InitialPresenceState)
				require.Len(t, ps.Users, 2)
				assert.Equal(t, domain.Offline, ps.Users["user-2"].Status)
				assert.True(t, ps.Users["admin-1"].LastSeen.IsZero())
			},
		},
		{
			name:  "force logout",
			frame: `{"event":"force_logout","reason":"Your account has been deactivated by the administrator."}`,
			check: func(t *testing.T, evt Event) {
				assert.Equal(t, "Your account has been deactivated by the administrator.", evt.(ForceLogout).Reason)
			},
		},
		{
			name:  "member removed keeps event name over type",
			frame: `{"event":"member_removed","type":"group","id":9}`,
			check: func(t *testing.T, evt Event) {
				assert.Equal(t, MemberRemoved{Type: "group", ID: 9}, evt)
			},
		},
		{
			name:  "status update",
			frame: `{"event":"status_update","message_id":"m1","status":"received"}`,
			check: func(t *testing.T, evt Event) {
				assert.Equal(t, StatusUpdate{MessageID: "m1", Status: "received"}, evt)
			},
		},
		{
			name:  "unknown",
			frame: `{"event":"typing","who":1}`,
			check: func(t *testing.T, evt Event) {
				assert.Equal(t, "typing", evt.Name())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			tt.check(t, evt)
		})
	}
}

func TestDecodeRejectsUnnamedFrames(t *testing.T) {
	_, err := Decode([]byte(`{"hello":"world"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestOutboundPayloadShapes(t *testing.T) {
	send := NewSendMessage("temp-5", domain.ConversationKey{Kind: domain.KindUser, ID: 42}, "ana", domain.TextContent("hello"))
	data, err := json.Marshal(send)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"new_message","_id":"temp-5","temp_id":"temp-5","type":"private",
		"content":{"text":"hello","image":null,"file":null},
		"receiver":{"id":42,"role":"user","username":"ana"}}`, string(data))

	group := NewSendMessage("temp-6", domain.ConversationKey{Kind: domain.KindGroup, ID: 3}, "ops", domain.TextContent("yo"))
	data, err = json.Marshal(group)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"new_message","_id":"temp-6","temp_id":"temp-6","type":"group",
		"content":{"text":"yo","image":null,"file":null},"group":{"id":3,"name":"ops"}}`, string(data))

	data, err = json.Marshal(NewMessagesRead(domain.ConversationKey{Kind: domain.KindUser, ID: 42}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"messages_read","partner":{"id":42,"role":"user"}}`, string(data))

	data, err = json.Marshal(NewMessagesRead(domain.ConversationKey{Kind: domain.KindGroup, ID: 3}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"messages_read","group_id":3}`, string(data))

	data, err = json.Marshal(NewDeleteMessage("m5"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"delete_message","message_id":"m5"}`, string(data))
}
