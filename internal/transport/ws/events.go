package ws

import (
	"encoding/json"
	"fmt"

	"github.com/vedran77/pulsesync/internal/domain"
)

// Event names - Server → Client
const (
	EventNewMessage           = "new_message"
	EventMessageAcknowledged  = "message_acknowledged"
	EventMessageDeleted       = "message_deleted"
	EventMessagesStatusUpdate = "messages_status_update"
	EventStatusUpdate         = "status_update"
	EventPresenceUpdate       = "presence_update"
	EventInitialPresenceState = "initial_presence_state"
	EventForceLogout          = "force_logout"
	EventMemberRemoved        = "member_removed"
)

// Event names - Client → Server
const (
	EventDeleteMessage = "delete_message"
	EventMessagesRead  = "messages_read"
)

// Event is a decoded inbound frame. Consumers switch on the concrete type.
type Event interface {
	Name() string
}

// ConversationRef is the server's compact conversation pointer. Private
// conversations carry the counterparty role in either field.
type ConversationRef struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
	Role string `json:"role,omitempty"`
}

func (r *ConversationRef) Key() domain.ConversationKey {
	if r == nil {
		return domain.ConversationKey{}
	}
	if r.Type == string(domain.KindGroup) {
		return domain.ConversationKey{Kind: domain.KindGroup, ID: r.ID}
	}
	if r.Role != "" {
		return domain.ConversationKey{Kind: domain.Kind(r.Role), ID: r.ID}
	}
	return domain.ConversationKey{Kind: domain.Kind(r.Type), ID: r.ID}
}

// --- Server → Client payloads ---

type NewMessage struct {
	Message domain.Message
}

type MessageAcknowledged struct {
	TempID       string           `json:"temp_id"`
	NewID        string           `json:"new_id"`
	Conversation *ConversationRef `json:"conversation,omitempty"`
	Timestamp    domain.Timestamp `json:"timestamp"`
}

type MessageDeleted struct {
	MessageID    string           `json:"message_id"`
	Conversation *ConversationRef `json:"conversation,omitempty"`
}

type MessagesStatusUpdate struct {
	Reader domain.Participant `json:"reader"`
}

type StatusUpdate struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type PresenceUpdate struct {
	User      domain.Participant    `json:"user"`
	Status    domain.PresenceStatus `json:"status"`
	Timestamp domain.Timestamp      `json:"timestamp"`
}

type PresenceSnapshot struct {
	Status   domain.PresenceStatus `json:"status"`
	LastSeen domain.Timestamp      `json:"lastSeen"`
}

// InitialPresenceState maps "{role}-{id}" keys to the counterparty's status.
type InitialPresenceState struct {
	Users map[string]PresenceSnapshot `json:"users"`
}

type ForceLogout struct {
	Reason string `json:"reason"`
}

type MemberRemoved struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// Unknown carries frames with an event name this client does not handle.
type Unknown struct {
	Event string
	Raw   json.RawMessage
}

func (NewMessage) Name() string           { return EventNewMessage }
func (MessageAcknowledged) Name() string  { return EventMessageAcknowledged }
func (MessageDeleted) Name() string       { return EventMessageDeleted }
func (MessagesStatusUpdate) Name() string { return EventMessagesStatusUpdate }
func (StatusUpdate) Name() string         { return EventStatusUpdate }
func (PresenceUpdate) Name() string       { return EventPresenceUpdate }
func (InitialPresenceState) Name() string { return EventInitialPresenceState }
func (ForceLogout) Name() string          { return EventForceLogout }
func (MemberRemoved) Name() string        { return EventMemberRemoved }
func (u Unknown) Name() string            { return u.Event }

// Decode turns one frame into a typed event. Chat messages are relayed
// verbatim by the server, so a frame without an event name whose type is
// private or group is a new message.
func Decode(data []byte) (Event, error) {
	var probe struct {
		Event string `json:"event"`
		Type  string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	name := probe.Event
	if name == "" {
		switch domain.MessageType(probe.Type) {
		case domain.MessageTypePrivate, domain.MessageTypeGroup:
			name = EventNewMessage
		}
	}

	var (
		evt Event
		err error
	)
	switch name {
	case EventNewMessage:
		var m domain.Message
		err = json.Unmarshal(data, &m)
		m.Status = domain.NormalizeStatus(string(m.Status))
		evt = NewMessage{Message: m}
	case EventMessageAcknowledged:
		evt, err = decodeInto[MessageAcknowledged](data)
	case EventMessageDeleted:
		evt, err = decodeInto[MessageDeleted](data)
	case EventMessagesStatusUpdate:
		evt, err = decodeInto[MessagesStatusUpdate](data)
	case EventStatusUpdate:
		evt, err = decodeInto[StatusUpdate](data)
	case EventPresenceUpdate:
		evt, err = decodeInto[PresenceUpdate](data)
	case EventInitialPresenceState:
		evt, err = decodeInto[InitialPresenceState](data)
	case EventForceLogout:
		evt, err = decodeInto[ForceLogout](data)
	case EventMemberRemoved:
		evt, err = decodeInto[MemberRemoved](data)
	case "":
		return nil, fmt.Errorf("decoding frame: missing event name")
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Event: name, Raw: raw}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return evt, nil
}

func decodeInto[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// --- Client → Server payloads ---

// SendMessagePayload carries the temporary id twice: servers echo either
// _id or temp_id back in the acknowledgment.
type SendMessagePayload struct {
	Event    string              `json:"event"`
	ID       string              `json:"_id"`
	TempID   string              `json:"temp_id"`
	Type     domain.MessageType  `json:"type"`
	Content  domain.Content      `json:"content"`
	Receiver *domain.Participant `json:"receiver,omitempty"`
	Group    *domain.GroupRef    `json:"group,omitempty"`
}

type DeleteMessagePayload struct {
	Event     string `json:"event"`
	MessageID string `json:"message_id"`
}

type PartnerRef struct {
	ID   int64       `json:"id"`
	Role domain.Role `json:"role"`
}

type MessagesReadPayload struct {
	Event   string      `json:"event"`
	Partner *PartnerRef `json:"partner,omitempty"`
	GroupID *int64      `json:"group_id,omitempty"`
}

// NewSendMessage addresses a message to a private counterparty or a group.
func NewSendMessage(tempID string, target domain.ConversationKey, targetName string, content domain.Content) SendMessagePayload {
	p := SendMessagePayload{
		Event:   EventNewMessage,
		ID:      tempID,
		TempID:  tempID,
		Type:    target.MessageType(),
		Content: content,
	}
	if target.IsGroup() {
		p.Group = &domain.GroupRef{ID: target.ID, Name: targetName}
	} else {
		p.Receiver = &domain.Participant{ID: target.ID, Role: domain.Role(target.Kind), Username: targetName}
	}
	return p
}

func NewDeleteMessage(messageID string) DeleteMessagePayload {
	return DeleteMessagePayload{Event: EventDeleteMessage, MessageID: messageID}
}

func NewMessagesRead(key domain.ConversationKey) MessagesReadPayload {
	p := MessagesReadPayload{Event: EventMessagesRead}
	if key.IsGroup() {
		id := key.ID
		p.GroupID = &id
	} else {
		p.Partner = &PartnerRef{ID: key.ID, Role: domain.Role(key.Kind)}
	}
	return p
}
