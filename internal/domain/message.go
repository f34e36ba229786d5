package domain

import (
	"strings"
)

type MessageType string

const (
	MessageTypePrivate MessageType = "private"
	MessageTypeGroup   MessageType = "group"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// NormalizeStatus maps server spellings onto the local status set.
func NormalizeStatus(s string) MessageStatus {
	switch strings.ToLower(s) {
	case "received", "delivered":
		return StatusDelivered
	case "read":
		return StatusRead
	case "failed":
		return StatusFailed
	default:
		return StatusSent
	}
}

func (s MessageStatus) rank() int {
	switch s {
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return 0
	}
}

// Advances reports whether moving from s to next is a forward transition.
// Failed messages only leave that state through a resend.
func (s MessageStatus) Advances(next MessageStatus) bool {
	if s == StatusFailed || next == StatusFailed {
		return false
	}
	return next.rank() > s.rank()
}

const (
	DeletedPlaceholder = "This message was deleted"
	TempIDPrefix       = "temp-"
)

type Participant struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
	Role     Role   `json:"role"`
}

func (p Participant) Key() ConversationKey {
	return ConversationKey{Kind: Kind(p.Role), ID: p.ID}
}

type GroupRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Content struct {
	Text  *string `json:"text"`
	Image *string `json:"image"`
	File  *string `json:"file"`
}

func TextContent(s string) Content {
	return Content{Text: &s}
}

func (c Content) text() string {
	if c.Text == nil {
		return ""
	}
	return strings.TrimSpace(*c.Text)
}

func (c Content) HasImage() bool { return c.Image != nil && *c.Image != "" }
func (c Content) HasFile() bool  { return c.File != nil && *c.File != "" }

func (c Content) IsEmpty() bool {
	return c.text() == "" && !c.HasImage() && !c.HasFile()
}

// Preview is the one-line summary shown in conversation lists and badges.
func (c Content) Preview() string {
	if t := c.text(); t != "" {
		return t
	}
	if c.HasImage() {
		return "[Image]"
	}
	if c.HasFile() {
		return "[File]"
	}
	return ""
}

type Message struct {
	ID        string        `json:"_id"`
	Type      MessageType   `json:"type"`
	Sender    Participant   `json:"sender"`
	Receiver  *Participant  `json:"receiver,omitempty"`
	Group     *GroupRef     `json:"group,omitempty"`
	Content   Content       `json:"content"`
	Timestamp Timestamp     `json:"timestamp"`
	Status    MessageStatus `json:"status,omitempty"`
	IsDeleted bool          `json:"is_deleted"`
}

func (m *Message) IsTemporary() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Key resolves the conversation the message belongs to, seen from self.
// For private messages that is whichever party is not self.
func (m *Message) Key(self Identity) ConversationKey {
	if m.Type == MessageTypeGroup && m.Group != nil {
		return ConversationKey{Kind: KindGroup, ID: m.Group.ID}
	}
	if self.Is(m.Sender) && m.Receiver != nil {
		return m.Receiver.Key()
	}
	return m.Sender.Key()
}

// CounterpartyName is the display name of the conversation the message belongs to.
func (m *Message) CounterpartyName(self Identity) string {
	if m.Type == MessageTypeGroup && m.Group != nil {
		return m.Group.Name
	}
	if self.Is(m.Sender) && m.Receiver != nil {
		return m.Receiver.Username
	}
	return m.Sender.Username
}

func (m *Message) Preview() string {
	if m.IsDeleted {
		return DeletedPlaceholder
	}
	return m.Content.Preview()
}

// Redact replaces the content with the deletion placeholder.
func (m *Message) Redact() {
	placeholder := DeletedPlaceholder
	m.Content = Content{Text: &placeholder}
}
