package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidKey = errors.New("invalid conversation key")

type Kind string

const (
	KindUser  Kind = "user"
	KindAdmin Kind = "admin"
	KindGroup Kind = "group"
)

func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindAdmin, KindGroup:
		return true
	}
	return false
}

// ConversationKey identifies a private or group conversation from the local
// identity's point of view. Private conversations are keyed by the other party.
type ConversationKey struct {
	Kind Kind
	ID   int64
}

func (k ConversationKey) String() string {
	return fmt.Sprintf("%s-%d", k.Kind, k.ID)
}

func (k ConversationKey) IsGroup() bool {
	return k.Kind == KindGroup
}

func (k ConversationKey) IsZero() bool {
	return k.Kind == "" && k.ID == 0
}

// MessageType returns the wire message type used for this conversation.
func (k ConversationKey) MessageType() MessageType {
	if k.IsGroup() {
		return MessageTypeGroup
	}
	return MessageTypePrivate
}

// ParseConversationKey parses the canonical "{kind}-{id}" form.
func ParseConversationKey(s string) (ConversationKey, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return ConversationKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return ConversationKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	key := ConversationKey{Kind: Kind(kind), ID: n}
	if !key.Kind.Valid() {
		return ConversationKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return key, nil
}

type ConversationSummary struct {
	Key                ConversationKey `json:"-"`
	DisplayName        string          `json:"name"`
	FullName           *string         `json:"full_name,omitempty"`
	LastMessagePreview string          `json:"last_message"`
	LastMessageID      string          `json:"last_message_id,omitempty"`
	LastMessageAt      time.Time       `json:"timestamp"`
	LastMessageDeleted bool            `json:"last_message_deleted"`
	Pinned             bool            `json:"is_pinned"`
	MemberActive       bool            `json:"is_member_active"`
}

// Title prefers the full name when the server provided one.
func (s ConversationSummary) Title() string {
	if s.FullName != nil && *s.FullName != "" {
		return *s.FullName
	}
	return s.DisplayName
}
