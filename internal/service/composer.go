package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/metrics"
	"github.com/vedran77/pulsesync/internal/transport/ws"
	"github.com/vedran77/pulsesync/pkg/validator"
)

type Sender interface {
	Send(v any) error
}

// Composer builds outbound frames. Sends are applied to the cache and the
// directory before they hit the wire.
type Composer struct {
	sender    Sender
	cache     *MessageCache
	directory *Directory
	metrics   *metrics.Metrics

	now      func() time.Time
	lastTemp int64
}

func NewComposer(sender Sender, cache *MessageCache, directory *Directory) *Composer {
	return &Composer{
		sender:    sender,
		cache:     cache,
		directory: directory,
		now:       time.Now,
	}
}

func (c *Composer) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// nextTempID returns temp-<unix millis>, bumped so ids strictly increase
// even within one millisecond.
func (c *Composer) nextTempID() string {
	ms := c.now().UnixMilli()
	if ms <= c.lastTemp {
		ms = c.lastTemp + 1
	}
	c.lastTemp = ms
	return fmt.Sprintf("%s%d", domain.TempIDPrefix, ms)
}

// SendMessage inserts an optimistic message and transmits it. When the
// transmission fails the optimistic record is marked failed and the error
// is returned along with it.
func (c *Composer) SendMessage(self domain.Identity, key domain.ConversationKey, content domain.Content) (*domain.Message, error) {
	if errs := validator.ValidateContent(content); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, errs)
	}
	summary, ok := c.directory.Get(key)
	if !ok {
		return nil, ErrUnknownConversation
	}
	if key.IsGroup() && !summary.MemberActive {
		return nil, ErrNotMember
	}

	msg := domain.Message{
		ID:        c.nextTempID(),
		Type:      key.MessageType(),
		Sender:    self.Participant(),
		Content:   content,
		Timestamp: domain.Timestamp{Time: c.now()},
		Status:    domain.StatusSent,
	}
	if key.IsGroup() {
		msg.Group = &domain.GroupRef{ID: key.ID, Name: summary.DisplayName}
	} else {
		msg.Receiver = &domain.Participant{ID: key.ID, Role: domain.Role(key.Kind), Username: summary.DisplayName}
	}

	c.cache.Append(key, msg)
	c.directory.Touch(key, summary.DisplayName, &msg)

	err := c.sender.Send(ws.NewSendMessage(msg.ID, key, summary.DisplayName, content))
	c.metrics.Send(ws.EventNewMessage, err)
	if err != nil {
		c.cache.MarkFailed(key, msg.ID)
		msg.Status = domain.StatusFailed
		return &msg, fmt.Errorf("sending message: %w", err)
	}
	return &msg, nil
}

// DeleteMessage asks the server to delete a message. The server's
// message_deleted echo drives the local tombstone.
func (c *Composer) DeleteMessage(messageID string) error {
	if messageID == "" {
		return errors.New("message id is required")
	}
	if strings.HasPrefix(messageID, domain.TempIDPrefix) {
		return ErrTemporaryMessage
	}
	err := c.sender.Send(ws.NewDeleteMessage(messageID))
	c.metrics.Send(ws.EventDeleteMessage, err)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

func (c *Composer) MarkRead(key domain.ConversationKey) error {
	err := c.sender.Send(ws.NewMessagesRead(key))
	c.metrics.Send(ws.EventMessagesRead, err)
	if err != nil {
		return fmt.Errorf("marking %s read: %w", key, err)
	}
	return nil
}
