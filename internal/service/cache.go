package service

import (
	"time"

	"github.com/vedran77/pulsesync/internal/domain"
)

type cacheEntry struct {
	messages   []domain.Message
	nextCursor *string

	// opening is set while the first page is in flight. Live messages
	// received meanwhile are kept and merged after the page.
	opening      bool
	loadingOlder bool
}

func (e *cacheEntry) index(id string) int {
	for i := range e.messages {
		if e.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// MessageCache holds the messages of opened conversations, oldest first.
// Entries are sticky: once opened, only live events and backward pages
// change them.
type MessageCache struct {
	entries map[domain.ConversationKey]*cacheEntry
}

func NewMessageCache() *MessageCache {
	return &MessageCache{entries: make(map[domain.ConversationKey]*cacheEntry)}
}

// BeginOpen creates a loading entry and reports whether the first page
// should be fetched.
func (c *MessageCache) BeginOpen(key domain.ConversationKey) bool {
	if _, ok := c.entries[key]; ok {
		return false
	}
	c.entries[key] = &cacheEntry{opening: true}
	return true
}

// CompleteOpen installs the first page. Live messages that arrived while it
// was in flight follow the page, minus any the page already contains.
func (c *MessageCache) CompleteOpen(key domain.ConversationKey, page []domain.Message, next *string) bool {
	e, ok := c.entries[key]
	if !ok || !e.opening {
		return false
	}
	merged := make([]domain.Message, 0, len(page)+len(e.messages))
	ids := make(map[string]struct{}, len(page))
	for _, m := range page {
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range e.messages {
		if _, dup := ids[m.ID]; dup {
			continue
		}
		merged = append(merged, m)
	}
	e.messages = merged
	e.nextCursor = next
	e.opening = false
	return true
}

// FailOpen drops the loading entry so a later open retries.
func (c *MessageCache) FailOpen(key domain.ConversationKey) {
	if e, ok := c.entries[key]; ok && e.opening {
		delete(c.entries, key)
	}
}

// BeginLoadOlder returns the cursor to page from. It fails when nothing
// older remains or a load for key is already running.
func (c *MessageCache) BeginLoadOlder(key domain.ConversationKey) (string, bool) {
	e, ok := c.entries[key]
	if !ok || e.opening || e.loadingOlder || e.nextCursor == nil {
		return "", false
	}
	e.loadingOlder = true
	return *e.nextCursor, true
}

// CompleteLoadOlder prepends an older page. The tail is never touched and
// messages already cached are skipped.
func (c *MessageCache) CompleteLoadOlder(key domain.ConversationKey, page []domain.Message, next *string) bool {
	e, ok := c.entries[key]
	if !ok || !e.loadingOlder {
		return false
	}
	e.loadingOlder = false

	older := make([]domain.Message, 0, len(page)+len(e.messages))
	for _, m := range page {
		if e.index(m.ID) >= 0 {
			continue
		}
		older = append(older, m)
	}
	e.messages = append(older, e.messages...)
	e.nextCursor = next
	return true
}

func (c *MessageCache) FailLoadOlder(key domain.ConversationKey) {
	if e, ok := c.entries[key]; ok {
		e.loadingOlder = false
	}
}

// Append adds a live or optimistic message to the tail. Conversations never
// opened are skipped; their history is fetched on open.
func (c *MessageCache) Append(key domain.ConversationKey, msg domain.Message) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if msg.ID != "" && e.index(msg.ID) >= 0 {
		return false
	}
	e.messages = append(e.messages, msg)
	return true
}

// ReconcileAck rewrites the optimistic record in place. If the key is zero
// or wrong every entry is searched.
func (c *MessageCache) ReconcileAck(key domain.ConversationKey, tempID, newID string, at time.Time) bool {
	_, e, i := c.find(key, tempID)
	if e == nil {
		return false
	}
	if j := e.index(newID); j >= 0 && j != i {
		// The server copy is already here; drop the optimistic one.
		e.messages = append(e.messages[:i], e.messages[i+1:]...)
		return true
	}
	m := &e.messages[i]
	m.ID = newID
	if !at.IsZero() {
		m.Timestamp = domain.Timestamp{Time: at}
	}
	if m.Status == domain.StatusFailed {
		m.Status = domain.StatusSent
	}
	return true
}

// ApplyDeletion tombstones a message. Unprivileged viewers get the
// placeholder content. It returns the key the message was found under.
func (c *MessageCache) ApplyDeletion(key domain.ConversationKey, messageID string, privileged bool) (domain.ConversationKey, bool) {
	found, e, i := c.find(key, messageID)
	if e == nil {
		return domain.ConversationKey{}, false
	}
	m := &e.messages[i]
	m.IsDeleted = true
	if !privileged {
		m.Redact()
	}
	return found, true
}

// MarkReadBy marks self's messages in the private conversation with reader
// as read.
func (c *MessageCache) MarkReadBy(reader domain.ConversationKey, self domain.Identity) int {
	e, ok := c.entries[reader]
	if !ok {
		return 0
	}
	n := 0
	for i := range e.messages {
		m := &e.messages[i]
		if self.Is(m.Sender) && m.Status.Advances(domain.StatusRead) {
			m.Status = domain.StatusRead
			n++
		}
	}
	return n
}

// SetStatus moves one message forward. Statuses never go backwards.
func (c *MessageCache) SetStatus(messageID string, status domain.MessageStatus) bool {
	_, e, i := c.find(domain.ConversationKey{}, messageID)
	if e == nil {
		return false
	}
	m := &e.messages[i]
	if !m.Status.Advances(status) {
		return false
	}
	m.Status = status
	return true
}

func (c *MessageCache) MarkFailed(key domain.ConversationKey, tempID string) bool {
	_, e, i := c.find(key, tempID)
	if e == nil {
		return false
	}
	e.messages[i].Status = domain.StatusFailed
	return true
}

func (c *MessageCache) Messages(key domain.ConversationKey) ([]domain.Message, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return append([]domain.Message(nil), e.messages...), true
}

// LastID is the id of the newest cached message of key, or "".
func (c *MessageCache) LastID(key domain.ConversationKey) string {
	e, ok := c.entries[key]
	if !ok || len(e.messages) == 0 {
		return ""
	}
	return e.messages[len(e.messages)-1].ID
}

func (c *MessageCache) HasMore(key domain.ConversationKey) bool {
	e, ok := c.entries[key]
	return ok && e.nextCursor != nil
}

func (c *MessageCache) Loading(key domain.ConversationKey) bool {
	e, ok := c.entries[key]
	return ok && (e.opening || e.loadingOlder)
}

func (c *MessageCache) Len() int { return len(c.entries) }

func (c *MessageCache) Reset() {
	c.entries = make(map[domain.ConversationKey]*cacheEntry)
}

// find looks under key first, then everywhere.
func (c *MessageCache) find(key domain.ConversationKey, id string) (domain.ConversationKey, *cacheEntry, int) {
	if id == "" {
		return key, nil, -1
	}
	if e, ok := c.entries[key]; ok {
		if i := e.index(id); i >= 0 {
			return key, e, i
		}
	}
	for k, e := range c.entries {
		if k == key {
			continue
		}
		if i := e.index(id); i >= 0 {
			return k, e, i
		}
	}
	return key, nil, -1
}
