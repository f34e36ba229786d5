package service

import (
	"sort"

	"github.com/vedran77/pulsesync/internal/domain"
)

// ReadMarker tells the server a conversation has been read.
type ReadMarker interface {
	MarkRead(key domain.ConversationKey) error
}

type liveTouch int

const (
	touchIncrement liveTouch = iota + 1
	touchCleared
)

// UnreadLedger keeps per-conversation unread counts and the active/visible
// state that decides whether an inbound message is read instantly.
type UnreadLedger struct {
	entries map[domain.ConversationKey]*domain.UnreadEntry
	touched map[domain.ConversationKey]liveTouch
	seen    *seenSet
	marker  ReadMarker

	active  domain.ConversationKey
	visible bool
}

func NewUnreadLedger(seenCapacity int, marker ReadMarker) *UnreadLedger {
	return &UnreadLedger{
		entries: make(map[domain.ConversationKey]*domain.UnreadEntry),
		touched: make(map[domain.ConversationKey]liveTouch),
		seen:    newSeenSet(seenCapacity),
		marker:  marker,
		visible: true,
	}
}

// Observe records a message id and reports whether it is the first delivery.
// Messages without an id are always treated as new.
func (l *UnreadLedger) Observe(messageID string) bool {
	if messageID == "" {
		return true
	}
	return l.seen.Add(messageID)
}

// Adopt merges the session-start snapshot. Keys that live events already
// touched keep their state: cleared keys stay at zero, incremented keys keep
// the larger count.
func (l *UnreadLedger) Adopt(snapshot []domain.UnreadEntry) error {
	for _, in := range snapshot {
		if in.Count < 0 {
			in.Count = 0
		}
		cur, exists := l.entries[in.Key]
		switch l.touched[in.Key] {
		case touchCleared:
			continue
		case touchIncrement:
			if exists {
				if in.Count > cur.Count {
					cur.Count = in.Count
				}
				if in.LastTimestamp.After(cur.LastTimestamp) {
					cur.LastPreview = in.LastPreview
					cur.LastTimestamp = in.LastTimestamp
				}
				if cur.DisplayName == "" {
					cur.DisplayName = in.DisplayName
				}
				continue
			}
		}
		entry := in
		l.entries[in.Key] = &entry
	}

	if l.readsInstantly(l.active) && l.Count(l.active) > 0 {
		return l.clear(l.active)
	}
	return nil
}

// OnInbound applies a message from someone else. It returns true when the
// message was read instantly instead of counted.
func (l *UnreadLedger) OnInbound(key domain.ConversationKey, name string, msg *domain.Message) (bool, error) {
	if l.readsInstantly(key) {
		return true, l.marker.MarkRead(key)
	}

	e := l.entry(key, name)
	e.Count++
	e.LastPreview = msg.Preview()
	if !msg.Timestamp.IsZero() {
		e.LastTimestamp = msg.Timestamp.Time
	}
	l.touched[key] = touchIncrement
	return false, nil
}

// Clear zeroes key locally and tells the server. The local reset happens even
// when the send fails.
func (l *UnreadLedger) Clear(key domain.ConversationKey) error {
	return l.clear(key)
}

func (l *UnreadLedger) clear(key domain.ConversationKey) error {
	if e, ok := l.entries[key]; ok {
		e.Count = 0
	}
	l.touched[key] = touchCleared
	return l.marker.MarkRead(key)
}

// SetActive changes the foreground conversation. A zero key means none and
// never clears anything.
func (l *UnreadLedger) SetActive(key domain.ConversationKey) {
	l.active = key
}

func (l *UnreadLedger) Active() domain.ConversationKey { return l.active }

// SetVisible records viewport visibility. Becoming visible with unread
// messages in the active conversation reads them.
func (l *UnreadLedger) SetVisible(visible bool) error {
	was := l.visible
	l.visible = visible
	if !was && visible && !l.active.IsZero() && l.Count(l.active) > 0 {
		return l.clear(l.active)
	}
	return nil
}

func (l *UnreadLedger) Visible() bool { return l.visible }

func (l *UnreadLedger) Count(key domain.ConversationKey) int {
	if e, ok := l.entries[key]; ok {
		return e.Count
	}
	return 0
}

func (l *UnreadLedger) Total() int {
	total := 0
	for _, e := range l.entries {
		total += e.Count
	}
	return total
}

// Entries returns a copy ordered by most recent message first.
func (l *UnreadLedger) Entries() []domain.UnreadEntry {
	out := make([]domain.UnreadEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastTimestamp.Equal(out[j].LastTimestamp) {
			return out[i].LastTimestamp.After(out[j].LastTimestamp)
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Reset forgets everything except visibility, which belongs to the viewport.
func (l *UnreadLedger) Reset() {
	l.entries = make(map[domain.ConversationKey]*domain.UnreadEntry)
	l.touched = make(map[domain.ConversationKey]liveTouch)
	l.seen = newSeenSet(len(l.seen.ring))
	l.active = domain.ConversationKey{}
}

func (l *UnreadLedger) readsInstantly(key domain.ConversationKey) bool {
	return l.visible && !l.active.IsZero() && key == l.active
}

func (l *UnreadLedger) entry(key domain.ConversationKey, name string) *domain.UnreadEntry {
	e, ok := l.entries[key]
	if !ok {
		e = &domain.UnreadEntry{Key: key}
		l.entries[key] = e
	}
	if name != "" {
		e.DisplayName = name
	}
	return e
}
