package service

import (
	"sort"
	"time"

	"github.com/vedran77/pulsesync/internal/domain"
)

// Directory is the ordered conversation list. Pinned summaries always come
// first; within each partition the most recently active leads.
type Directory struct {
	items []domain.ConversationSummary

	// pinSet marks keys whose pin state changed locally after the snapshot
	// was requested.
	pinSet map[domain.ConversationKey]bool
}

func NewDirectory() *Directory {
	return &Directory{pinSet: make(map[domain.ConversationKey]bool)}
}

// Adopt merges the REST list by key. Local preview data wins when it is
// newer than the snapshot's.
func (d *Directory) Adopt(snapshot []domain.ConversationSummary) {
	for _, in := range snapshot {
		i := d.index(in.Key)
		if i < 0 {
			d.items = append(d.items, in)
			continue
		}
		cur := &d.items[i]
		if !d.pinSet[in.Key] {
			cur.Pinned = in.Pinned
		}
		if in.FullName != nil {
			cur.FullName = in.FullName
		}
		if cur.DisplayName == "" {
			cur.DisplayName = in.DisplayName
		}
		if in.LastMessageAt.After(cur.LastMessageAt) {
			cur.LastMessagePreview = in.LastMessagePreview
			cur.LastMessageAt = in.LastMessageAt
			cur.LastMessageDeleted = in.LastMessageDeleted
			if in.LastMessageID != "" {
				cur.LastMessageID = in.LastMessageID
			}
		}
	}
	sort.SliceStable(d.items, func(i, j int) bool {
		a, b := d.items[i], d.items[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		return a.LastMessageAt.After(b.LastMessageAt)
	})
}

// Touch records message activity on key, creating the summary if needed,
// and moves it to the front of its partition.
func (d *Directory) Touch(key domain.ConversationKey, name string, msg *domain.Message) {
	i := d.index(key)
	var s domain.ConversationSummary
	if i >= 0 {
		s = d.items[i]
		d.remove(i)
	} else {
		s = domain.ConversationSummary{Key: key, DisplayName: name, MemberActive: true}
	}
	if s.DisplayName == "" {
		s.DisplayName = name
	}
	s.LastMessagePreview = msg.Preview()
	s.LastMessageID = msg.ID
	s.LastMessageDeleted = msg.IsDeleted
	if !msg.Timestamp.IsZero() {
		s.LastMessageAt = msg.Timestamp.Time
	}
	d.insertFront(s)
}

// AddPlaceholder inserts an empty summary for a conversation picked from
// search. An existing summary is returned unchanged.
func (d *Directory) AddPlaceholder(s domain.ConversationSummary, now time.Time) domain.ConversationSummary {
	if i := d.index(s.Key); i >= 0 {
		return d.items[i]
	}
	s.LastMessagePreview = ""
	s.LastMessageID = ""
	s.LastMessageDeleted = false
	s.LastMessageAt = now
	s.Pinned = false
	s.MemberActive = true
	d.insertFront(s)
	return s
}

// ReconcileAck rewrites the last message id when it still points at the
// optimistic record. A zero key searches every summary.
func (d *Directory) ReconcileAck(key domain.ConversationKey, tempID, newID string, at time.Time) bool {
	for i := range d.items {
		s := &d.items[i]
		if !key.IsZero() && s.Key != key {
			continue
		}
		if s.LastMessageID == tempID {
			s.LastMessageID = newID
			if !at.IsZero() {
				s.LastMessageAt = at
			}
			return true
		}
	}
	return false
}

// ApplyDeletion flips the preview when the deleted message is the last one.
func (d *Directory) ApplyDeletion(key domain.ConversationKey, messageID string) bool {
	for i := range d.items {
		s := &d.items[i]
		if !key.IsZero() && s.Key != key {
			continue
		}
		if s.LastMessageID != "" && s.LastMessageID == messageID {
			s.LastMessageDeleted = true
			s.LastMessagePreview = domain.DeletedPlaceholder
			return true
		}
	}
	return false
}

// FillLastMessageID records the id of the newest message when the summary
// has none. Snapshot summaries never carry one.
func (d *Directory) FillLastMessageID(key domain.ConversationKey, id string) bool {
	i := d.index(key)
	if i < 0 || id == "" || d.items[i].LastMessageID != "" {
		return false
	}
	d.items[i].LastMessageID = id
	return true
}

// MarkLastDeleted flips the preview of key to the deletion placeholder.
func (d *Directory) MarkLastDeleted(key domain.ConversationKey) bool {
	i := d.index(key)
	if i < 0 {
		return false
	}
	d.items[i].LastMessageDeleted = true
	d.items[i].LastMessagePreview = domain.DeletedPlaceholder
	return true
}

// SetPinned moves key between partitions, placing it by recency inside the
// target partition. Preview data is untouched.
func (d *Directory) SetPinned(key domain.ConversationKey, pinned bool) error {
	i := d.index(key)
	if i < 0 {
		return ErrUnknownConversation
	}
	d.pinSet[key] = true
	s := d.items[i]
	if s.Pinned == pinned {
		return nil
	}
	d.remove(i)
	s.Pinned = pinned

	lo, hi := d.partition(pinned)
	at := hi
	for j := lo; j < hi; j++ {
		if s.LastMessageAt.After(d.items[j].LastMessageAt) {
			at = j
			break
		}
	}
	d.insert(at, s)
	return nil
}

// MarkRemoved flags a group the user was removed from.
func (d *Directory) MarkRemoved(key domain.ConversationKey) bool {
	i := d.index(key)
	if i < 0 {
		return false
	}
	d.items[i].MemberActive = false
	return true
}

func (d *Directory) Get(key domain.ConversationKey) (domain.ConversationSummary, bool) {
	if i := d.index(key); i >= 0 {
		return d.items[i], true
	}
	return domain.ConversationSummary{}, false
}

func (d *Directory) List() []domain.ConversationSummary {
	return append([]domain.ConversationSummary(nil), d.items...)
}

func (d *Directory) Len() int { return len(d.items) }

func (d *Directory) Reset() {
	d.items = nil
	d.pinSet = make(map[domain.ConversationKey]bool)
}

func (d *Directory) index(key domain.ConversationKey) int {
	for i := range d.items {
		if d.items[i].Key == key {
			return i
		}
	}
	return -1
}

// partition returns the [lo, hi) bounds of the pinned or unpinned run.
func (d *Directory) partition(pinned bool) (int, int) {
	n := 0
	for n < len(d.items) && d.items[n].Pinned {
		n++
	}
	if pinned {
		return 0, n
	}
	return n, len(d.items)
}

func (d *Directory) insertFront(s domain.ConversationSummary) {
	lo, _ := d.partition(s.Pinned)
	d.insert(lo, s)
}

func (d *Directory) insert(at int, s domain.ConversationSummary) {
	d.items = append(d.items, domain.ConversationSummary{})
	copy(d.items[at+1:], d.items[at:])
	d.items[at] = s
}

func (d *Directory) remove(i int) {
	d.items = append(d.items[:i], d.items[i+1:]...)
}
