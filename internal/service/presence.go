package service

import (
	"time"

	"github.com/vedran77/pulsesync/internal/domain"
)

// PresenceTable tracks counterparties' online status. It trusts the server
// completely; there is no staleness detection.
type PresenceTable struct {
	entries map[domain.ConversationKey]domain.PresenceEntry
}

func NewPresenceTable() *PresenceTable {
	return &PresenceTable{entries: make(map[domain.ConversationKey]domain.PresenceEntry)}
}

// Bulk adopts a full snapshot only while the table is empty. Live updates
// that arrived first are newer than any snapshot.
func (p *PresenceTable) Bulk(snapshot map[domain.ConversationKey]domain.PresenceEntry) bool {
	if len(p.entries) > 0 {
		return false
	}
	for key, entry := range snapshot {
		p.entries[key] = normalizePresence(entry)
	}
	return true
}

// Update upserts one key regardless of snapshot state.
func (p *PresenceTable) Update(key domain.ConversationKey, status domain.PresenceStatus, at time.Time) {
	entry := domain.PresenceEntry{Status: status}
	if status == domain.Offline {
		if at.IsZero() {
			at = time.Now()
		}
		entry.LastSeen = &at
	}
	p.entries[key] = normalizePresence(entry)
}

func (p *PresenceTable) Lookup(key domain.ConversationKey) (domain.PresenceEntry, bool) {
	e, ok := p.entries[key]
	return e, ok
}

func (p *PresenceTable) Len() int { return len(p.entries) }

func (p *PresenceTable) Reset() {
	p.entries = make(map[domain.ConversationKey]domain.PresenceEntry)
}

func normalizePresence(e domain.PresenceEntry) domain.PresenceEntry {
	if e.Status != domain.Online {
		e.Status = domain.Offline
		return e
	}
	e.LastSeen = nil
	return e
}
