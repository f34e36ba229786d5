package domain

import "time"

type PresenceStatus string

const (
	Online  PresenceStatus = "online"
	Offline PresenceStatus = "offline"
)

// PresenceEntry is the last known status of a counterparty. LastSeen is only
// meaningful while offline.
type PresenceEntry struct {
	Status   PresenceStatus `json:"status"`
	LastSeen *time.Time     `json:"lastSeen"`
}
