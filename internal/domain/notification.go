package domain

import "time"

type UnreadEntry struct {
	Key           ConversationKey `json:"-"`
	DisplayName   string          `json:"name"`
	Count         int             `json:"unread_count"`
	LastPreview   string          `json:"preview"`
	LastTimestamp time.Time       `json:"timestamp"`
}
