package repository

import (
	"context"
	"time"

	"github.com/vedran77/pulsesync/internal/domain"
)

// ArchiveRepository keeps a local copy of every message the session saw.
// owner is the canonical key of the local identity so several accounts can
// share one database.
type ArchiveRepository interface {
	Save(ctx context.Context, owner string, key domain.ConversationKey, msg *domain.Message) error
	RewriteID(ctx context.Context, owner, tempID, newID string, at time.Time) error
	MarkDeleted(ctx context.Context, owner, messageID string, redact bool) error
	SetStatus(ctx context.Context, owner, messageID string, status domain.MessageStatus) error
	ListRecent(ctx context.Context, owner string, key domain.ConversationKey, before *time.Time, limit int) ([]domain.Message, error)
}
