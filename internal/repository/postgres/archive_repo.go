package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/pulsesync/internal/domain"
)

type ArchiveRepo struct {
	pool *pgxpool.Pool
}

func NewArchiveRepo(pool *pgxpool.Pool) *ArchiveRepo {
	return &ArchiveRepo{pool: pool}
}

// Save inserts a message, or refreshes the mutable columns when the same
// owner already archived it.
func (r *ArchiveRepo) Save(ctx context.Context, owner string, key domain.ConversationKey, msg *domain.Message) error {
	query := `
		INSERT INTO archived_messages (row_id, owner_key, conversation_key, message_id, type,
			sender_id, sender_role, sender_username, text, image, file, status, is_deleted, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (owner_key, message_id) DO UPDATE
		SET status = EXCLUDED.status, is_deleted = EXCLUDED.is_deleted,
			text = EXCLUDED.text, image = EXCLUDED.image, file = EXCLUDED.file`
	_, err := r.pool.Exec(ctx, query,
		uuid.New(), owner, key.String(), msg.ID, string(msg.Type),
		msg.Sender.ID, string(msg.Sender.Role), msg.Sender.Username,
		msg.Content.Text, msg.Content.Image, msg.Content.File,
		string(msg.Status), msg.IsDeleted, msg.Timestamp.Time,
	)
	return err
}

func (r *ArchiveRepo) RewriteID(ctx context.Context, owner, tempID, newID string, at time.Time) error {
	query := `
		UPDATE archived_messages
		SET message_id = $1, sent_at = COALESCE($2, sent_at)
		WHERE owner_key = $3 AND message_id = $4`
	var ts *time.Time
	if !at.IsZero() {
		ts = &at
	}
	_, err := r.pool.Exec(ctx, query, newID, ts, owner, tempID)
	return err
}

func (r *ArchiveRepo) MarkDeleted(ctx context.Context, owner, messageID string, redact bool) error {
	query := `UPDATE archived_messages SET is_deleted = TRUE WHERE owner_key = $1 AND message_id = $2`
	args := []any{owner, messageID}
	if redact {
		query = `
			UPDATE archived_messages
			SET is_deleted = TRUE, text = $3, image = NULL, file = NULL
			WHERE owner_key = $1 AND message_id = $2`
		args = append(args, domain.DeletedPlaceholder)
	}
	_, err := r.pool.Exec(ctx, query, args...)
	return err
}

func (r *ArchiveRepo) SetStatus(ctx context.Context, owner, messageID string, status domain.MessageStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE archived_messages SET status = $1 WHERE owner_key = $2 AND message_id = $3`,
		string(status), owner, messageID,
	)
	return err
}

// ListRecent returns up to limit messages older than before, oldest first.
func (r *ArchiveRepo) ListRecent(ctx context.Context, owner string, key domain.ConversationKey, before *time.Time, limit int) ([]domain.Message, error) {
	query := fmt.Sprintf(`
		SELECT message_id, type, sender_id, sender_role, sender_username,
			text, image, file, status, is_deleted, sent_at
		FROM archived_messages
		WHERE owner_key = $1 AND conversation_key = $2
			AND ($3::timestamptz IS NULL OR sent_at < $3)
		ORDER BY sent_at DESC
		LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, owner, key.String(), before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var (
			msg    domain.Message
			typ    string
			role   string
			status string
			sentAt time.Time
		)
		if err := rows.Scan(
			&msg.ID, &typ, &msg.Sender.ID, &role, &msg.Sender.Username,
			&msg.Content.Text, &msg.Content.Image, &msg.Content.File,
			&status, &msg.IsDeleted, &sentAt,
		); err != nil {
			return nil, err
		}
		msg.Type = domain.MessageType(typ)
		msg.Sender.Role = domain.Role(role)
		msg.Status = domain.MessageStatus(status)
		msg.Timestamp = domain.Timestamp{Time: sentAt}
		if key.IsGroup() {
			msg.Group = &domain.GroupRef{ID: key.ID}
		}
		messages = append(messages, msg)
	}

	// Query returns DESC; callers want chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}
