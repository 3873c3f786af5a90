package repositories

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

var ErrBadCursor = errors.New("malformed page cursor")

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	Create(ctx context.Context, conversationID, senderID, content, imgURL string) (models.Message, error)
	ListPage(ctx context.Context, conversationID, cursor string, limit int) ([]models.Message, *string, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create stores a message and returns the persisted row.
func (r *MessageRepo) Create(ctx context.Context, conversationID, senderID, content, imgURL string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content, img_url) VALUES ($1, $2, $3, $4)
         RETURNING id, conversation_id, sender_id, content, img_url, created_at`,
		conversationID, senderID, content, imgURL).
		Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.ImgURL, &msg.CreatedAt)
	return msg, err
}

// ListPage returns one page of messages in ascending timestamp order, walking
// backwards through history. An empty cursor means the newest page; the
// returned cursor is nil once the oldest message has been served.
func (r *MessageRepo) ListPage(ctx context.Context, conversationID, cursor string, limit int) ([]models.Message, *string, error) {
	args := []any{conversationID}
	query := `SELECT id, conversation_id, sender_id, content, img_url, created_at
        FROM messages WHERE conversation_id=$1`

	if cursor != "" {
		before, beforeID, err := decodeCursor(cursor)
		if err != nil {
			return nil, nil, err
		}
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, before, beforeID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit+1)

	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, nil, err
	}

	var next *string
	if len(msgs) > limit {
		msgs = msgs[:limit]
		oldest := msgs[len(msgs)-1]
		encoded := encodeCursor(oldest.CreatedAt, oldest.ID)
		next = &encoded
	}

	// Query order is newest-first for the keyset; callers want ascending.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, next, nil
}

func encodeCursor(at time.Time, id string) string {
	raw := at.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", ErrBadCursor
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", ErrBadCursor
	}
	at, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", ErrBadCursor
	}
	return at, parts[1], nil
}
