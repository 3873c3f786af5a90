package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	ListForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	Get(ctx context.Context, conversationID string) (models.Conversation, error)
	GetDirect(ctx context.Context, userA, userB string) (models.Conversation, error)
	CreateDirect(ctx context.Context, userA, userB string) (models.Conversation, error)
	CreateGroup(ctx context.Context, name, creatorID string, memberIDs []string) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	RecordMessage(ctx context.Context, msg models.Message) (map[string]int, error)
	MarkSeen(ctx context.Context, conversationID, userID string) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

type conversationRow struct {
	ID             string         `db:"id"`
	Type           string         `db:"type"`
	GroupName      sql.NullString `db:"group_name"`
	GroupCreatedBy sql.NullString `db:"group_created_by"`
	LastMessageID  sql.NullString `db:"last_message_id"`
	LastMessageAt  sql.NullTime   `db:"last_message_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

type participantRow struct {
	ConversationID string    `db:"conversation_id"`
	UserID         string    `db:"user_id"`
	DisplayName    string    `db:"display_name"`
	AvatarURL      string    `db:"avatar_url"`
	UnreadCount    int       `db:"unread_count"`
	SeenLatest     bool      `db:"seen_latest"`
	JoinedAt       time.Time `db:"joined_at"`
}

const conversationColumns = `id, type, group_name, group_created_by, last_message_id, last_message_at, created_at, updated_at`

// ListForUser returns the user's conversations, most recent activity first.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
        WHERE id IN (SELECT conversation_id FROM conversation_participants WHERE user_id=$1)
        ORDER BY last_message_at DESC NULLS LAST, updated_at DESC`
	var rows []conversationRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}
	return r.assemble(ctx, rows)
}

// Get fetches a single conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	var row conversationRow
	err := r.db.GetContext(ctx, &row, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}
	conversations, err := r.assemble(ctx, []conversationRow{row})
	if err != nil {
		return models.Conversation{}, err
	}
	return conversations[0], nil
}

// GetDirect finds the direct conversation between two users.
func (r *ConversationRepo) GetDirect(ctx context.Context, userA, userB string) (models.Conversation, error) {
	var id string
	query := `SELECT c.id FROM conversations c
        JOIN conversation_participants pa ON pa.conversation_id = c.id AND pa.user_id=$1
        JOIN conversation_participants pb ON pb.conversation_id = c.id AND pb.user_id=$2
        WHERE c.type=$3
        LIMIT 1`
	err := r.db.GetContext(ctx, &id, query, userA, userB, models.ConversationDirect)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}
	return r.Get(ctx, id)
}

// CreateDirect creates a direct conversation between two users.
func (r *ConversationRepo) CreateDirect(ctx context.Context, userA, userB string) (models.Conversation, error) {
	if userA == userB {
		return models.Conversation{}, errors.New("cannot create conversation with self")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer tx.Rollback()

	var id string
	if err := tx.QueryRowxContext(ctx, `INSERT INTO conversations (type) VALUES ($1) RETURNING id`, models.ConversationDirect).Scan(&id); err != nil {
		return models.Conversation{}, err
	}
	for _, userID := range []string{userA, userB} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)`, id, userID); err != nil {
			return models.Conversation{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return r.Get(ctx, id)
}

// CreateGroup creates a group conversation. The creator is always a member.
func (r *ConversationRepo) CreateGroup(ctx context.Context, name, creatorID string, memberIDs []string) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer tx.Rollback()

	var id string
	if err := tx.QueryRowxContext(ctx, `INSERT INTO conversations (type, group_name, group_created_by) VALUES ($1, $2, $3) RETURNING id`,
		models.ConversationGroup, name, creatorID).Scan(&id); err != nil {
		return models.Conversation{}, err
	}

	seen := map[string]bool{}
	for _, userID := range append([]string{creatorID}, memberIDs...) {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)`, id, userID); err != nil {
			return models.Conversation{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return r.Get(ctx, id)
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id=$1 AND user_id=$2)`,
		conversationID, userID)
	return exists, err
}

// RecordMessage updates the conversation after a message is accepted: the last
// message pointer moves, every participant except the sender gains one unread
// and loses seen status. Returns the resulting per-participant unread counts.
func (r *ConversationRepo) RecordMessage(ctx context.Context, msg models.Message) (map[string]int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_id=$1, last_message_at=$2, updated_at=NOW() WHERE id=$3`,
		msg.ID, msg.CreatedAt, msg.ConversationID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversation_participants SET unread_count = unread_count + 1, seen_latest = FALSE
         WHERE conversation_id=$1 AND user_id <> $2`,
		msg.ConversationID, msg.SenderID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversation_participants SET seen_latest = TRUE WHERE conversation_id=$1 AND user_id=$2`,
		msg.ConversationID, msg.SenderID); err != nil {
		return nil, err
	}

	rows, err := tx.QueryxContext(ctx,
		`SELECT user_id, unread_count FROM conversation_participants WHERE conversation_id=$1`, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var userID string
		var unread int
		if err := rows.Scan(&userID, &unread); err != nil {
			return nil, err
		}
		counts[userID] = unread
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, tx.Commit()
}

// MarkSeen zeroes the user's unread count and marks the latest message seen.
func (r *ConversationRepo) MarkSeen(ctx context.Context, conversationID, userID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE conversation_participants SET unread_count = 0, seen_latest = TRUE
         WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// assemble joins conversation rows with their participants and last messages.
func (r *ConversationRepo) assemble(ctx context.Context, rows []conversationRow) ([]models.Conversation, error) {
	if len(rows) == 0 {
		return []models.Conversation{}, nil
	}

	ids := make([]string, 0, len(rows))
	lastIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
		if row.LastMessageID.Valid {
			lastIDs = append(lastIDs, row.LastMessageID.String)
		}
	}

	participants, err := r.participantsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	lastMessages, err := r.messagesByID(ctx, lastIDs)
	if err != nil {
		return nil, err
	}

	out := make([]models.Conversation, 0, len(rows))
	for _, row := range rows {
		conv := models.Conversation{
			ID:           row.ID,
			Type:         row.Type,
			UnreadCounts: make(map[string]int),
			SeenBy:       []string{},
			CreatedAt:    row.CreatedAt,
			UpdatedAt:    row.UpdatedAt,
		}
		if row.Type == models.ConversationGroup {
			conv.Group = &models.Group{Name: row.GroupName.String, CreatedBy: row.GroupCreatedBy.String}
		}
		if row.LastMessageAt.Valid {
			conv.LastMessageAt = row.LastMessageAt.Time
		}
		for _, p := range participants[row.ID] {
			conv.Participants = append(conv.Participants, models.Participant{
				ID:          p.UserID,
				DisplayName: p.DisplayName,
				AvatarURL:   p.AvatarURL,
				JoinedAt:    p.JoinedAt,
			})
			conv.UnreadCounts[p.UserID] = p.UnreadCount
			if p.SeenLatest {
				conv.SeenBy = append(conv.SeenBy, p.UserID)
			}
		}
		if row.LastMessageID.Valid {
			if msg, ok := lastMessages[row.LastMessageID.String]; ok {
				conv.LastMessage = msg.Summary()
			}
		}
		out = append(out, conv)
	}
	return out, nil
}

func (r *ConversationRepo) participantsFor(ctx context.Context, conversationIDs []string) (map[string][]participantRow, error) {
	query, args, err := sqlx.In(
		`SELECT conversation_id, user_id, display_name, avatar_url, unread_count, seen_latest, joined_at
         FROM conversation_participants WHERE conversation_id IN (?) ORDER BY joined_at ASC`, conversationIDs)
	if err != nil {
		return nil, err
	}
	var rows []participantRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make(map[string][]participantRow)
	for _, row := range rows {
		out[row.ConversationID] = append(out[row.ConversationID], row)
	}
	return out, nil
}

func (r *ConversationRepo) messagesByID(ctx context.Context, messageIDs []string) (map[string]models.Message, error) {
	out := make(map[string]models.Message)
	if len(messageIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(
		`SELECT id, conversation_id, sender_id, content, img_url, created_at FROM messages WHERE id IN (?)`, messageIDs)
	if err != nil {
		return nil, err
	}
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		out[msg.ID] = msg
	}
	return out, nil
}
