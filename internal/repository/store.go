package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/allais-space/chatkit/internal/domain"
)

// Store persists conversations and messages. Message rows are snapshots of
// in-memory messages; the live conversation never reads back through it
// except on an explicit load.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateConversation(ctx context.Context, userID, title string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_conversations (id, user_id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)`,
		id, userID, title, now)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

func (s *Store) TouchConversation(ctx context.Context, conversationID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE chat_conversations SET updated_at = $2 WHERE id = $1`,
		conversationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, conversation_id, content, role, ai_model, created_at, tokens_used)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, conversationID, msg.Content, string(msg.Role), msg.Model, msg.Timestamp.UTC(), msg.TokensUsed)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) FetchConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	conv := &domain.Conversation{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM chat_conversations WHERE id = $1 AND user_id = $2`,
		conversationID, userID).
		Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("fetch conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, content, role, ai_model, created_at, tokens_used
		 FROM chat_messages WHERE conversation_id = $1
		 ORDER BY created_at, id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&m.ID, &m.Content, &role, &m.Model, &m.Timestamp, &m.TokensUsed); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = domain.Role(role)
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return conv, nil
}

func (s *Store) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM chat_messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM chat_conversations WHERE id = $1 AND user_id = $2`,
		conversationID, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}

	return tx.Commit(ctx)
}

// CountUserMessagesOn counts user-authored messages persisted on the given
// UTC calendar day, across all of the user's conversations.
func (s *Store) CountUserMessagesOn(ctx context.Context, userID string, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*)
		 FROM chat_messages m
		 JOIN chat_conversations c ON c.id = m.conversation_id
		 WHERE c.user_id = $1 AND m.role = 'user'
		   AND m.created_at >= $2 AND m.created_at < $3`,
		userID, start, end).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count daily messages: %w", err)
	}
	return count, nil
}
