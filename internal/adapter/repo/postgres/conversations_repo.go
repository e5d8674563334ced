package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/skillpath-ai/internal/domain"
)

// ConversationRepo persists and loads conversations and their messages.
type ConversationRepo struct{ Pool PgxPool }

// NewConversationRepo constructs a ConversationRepo with the given pool.
func NewConversationRepo(p PgxPool) *ConversationRepo { return &ConversationRepo{Pool: p} }

// Create inserts a new conversation and returns its id.
func (r *ConversationRepo) Create(ctx domain.Context, c domain.Conversation) (string, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Create")
	defer span.End()
	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO conversations (id, user_id, subject, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)`
	_, err := r.Pool.Exec(ctx, q, id, c.UserID, c.Subject, time.Now().UTC(), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=conversation.create: %w", err)
	}
	return id, nil
}

// Get loads a conversation and its messages in append order.
func (r *ConversationRepo) Get(ctx domain.Context, id string) (domain.Conversation, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Get")
	defer span.End()
	q := `SELECT id, user_id, COALESCE(subject,''), created_at, updated_at FROM conversations WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var c domain.Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.Subject, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Conversation{}, fmt.Errorf("op=conversation.get: %w", domain.ErrNotFound)
		}
		return domain.Conversation{}, fmt.Errorf("op=conversation.get: %w", err)
	}
	msgs, err := r.messages(ctx, id)
	if err != nil {
		return domain.Conversation{}, err
	}
	c.Messages = msgs
	return c, nil
}

// ListByUser returns the user's conversations, most recently updated first,
// including messages so list views can preview the exchange.
func (r *ConversationRepo) ListByUser(ctx domain.Context, userID string) ([]domain.Conversation, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.ListByUser")
	defer span.End()
	q := `SELECT id, user_id, COALESCE(subject,''), created_at, updated_at FROM conversations WHERE user_id=$1 ORDER BY updated_at DESC`
	rows, err := r.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("op=conversation.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Subject, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=conversation.list: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=conversation.list: %w", err)
	}
	for i := range out {
		msgs, err := r.messages(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Messages = msgs
	}
	return out, nil
}

// AppendMessage stores one message and bumps the conversation's
// updated_at. The seq column is assigned from the current message count so
// ordering survives identical timestamps.
func (r *ConversationRepo) AppendMessage(ctx domain.Context, conversationID string, m domain.Message) error {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.AppendMessage")
	defer span.End()
	id := m.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO messages (id, conversation_id, seq, role, content, code, created_at)
	      VALUES ($1, $2, (SELECT COALESCE(MAX(seq),0)+1 FROM messages WHERE conversation_id=$2), $3, $4, $5, $6)`
	if _, err := r.Pool.Exec(ctx, q, id, conversationID, m.Role, m.Content, m.Code, m.CreatedAt); err != nil {
		return fmt.Errorf("op=conversation.append: %w", err)
	}
	if _, err := r.Pool.Exec(ctx, `UPDATE conversations SET updated_at=$2 WHERE id=$1`, conversationID, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=conversation.touch: %w", err)
	}
	return nil
}

func (r *ConversationRepo) messages(ctx domain.Context, conversationID string) ([]domain.Message, error) {
	q := `SELECT id, role, content, COALESCE(code,''), created_at FROM messages WHERE conversation_id=$1 ORDER BY seq ASC`
	rows, err := r.Pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("op=conversation.messages: %w", err)
	}
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Code, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=conversation.messages: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
