package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/database"
)

// Store persists conversations and messages.
type Store struct {
	db *database.DB
}

// NewStore wraps an opened, migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var (
		c       Conversation
		summary sql.NullString
		created string
	)
	if err := row.Scan(&c.ID, &c.UserID, &summary, &created); err != nil {
		return nil, err
	}
	c.Summary = summary.String
	var err error
	if c.CreatedAt, err = database.ParseTime(created); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var (
		m       Message
		created string
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &created); err != nil {
		return Message{}, err
	}
	var err error
	m.CreatedAt, err = database.ParseTime(created)
	return m, err
}

// Create inserts c and sets its ID.
func (s *Store) Create(ctx context.Context, c *Conversation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`INSERT INTO conversations (user_id, summary, created_at) VALUES (?, ?, ?) RETURNING id`),
		c.UserID, sql.NullString{String: c.Summary, Valid: c.Summary != ""}, database.FormatTime(c.CreatedAt),
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Get returns a conversation without messages, or NotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT id, user_id, summary, created_at FROM conversations WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Conversation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return c, nil
}

// ListByUser returns a user's conversations, newest first.
func (s *Store) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT id, user_id, summary, created_at FROM conversations
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []*Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes a conversation and, by cascade, its messages.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM conversations WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete conversation %d: %w", id, err)
	}
	return nil
}

func insertMessage(ctx context.Context, q database.DBTX, d database.Dialect, m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	err := q.QueryRowContext(ctx, database.Rebind(d,
		`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		m.ConversationID, m.Role, m.Content, database.FormatTime(m.CreatedAt),
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// AddMessage appends m and sets its ID.
func (s *Store) AddMessage(ctx context.Context, m *Message) error {
	return insertMessage(ctx, s.db, s.db.Dialect, m)
}

// AddMessages appends msgs to a conversation in one transaction, in
// order.
func (s *Store) AddMessages(ctx context.Context, conversationID int64, msgs []Message) error {
	return s.db.WithTx(ctx, func(tx database.DBTX) error {
		for i := range msgs {
			msgs[i].ConversationID = conversationID
			if err := insertMessage(ctx, tx, s.db.Dialect, &msgs[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMessage returns one message or NotFound.
func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return &m, nil
}

// Messages returns a conversation's messages in order.
func (s *Store) Messages(ctx context.Context, conversationID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT id, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY id`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateContent replaces a message's text.
func (s *Store) UpdateContent(ctx context.Context, id int64, content string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE messages SET content = ? WHERE id = ?`), content, id); err != nil {
		return fmt.Errorf("update message %d: %w", id, err)
	}
	return nil
}

// DeleteAfter removes every message of the conversation with an ID
// greater than afterID and returns how many were removed.
func (s *Store) DeleteAfter(ctx context.Context, conversationID, afterID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM messages WHERE conversation_id = ? AND id > ?`), conversationID, afterID)
	if err != nil {
		return 0, fmt.Errorf("truncate conversation %d: %w", conversationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("truncate conversation %d: %w", conversationID, err)
	}
	return n, nil
}

// DeleteMessage removes one message.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM messages WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	return nil
}
