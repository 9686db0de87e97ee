package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/database"
)

// Store persists users. All methods are safe for concurrent use.
type Store struct {
	db *database.DB
}

// NewStore wraps an opened, migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, username, password_hash, admin, disabled, magic_hash, magic_provider, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u         User
		magicHash sql.NullString
		provider  sql.NullString
		createdAt string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Admin, &u.Disabled, &magicHash, &provider, &createdAt); err != nil {
		return nil, err
	}
	u.MagicHash = magicHash.String
	u.MagicProvider = provider.String
	t, err := database.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = t
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts u and sets its ID and CreatedAt. A taken username is a
// Conflict.
func (s *Store) Create(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`INSERT INTO users (username, password_hash, admin, disabled, magic_hash, magic_provider, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		u.Username, u.PasswordHash, u.Admin, u.Disabled,
		nullString(u.MagicHash), nullString(u.MagicProvider), database.FormatTime(u.CreatedAt),
	).Scan(&u.ID)
	if database.IsUniqueViolation(err) {
		return apperr.Conflict("Username is already taken")
	}
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.Username, err)
	}
	return nil
}

// GetByUsername returns the named user or NotFound.
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT `+userColumns+` FROM users WHERE username = ?`), username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	return u, nil
}

// GetByID returns the user or NotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT `+userColumns+` FROM users WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// List returns users ordered by id.
func (s *Store) List(ctx context.Context, offset, limit int) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT `+userColumns+` FROM users ORDER BY id LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Update writes the mutable fields of u.
func (s *Store) Update(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE users SET password_hash = ?, admin = ?, disabled = ?, magic_hash = ?, magic_provider = ?
		 WHERE id = ?`),
		u.PasswordHash, u.Admin, u.Disabled, nullString(u.MagicHash), nullString(u.MagicProvider), u.ID)
	if err != nil {
		return fmt.Errorf("update user %d: %w", u.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("User not found")
	}
	return nil
}

// Delete removes a user. Conversations, messages and reminders go with
// it through foreign-key cascades.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("User not found")
	}
	return nil
}
