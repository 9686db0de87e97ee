// Package reminders stores students' assignment reminders.
package reminders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/database"
)

// Reminder is tied to a user and, by name only, to a Canvas assignment.
// Nothing prevents two reminders for the same assignment.
type Reminder struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	AssignmentName string    `json:"assignment_name"`
	Description    string    `json:"description"`
	DueAt          time.Time `json:"due_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists reminders.
type Store struct {
	db *database.DB
}

// NewStore wraps an opened, migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

const reminderColumns = `id, user_id, assignment_name, description, due_at, created_at`

func scanReminder(row interface{ Scan(...any) error }) (*Reminder, error) {
	var (
		r              Reminder
		dueAt, created string
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.AssignmentName, &r.Description, &dueAt, &created); err != nil {
		return nil, err
	}
	var err error
	if r.DueAt, err = database.ParseTime(dueAt); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = database.ParseTime(created); err != nil {
		return nil, err
	}
	return &r, nil
}

// Create inserts r and sets its ID.
func (s *Store) Create(ctx context.Context, r *Reminder) error {
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`INSERT INTO reminders (user_id, assignment_name, description, due_at, created_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`),
		r.UserID, r.AssignmentName, r.Description, database.FormatTime(r.DueAt), database.FormatTime(r.CreatedAt),
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

// Get returns a reminder or NotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Reminder, error) {
	r, err := scanReminder(s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Reminder not found with ID %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder %d: %w", id, err)
	}
	return r, nil
}

// ListByUser returns all of a user's reminders, soonest due first.
func (s *Store) ListByUser(ctx context.Context, userID int64) ([]*Reminder, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT `+reminderColumns+` FROM reminders WHERE user_id = ? ORDER BY due_at, id`), userID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var out []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Update writes the mutable fields of r.
func (s *Store) Update(ctx context.Context, r *Reminder) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE reminders SET assignment_name = ?, description = ?, due_at = ? WHERE id = ?`),
		r.AssignmentName, r.Description, database.FormatTime(r.DueAt), r.ID)
	if err != nil {
		return fmt.Errorf("update reminder %d: %w", r.ID, err)
	}
	return nil
}

// Delete removes a reminder.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM reminders WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete reminder %d: %w", id, err)
	}
	return nil
}
