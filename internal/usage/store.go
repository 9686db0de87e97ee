// Package usage records model token counts per student. Records are
// append-only and removed with their user.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/exemi-au/exemi/internal/database"
)

// Modes a turn can run in.
const (
	ModeBlocking = "blocking"
	ModeStream   = "stream"
)

// Record is the token count of one model call.
type Record struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"user_id"`
	RecordedAt   time.Time `json:"recorded_at"`
	Model        string    `json:"model"`
	Mode         string    `json:"mode"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
}

// Summary holds totals over a range of records.
type Summary struct {
	Calls        int   `json:"calls"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Store persists usage records.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// NewStore returns a Store backed by db.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Record stores rec. An empty ID gets a UUIDv7 and a zero RecordedAt
// gets the current time.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO llm_usage (id, user_id, recorded_at, model, mode, input_tokens, output_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.UserID, database.FormatTime(rec.RecordedAt),
		rec.Model, rec.Mode, rec.InputTokens, rec.OutputTokens,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary totals userID's records within [start, end).
func (s *Store) Summary(ctx context.Context, userID int64, start, end time.Time) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM llm_usage
		 WHERE user_id = ? AND recorded_at >= ? AND recorded_at < ?`),
		userID, database.FormatTime(start), database.FormatTime(end),
	).Scan(&sum.Calls, &sum.InputTokens, &sum.OutputTokens)
	if err != nil {
		return Summary{}, fmt.Errorf("query usage summary: %w", err)
	}
	return sum, nil
}

// SummaryByModel totals userID's records within [start, end) per model.
func (s *Store) SummaryByModel(ctx context.Context, userID int64, start, end time.Time) (map[string]Summary, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT model, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM llm_usage
		 WHERE user_id = ? AND recorded_at >= ? AND recorded_at < ?
		 GROUP BY model`),
		userID, database.FormatTime(start), database.FormatTime(end),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by model: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Summary)
	for rows.Next() {
		var model string
		var sum Summary
		if err := rows.Scan(&model, &sum.Calls, &sum.InputTokens, &sum.OutputTokens); err != nil {
			return nil, fmt.Errorf("scan usage by model: %w", err)
		}
		out[model] = sum
	}
	return out, rows.Err()
}
