package canvas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/database"
)

// Mirror keeps an advisory copy of Canvas data. Canvas stays the source
// of truth; rows here may lag or diverge and are never read back into
// tool output. Reads are scoped to the units a user has synced.
type Mirror struct {
	db     *database.DB
	logger *slog.Logger
}

// NewMirror builds a Mirror.
func NewMirror(db *database.DB, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{db: db, logger: logger}
}

// SyncResult counts the rows written by a sync.
type SyncResult struct {
	Terms            int `json:"terms"`
	Units            int `json:"units"`
	AssignmentGroups int `json:"assignment_groups"`
	Assignments      int `json:"assignments"`
}

// MirroredUnit is a unit row linked to a user.
type MirroredUnit struct {
	ID           int64  `json:"id"`
	CanvasID     int64  `json:"canvas_id"`
	Name         string `json:"name"`
	OriginalName string `json:"original_name,omitempty"`
	TermCanvasID int64  `json:"term_canvas_id"`
}

// MirroredTerm is a term row reached through a user's units.
type MirroredTerm struct {
	ID       int64      `json:"id"`
	CanvasID int64      `json:"canvas_id"`
	Name     string     `json:"name"`
	StartAt  *time.Time `json:"start_at"`
	EndAt    *time.Time `json:"end_at"`
}

// MirroredAssignment is an assignment row of one of a user's units.
type MirroredAssignment struct {
	ID             int64      `json:"id"`
	CanvasID       int64      `json:"canvas_id"`
	UnitCanvasID   int64      `json:"unit_canvas_id"`
	GroupCanvasID  int64      `json:"group_canvas_id"`
	Name           string     `json:"name"`
	Description    *string    `json:"description"`
	DueAt          *time.Time `json:"due_at"`
	PointsPossible *float64   `json:"points_possible"`
}

// Store upserts terms, units, groups and assignments for university and
// links the units to userID, in one transaction.
func (m *Mirror) Store(ctx context.Context, userID int64, university string, byUnit []UnitGroups) (SyncResult, error) {
	var res SyncResult
	seenTerms := make(map[int64]bool)

	err := m.db.WithTx(ctx, func(tx database.DBTX) error {
		for _, ug := range byUnit {
			u := ug.Unit
			if u.Term != nil && !seenTerms[u.Term.ID] {
				t := RectifyTerm(*u.Term)
				if _, err := m.upsert(ctx, tx,
					`INSERT INTO canvas_terms (canvas_id, university, name, start_at, end_at)
					 VALUES (?, ?, ?, ?, ?)
					 ON CONFLICT (university, canvas_id) DO UPDATE
					 SET name = excluded.name, start_at = excluded.start_at, end_at = excluded.end_at
					 RETURNING id`,
					t.ID, university, t.Name, database.NullTime(t.StartAt), database.NullTime(t.EndAt)); err != nil {
					return fmt.Errorf("term %d: %w", t.ID, err)
				}
				seenTerms[t.ID] = true
				res.Terms++
			}

			unitRowID, err := m.upsert(ctx, tx,
				`INSERT INTO canvas_units (canvas_id, university, name, original_name, term_canvas_id)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT (university, canvas_id) DO UPDATE
				 SET name = excluded.name, original_name = excluded.original_name, term_canvas_id = excluded.term_canvas_id
				 RETURNING id`,
				u.ID, university, u.Name, sql.NullString{String: u.OriginalName, Valid: u.OriginalName != ""}, u.EnrollmentTermID)
			if err != nil {
				return fmt.Errorf("unit %d: %w", u.ID, err)
			}
			res.Units++

			if _, err := tx.ExecContext(ctx, m.db.Rebind(
				`INSERT INTO user_units (user_id, unit_id) VALUES (?, ?) ON CONFLICT DO NOTHING`),
				userID, unitRowID); err != nil {
				return fmt.Errorf("enrol unit %d: %w", u.ID, err)
			}

			for _, g := range ug.Groups {
				if _, err := m.upsert(ctx, tx,
					`INSERT INTO canvas_assignment_groups (canvas_id, university, unit_canvas_id, name, group_weight)
					 VALUES (?, ?, ?, ?, ?)
					 ON CONFLICT (university, canvas_id) DO UPDATE
					 SET name = excluded.name, group_weight = excluded.group_weight
					 RETURNING id`,
					g.ID, university, u.ID, g.Name, g.GroupWeight); err != nil {
					return fmt.Errorf("assignment group %d: %w", g.ID, err)
				}
				res.AssignmentGroups++

				for _, a := range g.Assignments {
					if _, err := m.upsert(ctx, tx,
						`INSERT INTO canvas_assignments (canvas_id, university, unit_canvas_id, group_canvas_id, name, description, due_at, points_possible)
						 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
						 ON CONFLICT (university, canvas_id) DO UPDATE
						 SET name = excluded.name, description = excluded.description,
						     due_at = excluded.due_at, points_possible = excluded.points_possible
						 RETURNING id`,
						a.ID, university, u.ID, g.ID, a.Name, nullPtr(a.Description),
						database.NullTime(a.DueAt), nullFloat(a.PointsPossible)); err != nil {
						return fmt.Errorf("assignment %d: %w", a.ID, err)
					}
					res.Assignments++
				}
			}
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("mirror sync: %w", err)
	}

	m.logger.Info("canvas mirror synced", "user_id", userID, "university", university,
		"terms", res.Terms, "units", res.Units, "assignments", res.Assignments)
	return res, nil
}

func (m *Mirror) upsert(ctx context.Context, tx database.DBTX, q string, args ...any) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, m.db.Rebind(q), args...).Scan(&id)
	return id, err
}

// Units returns the mirrored units linked to userID.
func (m *Mirror) Units(ctx context.Context, userID int64) ([]MirroredUnit, error) {
	rows, err := m.db.QueryContext(ctx, m.db.Rebind(
		`SELECT u.id, u.canvas_id, u.name, u.original_name, u.term_canvas_id
		 FROM canvas_units u JOIN user_units uu ON uu.unit_id = u.id
		 WHERE uu.user_id = ? ORDER BY u.canvas_id`), userID)
	if err != nil {
		return nil, fmt.Errorf("list mirrored units: %w", err)
	}
	defer rows.Close()

	out := []MirroredUnit{}
	for rows.Next() {
		var (
			mu   MirroredUnit
			orig sql.NullString
		)
		if err := rows.Scan(&mu.ID, &mu.CanvasID, &mu.Name, &orig, &mu.TermCanvasID); err != nil {
			return nil, err
		}
		mu.OriginalName = orig.String
		out = append(out, mu)
	}
	return out, rows.Err()
}

const termColumns = `SELECT DISTINCT t.id, t.canvas_id, t.name, t.start_at, t.end_at
	 FROM canvas_terms t
	 JOIN canvas_units u ON u.university = t.university AND u.term_canvas_id = t.canvas_id
	 JOIN user_units uu ON uu.unit_id = u.id`

// Terms returns the mirrored terms of the units linked to userID.
func (m *Mirror) Terms(ctx context.Context, userID int64) ([]MirroredTerm, error) {
	rows, err := m.db.QueryContext(ctx, m.db.Rebind(termColumns+
		` WHERE uu.user_id = ? ORDER BY t.canvas_id`), userID)
	if err != nil {
		return nil, fmt.Errorf("list mirrored terms: %w", err)
	}
	defer rows.Close()

	out := []MirroredTerm{}
	for rows.Next() {
		t, err := scanTerm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Term returns the mirrored term called name among userID's units.
func (m *Mirror) Term(ctx context.Context, userID int64, name string) (*MirroredTerm, error) {
	t, err := scanTerm(m.db.QueryRowContext(ctx, m.db.Rebind(termColumns+
		` WHERE uu.user_id = ? AND t.name = ? ORDER BY t.canvas_id LIMIT 1`), userID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Term %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get mirrored term: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTerm(row rowScanner) (*MirroredTerm, error) {
	var (
		t          MirroredTerm
		start, end sql.NullString
	)
	if err := row.Scan(&t.ID, &t.CanvasID, &t.Name, &start, &end); err != nil {
		return nil, err
	}
	var err error
	if t.StartAt, err = database.ParseNullTime(start); err != nil {
		return nil, err
	}
	if t.EndAt, err = database.ParseNullTime(end); err != nil {
		return nil, err
	}
	return &t, nil
}

// Assignments returns the mirrored assignments of userID's units, or of
// the one unit with unitCanvasID when it is non-zero. Assignments with a
// due date come first, earliest first.
func (m *Mirror) Assignments(ctx context.Context, userID, unitCanvasID int64) ([]MirroredAssignment, error) {
	q := `SELECT a.id, a.canvas_id, a.unit_canvas_id, a.group_canvas_id, a.name, a.description, a.due_at, a.points_possible
		 FROM canvas_assignments a
		 JOIN canvas_units u ON u.university = a.university AND u.canvas_id = a.unit_canvas_id
		 JOIN user_units uu ON uu.unit_id = u.id
		 WHERE uu.user_id = ?`
	args := []any{userID}
	if unitCanvasID != 0 {
		q += ` AND a.unit_canvas_id = ?`
		args = append(args, unitCanvasID)
	}
	q += ` ORDER BY a.due_at IS NULL, a.due_at, a.canvas_id`

	rows, err := m.db.QueryContext(ctx, m.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list mirrored assignments: %w", err)
	}
	defer rows.Close()

	out := []MirroredAssignment{}
	for rows.Next() {
		var (
			a      MirroredAssignment
			desc   sql.NullString
			due    sql.NullString
			points sql.NullFloat64
		)
		if err := rows.Scan(&a.ID, &a.CanvasID, &a.UnitCanvasID, &a.GroupCanvasID, &a.Name, &desc, &due, &points); err != nil {
			return nil, err
		}
		if desc.Valid {
			a.Description = &desc.String
		}
		if points.Valid {
			a.PointsPossible = &points.Float64
		}
		if a.DueAt, err = database.ParseNullTime(due); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
