package reminders

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/dates"
	"github.com/exemi-au/exemi/internal/users"
)

// MaxPageSize caps List page length.
const MaxPageSize = 100

// CreateRequest is the body of POST /reminder.
type CreateRequest struct {
	AssignmentName string    `json:"assignment_name"`
	Description    string    `json:"description"`
	DueAt          time.Time `json:"due_at"`
}

// UpdateRequest is the body of PATCH /reminder/{id}. Nil fields are left
// unchanged.
type UpdateRequest struct {
	AssignmentName *string    `json:"assignment_name,omitempty"`
	Description    *string    `json:"description,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
}

// ListOptions page and filter List.
type ListOptions struct {
	Offset int
	Limit  int
	// MinDaysRemaining, when set, keeps reminders due in at most this
	// many calendar days. Overdue reminders are kept.
	MinDaysRemaining *int
}

// Service implements reminder operations with owner-or-admin checks.
type Service struct {
	store  *Store
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewService builds a Service. loc is the display timezone that calendar
// days are counted in.
func NewService(store *Store, loc *time.Location, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, loc: loc, now: time.Now, logger: logger}
}

// Create adds a reminder for u.
func (s *Service) Create(ctx context.Context, u *users.User, req CreateRequest) (*Reminder, error) {
	req.AssignmentName = strings.TrimSpace(req.AssignmentName)
	if req.AssignmentName == "" {
		return nil, apperr.Validation("assignment_name must not be empty")
	}
	if req.DueAt.IsZero() {
		return nil, apperr.Validation("due_at is required")
	}
	r := &Reminder{
		UserID:         u.ID,
		AssignmentName: req.AssignmentName,
		Description:    req.Description,
		DueAt:          req.DueAt.UTC(),
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("reminder created", "user", u.Username, "reminder_id", r.ID, "assignment", r.AssignmentName)
	return r, nil
}

// get loads a reminder and checks that u may act on it.
func (s *Service) get(ctx context.Context, u *users.User, id int64, verb string) (*Reminder, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.CanAccess(r.UserID) {
		return nil, apperr.Unauthorized("You are not authorised to %s this reminder", verb)
	}
	return r, nil
}

// Get returns one reminder.
func (s *Service) Get(ctx context.Context, u *users.User, id int64) (*Reminder, error) {
	return s.get(ctx, u, id, "view")
}

// Update changes a reminder.
func (s *Service) Update(ctx context.Context, u *users.User, id int64, req UpdateRequest) (*Reminder, error) {
	r, err := s.get(ctx, u, id, "edit")
	if err != nil {
		return nil, err
	}
	if req.AssignmentName != nil {
		if strings.TrimSpace(*req.AssignmentName) == "" {
			return nil, apperr.Validation("assignment_name must not be empty")
		}
		r.AssignmentName = strings.TrimSpace(*req.AssignmentName)
	}
	if req.Description != nil {
		r.Description = *req.Description
	}
	if req.DueAt != nil {
		r.DueAt = req.DueAt.UTC()
	}
	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes a reminder.
func (s *Service) Delete(ctx context.Context, u *users.User, id int64) error {
	r, err := s.get(ctx, u, id, "delete")
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, r.ID)
}

// List returns u's reminders, soonest due first, filtered then paged.
func (s *Service) List(ctx context.Context, u *users.User, opts ListOptions) ([]*Reminder, error) {
	if opts.Limit <= 0 || opts.Limit > MaxPageSize {
		opts.Limit = MaxPageSize
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	all, err := s.store.ListByUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	if opts.MinDaysRemaining != nil {
		now := s.now()
		kept := all[:0]
		for _, r := range all {
			if dates.CalendarDays(r.DueAt, now, s.loc) <= *opts.MinDaysRemaining {
				kept = append(kept, r)
			}
		}
		all = kept
	}

	if opts.Offset >= len(all) {
		return []*Reminder{}, nil
	}
	end := min(opts.Offset+opts.Limit, len(all))
	return all[opts.Offset:end], nil
}

// DueWithin returns u's reminders due from today through the next days
// calendar days. Overdue reminders are excluded.
func (s *Service) DueWithin(ctx context.Context, u *users.User, days int) ([]*Reminder, error) {
	all, err := s.store.ListByUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []*Reminder
	for _, r := range all {
		if d := dates.CalendarDays(r.DueAt, now, s.loc); d >= 0 && d <= days {
			out = append(out, r)
		}
	}
	return out, nil
}

// Location is the display timezone.
func (s *Service) Location() *time.Location { return s.loc }
