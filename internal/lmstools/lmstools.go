// Package lmstools exposes the student's LMS data and reminders to the
// agent as tools.
package lmstools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/exemi-au/exemi/internal/canvas"
	"github.com/exemi-au/exemi/internal/dates"
	"github.com/exemi-au/exemi/internal/prompts"
	"github.com/exemi-au/exemi/internal/reminders"
	"github.com/exemi-au/exemi/internal/tools"
	"github.com/exemi-au/exemi/internal/users"
)

// Tool names.
const (
	ListAssignments = "list_assignments"
	CreateReminder  = "create_reminder"
)

// descriptionLimit caps the plain-text assignment description, in runes.
const descriptionLimit = 600

// AssignmentSource lists a student's assignments across their units.
type AssignmentSource interface {
	AllAssignments(ctx context.Context, cred canvas.Credential, f canvas.UnitFilter) ([]canvas.Assignment, error)
}

// ReminderService creates and looks up reminders.
type ReminderService interface {
	Create(ctx context.Context, u *users.User, req reminders.CreateRequest) (*reminders.Reminder, error)
	DueWithin(ctx context.Context, u *users.User, days int) ([]*reminders.Reminder, error)
}

// Provider builds per-request tool registries and system prompts.
// It is created once and shared.
type Provider struct {
	assignments AssignmentSource
	reminders   ReminderService
	loc         *time.Location
	window      int
	now         func() time.Time
	logger      *slog.Logger
}

// NewProvider returns a Provider. window is the number of calendar days
// of upcoming reminders listed in the system prompt.
func NewProvider(assignments AssignmentSource, rs ReminderService, loc *time.Location, window int, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = 7
	}
	return &Provider{
		assignments: assignments,
		reminders:   rs,
		loc:         loc,
		window:      window,
		now:         time.Now,
		logger:      logger,
	}
}

// Registry returns the tools acting as u with cred.
func (p *Provider) Registry(u *users.User, cred canvas.Credential) *tools.Registry {
	return tools.NewRegistry(
		&tools.Tool{
			Name:        ListAssignments,
			Label:       "Get assignments",
			Description: "List the student's assignments in their current units, with due dates, points and descriptions.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				return p.listAssignments(ctx, cred)
			},
		},
		&tools.Tool{
			Name:        CreateReminder,
			Label:       "Create a reminder",
			Description: "Save a reminder for one of the student's assignments.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"assignment_name": map[string]any{
						"type":        "string",
						"description": "The exact assignment name as returned by list_assignments",
					},
					"description": map[string]any{
						"type":        "string",
						"description": "What the student should do, in one sentence",
					},
					"due_at": map[string]any{
						"type":        "string",
						"description": "When the reminder is due, ISO-8601 (e.g. 2025-03-14T23:59:00)",
					},
				},
				"required": []string{"assignment_name", "due_at"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return p.createReminder(ctx, u, args)
			},
		},
	)
}

func (p *Provider) listAssignments(ctx context.Context, cred canvas.Credential) (string, error) {
	list, err := p.assignments.AllAssignments(ctx, cred, canvas.UnitFilter{ExcludeComplete: true, ExcludeOrganisation: true})
	if err != nil {
		return "", fmt.Errorf("list assignments: %w", err)
	}
	if len(list) == 0 {
		return "The student has no assignments in their current units.", nil
	}

	now := p.now()
	blocks := make([]string, 0, len(list))
	for _, a := range list {
		blocks = append(blocks, formatAssignment(a, now, p.loc))
	}
	return strings.Join(blocks, "\n\n"), nil
}

func formatAssignment(a canvas.Assignment, now time.Time, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Assignment: %s\n", a.Name)
	fmt.Fprintf(&sb, "Due: %s\n", dates.FormatDue(a.DueAt, now, loc))
	if a.PointsPossible != nil {
		fmt.Fprintf(&sb, "Points: %s\n", humanize.Ftoa(*a.PointsPossible))
	} else {
		sb.WriteString("Points: Unknown\n")
	}
	desc := ""
	if a.Description != nil {
		desc = canvas.PlainText(*a.Description, descriptionLimit)
	}
	if desc == "" {
		desc = "None"
	}
	fmt.Fprintf(&sb, "Description: %s", desc)
	return sb.String()
}

func (p *Provider) createReminder(ctx context.Context, u *users.User, args map[string]any) (string, error) {
	name, _ := tools.StringArg(args, "assignment_name")
	desc, _ := tools.StringArg(args, "description")
	rawDue, _ := tools.StringArg(args, "due_at")
	due, err := dates.ParseISO(rawDue, p.loc)
	if err != nil {
		return "", tools.InvalidArguments(CreateReminder, "due_at must be an ISO-8601 date: %v", err)
	}

	r, err := p.reminders.Create(ctx, u, reminders.CreateRequest{
		AssignmentName: name,
		Description:    desc,
		DueAt:          due,
	})
	if err != nil {
		return "", err
	}
	p.logger.Debug("reminder created by agent", "user", u.Username, "reminder_id", r.ID)
	return fmt.Sprintf("Reminder created for %s, due %s.", r.AssignmentName, dates.FormatDue(&r.DueAt, p.now(), p.loc)), nil
}

// SystemPrompt builds the system prompt for u, listing reminders due in
// the configured window.
func (p *Provider) SystemPrompt(ctx context.Context, u *users.User) (string, error) {
	due, err := p.reminders.DueWithin(ctx, u, p.window)
	if err != nil {
		return "", fmt.Errorf("load reminders: %w", err)
	}
	return SystemPrompt(p.now(), p.window, due, p.loc), nil
}

// SystemPrompt renders the system prompt at now with the reminders due
// in the next window calendar days.
func SystemPrompt(now time.Time, window int, due []*reminders.Reminder, loc *time.Location) string {
	lines := make([]prompts.DueReminder, 0, len(due))
	for _, r := range due {
		lines = append(lines, prompts.DueReminder{
			AssignmentName: r.AssignmentName,
			Description:    r.Description,
			Due:            dates.FormatDue(&r.DueAt, now, loc),
		})
	}
	return prompts.StudentSystemPrompt(dates.FormatNow(now, loc), window, lines)
}
