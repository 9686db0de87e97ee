package canvas

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"
)

// fanOut bounds concurrent per-unit Canvas requests.
const fanOut = 4

// Service implements the normalized LMS reads exposed over HTTP and to
// the agent's tools.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService builds a Service.
func NewService(client *Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, logger: logger}
}

type coursesQuery struct {
	Include         []string `url:"include[],omitempty"`
	EnrollmentState string   `url:"enrollment_state,omitempty"`
}

type groupsQuery struct {
	Include []string `url:"include[],omitempty"`
}

// Units lists the student's units with their terms.
func (s *Service) Units(ctx context.Context, cred Credential, f UnitFilter) ([]Unit, error) {
	q := coursesQuery{Include: []string{"term"}}
	if f.ExcludeComplete {
		q.EnrollmentState = "active"
	}
	units, err := getList[Unit](ctx, s.client, cred, "courses", q)
	if err != nil {
		return nil, err
	}
	if !f.ExcludeOrganisation {
		return units, nil
	}
	out := units[:0:0]
	for _, u := range units {
		if u.EnrollmentTermID != DefaultTermID {
			out = append(out, u)
		}
	}
	return out, nil
}

// Terms returns every term the student has a unit in, deduplicated,
// sorted by id, with known-bad dates rectified.
func (s *Service) Terms(ctx context.Context, cred Credential) ([]Term, error) {
	units, err := s.Units(ctx, cred, UnitFilter{})
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Term)
	for _, u := range units {
		if u.Term != nil {
			byID[u.Term.ID] = RectifyTerm(*u.Term)
		}
	}
	terms := make([]Term, 0, len(byID))
	for _, t := range byID {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].ID < terms[j].ID })
	return terms, nil
}

// AssignmentGroups lists a unit's assignment groups with their
// assignments.
func (s *Service) AssignmentGroups(ctx context.Context, cred Credential, unitID int64) ([]AssignmentGroup, error) {
	path := fmt.Sprintf("courses/%d/assignment_groups", unitID)
	return getList[AssignmentGroup](ctx, s.client, cred, path, groupsQuery{Include: []string{"assignments"}})
}

// Assignments flattens a unit's assignment groups.
func (s *Service) Assignments(ctx context.Context, cred Credential, unitID int64) ([]Assignment, error) {
	groups, err := s.AssignmentGroups(ctx, cred, unitID)
	if err != nil {
		return nil, err
	}
	return flatten(groups), nil
}

func flatten(groups []AssignmentGroup) []Assignment {
	var out []Assignment
	for _, g := range groups {
		out = append(out, g.Assignments...)
	}
	return out
}

// UnitGroups pairs a unit with its assignment groups.
type UnitGroups struct {
	Unit   Unit
	Groups []AssignmentGroup
}

// GroupsByUnit fetches assignment groups for every unit matching f.
// Units are fetched concurrently; results keep the unit order.
func (s *Service) GroupsByUnit(ctx context.Context, cred Credential, f UnitFilter) ([]UnitGroups, error) {
	units, err := s.Units(ctx, cred, f)
	if err != nil {
		return nil, err
	}

	out := make([]UnitGroups, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for i, u := range units {
		g.Go(func() error {
			groups, err := s.AssignmentGroups(gctx, cred, u.ID)
			if err != nil {
				return fmt.Errorf("unit %d: %w", u.ID, err)
			}
			out[i] = UnitGroups{Unit: u, Groups: groups}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// AllAssignmentGroups lists assignment groups across all matching units.
func (s *Service) AllAssignmentGroups(ctx context.Context, cred Credential, f UnitFilter) ([]AssignmentGroup, error) {
	byUnit, err := s.GroupsByUnit(ctx, cred, f)
	if err != nil {
		return nil, err
	}
	var out []AssignmentGroup
	for _, ug := range byUnit {
		out = append(out, ug.Groups...)
	}
	return out, nil
}

// AllAssignments lists assignments across all matching units.
func (s *Service) AllAssignments(ctx context.Context, cred Credential, f UnitFilter) ([]Assignment, error) {
	groups, err := s.AllAssignmentGroups(ctx, cred, f)
	if err != nil {
		return nil, err
	}
	return flatten(groups), nil
}

type canvasSelf struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ValidateCredential reports whether Canvas accepts cred. A rejected
// token is (false, nil); transport failures are errors.
func (s *Service) ValidateCredential(ctx context.Context, cred Credential) (bool, error) {
	_, err := getObject[canvasSelf](ctx, s.client, cred, "users/self")
	if err == nil {
		return true, nil
	}
	if isUnauthorized(err) {
		return false, nil
	}
	return false, err
}

// Sync fetches the student's current units and assignment groups and
// writes them to the mirror.
func (s *Service) Sync(ctx context.Context, cred Credential, mirror *Mirror, userID int64) (SyncResult, error) {
	byUnit, err := s.GroupsByUnit(ctx, cred, UnitFilter{ExcludeComplete: true, ExcludeOrganisation: true})
	if err != nil {
		return SyncResult{}, err
	}
	return mirror.Store(ctx, userID, cred.Provider, byUnit)
}
