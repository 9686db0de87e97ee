package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/exemi-au/exemi/internal/canvas"
	"github.com/exemi-au/exemi/internal/users"
)

// unitFilter reads exclude_complete_units and exclude_organisation_units.
// Both default to true.
func unitFilter(r *http.Request) (canvas.UnitFilter, error) {
	complete, err := queryBool(r, "exclude_complete_units", true)
	if err != nil {
		return canvas.UnitFilter{}, err
	}
	org, err := queryBool(r, "exclude_organisation_units", true)
	if err != nil {
		return canvas.UnitFilter{}, err
	}
	return canvas.UnitFilter{ExcludeComplete: complete, ExcludeOrganisation: org}, nil
}

func (s *Server) handleTerms(w http.ResponseWriter, r *http.Request, _ *users.User, cred canvas.Credential) {
	terms, err := s.deps.Canvas.Terms(r.Context(), cred)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, terms)
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request, _ *users.User, cred canvas.Credential) {
	f, err := unitFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	units, err := s.deps.Canvas.Units(r.Context(), cred, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, units)
}

func (s *Server) handleUnitAssignmentGroups(w http.ResponseWriter, r *http.Request, _ *users.User, cred canvas.Credential) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	groups, err := s.deps.Canvas.AssignmentGroups(r.Context(), cred, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleUnitAssignments(w http.ResponseWriter, r *http.Request, _ *users.User, cred canvas.Credential) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.deps.Canvas.Assignments(r.Context(), cred, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAllAssignmentGroups(w http.ResponseWriter, r *http.Request, _ *users.User, cred canvas.Credential) {
	f, err := unitFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	groups, err := s.deps.Canvas.AllAssignmentGroups(r.Context(), cred, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleAllAssignments(w http.ResponseWriter, r *http.Request, _ *users.User, cred canvas.Credential) {
	f, err := unitFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.deps.Canvas.AllAssignments(r.Context(), cred, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, u *users.User, cred canvas.Credential) {
	res, err := s.deps.Canvas.Sync(r.Context(), cred, s.deps.Mirror, u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMirroredUnits(w http.ResponseWriter, r *http.Request, u *users.User) {
	units, err := s.deps.Mirror.Units(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, units)
}

func (s *Server) handleMirroredTerms(w http.ResponseWriter, r *http.Request, u *users.User) {
	terms, err := s.deps.Mirror.Terms(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, terms)
}

func (s *Server) handleMirroredTerm(w http.ResponseWriter, r *http.Request, u *users.User) {
	term, err := s.deps.Mirror.Term(r.Context(), u.ID, mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, term)
}

// handleMirroredAssignments lists synced assignments, optionally of one
// unit (?unit_id=<canvas id>).
func (s *Server) handleMirroredAssignments(w http.ResponseWriter, r *http.Request, u *users.User) {
	unitID, err := queryInt(r, "unit_id", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.deps.Mirror.Assignments(r.Context(), u.ID, int64(unitID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}
