package api

import (
	"net/http"

	"github.com/exemi-au/exemi/internal/reminders"
	"github.com/exemi-au/exemi/internal/users"
)

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request, u *users.User) {
	offset, limit, err := page(r, reminders.MaxPageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opts := reminders.ListOptions{Offset: offset, Limit: limit}
	if r.URL.Query().Has("min_days_remaining") {
		days, err := queryInt(r, "min_days_remaining", 0)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		opts.MinDaysRemaining = &days
	}
	list, err := s.deps.Reminders.List(r.Context(), u, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateReminder(w http.ResponseWriter, r *http.Request, u *users.User) {
	var req reminders.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rem, err := s.deps.Reminders.Create(r.Context(), u, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleGetReminder(w http.ResponseWriter, r *http.Request, u *users.User) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rem, err := s.deps.Reminders.Get(r.Context(), u, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleUpdateReminder(w http.ResponseWriter, r *http.Request, u *users.User) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req reminders.UpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rem, err := s.deps.Reminders.Update(r.Context(), u, id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleDeleteReminder(w http.ResponseWriter, r *http.Request, u *users.User) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Reminders.Delete(r.Context(), u, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"detail": "Reminder deleted"})
}
