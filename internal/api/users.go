package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/canvas"
	"github.com/exemi-au/exemi/internal/users"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        *users.User `json:"user"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req users.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.deps.Users.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

// handleLogin accepts the OAuth2 password form or a JSON body.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			s.writeError(w, r, apperr.Validation("Invalid login form"))
			return
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	}

	token, u, err := s.deps.Users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer", User: u})
}

func (s *Server) handleGetSelf(w http.ResponseWriter, r *http.Request, u *users.User) {
	s.writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateSelf(w http.ResponseWriter, r *http.Request, u *users.User) {
	var req users.UpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.deps.Users.Update(r.Context(), u, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, u *users.User) {
	offset, limit, err := page(r, 100)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.deps.Users.List(r.Context(), u, offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, u *users.User) {
	target, err := s.deps.Users.Get(r.Context(), u, mux.Vars(r)["username"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, target)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, u *users.User) {
	username := mux.Vars(r)["username"]
	if err := s.deps.Users.Delete(r.Context(), u, username); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("user deleted", "username", username, "by", u.Username)
	s.writeJSON(w, http.StatusOK, map[string]string{"detail": "User deleted"})
}

// handleMagicValid asks Canvas whether the stored magic still works.
func (s *Server) handleMagicValid(w http.ResponseWriter, r *http.Request, u *users.User) {
	cred, err := s.credential(r, u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok, err := s.deps.Canvas.ValidateCredential(r.Context(), cred)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, apperr.Unauthorized("The current user's magic was rejected by Canvas"))
		return
	}
	s.writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleListUniversities(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Universities.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateUniversity(w http.ResponseWriter, r *http.Request, u *users.User) {
	if !u.Admin {
		s.writeError(w, r, apperr.Unauthorized("Only administrators may add universities"))
		return
	}
	var uni canvas.University
	if err := decodeJSON(w, r, &uni); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Universities.Create(r.Context(), uni); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, uni)
}
