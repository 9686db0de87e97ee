package api

import (
	"net/http"

	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/canvas"
	"github.com/exemi-au/exemi/internal/users"
)

type userHandler func(w http.ResponseWriter, r *http.Request, u *users.User)

type canvasHandler func(w http.ResponseWriter, r *http.Request, u *users.User, cred canvas.Credential)

// authed resolves the bearer token to an active user.
func (s *Server) authed(h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.writeError(w, r, apperr.Unauthorized("Not authenticated"))
			return
		}
		u, err := s.deps.Users.FromToken(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		h(w, r, u)
	}
}

// withCanvas additionally unseals the user's magic into a Canvas
// credential for their university.
func (s *Server) withCanvas(h canvasHandler) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, u *users.User) {
		cred, err := s.credential(r, u)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		h(w, r, u, cred)
	})
}

func (s *Server) credential(r *http.Request, u *users.User) (canvas.Credential, error) {
	if !u.HasMagic() {
		return canvas.Credential{}, apperr.Unauthorized("The current user has no magic")
	}
	token, err := s.deps.Users.Magic(u)
	if err != nil {
		return canvas.Credential{}, err
	}
	return s.deps.Universities.Credential(r.Context(), u.MagicProvider, token)
}
