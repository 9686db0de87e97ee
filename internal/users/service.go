package users

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/auth"
)

// Service implements account operations on top of a Store.
type Service struct {
	store  *Store
	issuer *auth.Issuer
	logger *slog.Logger
}

// NewService builds a Service. A nil logger uses slog.Default().
func NewService(store *Store, issuer *auth.Issuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, issuer: issuer, logger: logger}
}

// errBadLogin is returned for both unknown users and wrong passwords so
// callers cannot probe which usernames exist.
var errBadLogin = apperr.Unauthorized("User ID or password is incorrect")

// Register creates an account. The magic, when supplied, is sealed
// before it is stored.
func (s *Service) Register(ctx context.Context, req CreateRequest) (*User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return nil, apperr.Validation("username must not be empty")
	}
	if req.Password == "" {
		return nil, apperr.Validation("password must not be empty")
	}

	if _, err := s.store.GetByUsername(ctx, req.Username); err == nil {
		return nil, apperr.Conflict("Username is already taken")
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Username:      req.Username,
		PasswordHash:  hash,
		MagicProvider: req.MagicProvider,
	}
	if req.Magic != "" {
		if u.MagicHash, err = s.issuer.SealMagic(req.Magic, req.MagicProvider); err != nil {
			return nil, err
		}
	}

	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "user", u.Username, "provider", u.MagicProvider)
	return u, nil
}

// CreateAdmin registers an administrator account. It is used by the
// useradd command to bootstrap a deployment.
func (s *Service) CreateAdmin(ctx context.Context, username, password string) (*User, error) {
	u, err := s.Register(ctx, CreateRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	u.Admin = true
	if err := s.store.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate checks a username and password.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.store.GetByUsername(ctx, username)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, errBadLogin
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, errBadLogin
	}
	if u.Disabled {
		return nil, apperr.Unauthorized("Inactive user")
	}
	return u, nil
}

// Login authenticates and issues a bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (string, *User, error) {
	u, err := s.Authenticate(ctx, username, password)
	if err != nil {
		s.logger.Debug("login rejected", "user", username, "error", err)
		return "", nil, err
	}
	token, err := s.issuer.IssueSession(u.Username)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// FromToken resolves a bearer token to an active user. Every failure is
// Unauthorized.
func (s *Service) FromToken(ctx context.Context, token string) (*User, error) {
	username, err := s.issuer.ParseSession(token)
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetByUsername(ctx, username)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Unauthorized("Could not validate credentials")
	}
	if err != nil {
		return nil, err
	}
	if u.Disabled {
		return nil, apperr.Unauthorized("Inactive user")
	}
	return u, nil
}

// Update applies a self-service profile change. Changing the provider
// without supplying a new magic discards the stored magic, because a
// sealed magic is bound to the provider it was issued for.
func (s *Service) Update(ctx context.Context, u *User, req UpdateRequest) (*User, error) {
	updated := *u
	if req.Password != nil {
		if *req.Password == "" {
			return nil, apperr.Validation("password must not be empty")
		}
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		updated.PasswordHash = hash
	}
	if req.MagicProvider != nil && *req.MagicProvider != updated.MagicProvider {
		updated.MagicProvider = *req.MagicProvider
		updated.MagicHash = ""
	}
	if req.Magic != nil {
		if *req.Magic == "" {
			updated.MagicHash = ""
		} else {
			sealed, err := s.issuer.SealMagic(*req.Magic, updated.MagicProvider)
			if err != nil {
				return nil, err
			}
			updated.MagicHash = sealed
		}
	}

	if err := s.store.Update(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Magic unseals the user's Canvas token.
func (s *Service) Magic(u *User) (string, error) {
	return s.issuer.OpenMagic(u.MagicHash, u.MagicProvider)
}

// Get returns a user by name. Only admins may look up other users.
func (s *Service) Get(ctx context.Context, actor *User, username string) (*User, error) {
	if actor.Username != username && !actor.Admin {
		return nil, apperr.Unauthorized("You do not have permission to access that resource")
	}
	return s.store.GetByUsername(ctx, username)
}

// List returns all users. Admin only.
func (s *Service) List(ctx context.Context, actor *User, offset, limit int) ([]*User, error) {
	if !actor.Admin {
		return nil, apperr.Unauthorized("Only administrators may list users")
	}
	return s.store.List(ctx, offset, limit)
}

// Delete removes a user and everything they own. Admin only.
func (s *Service) Delete(ctx context.Context, actor *User, username string) error {
	if !actor.Admin {
		return apperr.Unauthorized("Only administrators may delete users")
	}
	target, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, target.ID); err != nil {
		return err
	}
	s.logger.Info("user deleted", "user", username, "by", actor.Username)
	return nil
}
