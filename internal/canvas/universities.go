package canvas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/database"
)

// University maps a provider name to its Canvas host.
type University struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

// Universities stores the provider table and resolves credentials.
type Universities struct {
	db             *database.DB
	defaultBaseURL string
}

// NewUniversities builds the provider table. defaultBaseURL is used for
// providers with no row and may be empty.
func NewUniversities(db *database.DB, defaultBaseURL string) *Universities {
	return &Universities{db: db, defaultBaseURL: defaultBaseURL}
}

// Create adds a university. A duplicate name is a Conflict.
func (u *Universities) Create(ctx context.Context, uni University) error {
	uni.Name = strings.TrimSpace(uni.Name)
	if uni.Name == "" || uni.BaseURL == "" {
		return apperr.Validation("name and base_url are required")
	}
	_, err := u.db.ExecContext(ctx, u.db.Rebind(
		`INSERT INTO universities (name, base_url) VALUES (?, ?)`), uni.Name, uni.BaseURL)
	if database.IsUniqueViolation(err) {
		return apperr.Conflict("University %q already exists", uni.Name)
	}
	if err != nil {
		return fmt.Errorf("insert university: %w", err)
	}
	return nil
}

// List returns all universities by name.
func (u *Universities) List(ctx context.Context) ([]University, error) {
	rows, err := u.db.QueryContext(ctx, `SELECT name, base_url FROM universities ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list universities: %w", err)
	}
	defer rows.Close()

	out := []University{}
	for rows.Next() {
		var uni University
		if err := rows.Scan(&uni.Name, &uni.BaseURL); err != nil {
			return nil, err
		}
		out = append(out, uni)
	}
	return out, rows.Err()
}

// BaseURL returns the Canvas host for provider.
func (u *Universities) BaseURL(ctx context.Context, provider string) (string, error) {
	var base string
	err := u.db.QueryRowContext(ctx, u.db.Rebind(
		`SELECT base_url FROM universities WHERE name = ?`), provider).Scan(&base)
	switch {
	case err == nil:
		return base, nil
	case errors.Is(err, sql.ErrNoRows):
		if u.defaultBaseURL != "" {
			return u.defaultBaseURL, nil
		}
		return "", apperr.Unauthorized("The current user must have a university assigned")
	default:
		return "", fmt.Errorf("resolve university %q: %w", provider, err)
	}
}

// Credential builds the Canvas credential for a provider and token.
func (u *Universities) Credential(ctx context.Context, provider, token string) (Credential, error) {
	base, err := u.BaseURL(ctx, provider)
	if err != nil {
		return Credential{}, err
	}
	return Credential{BaseURL: base, Token: token, Provider: provider}, nil
}

func isUnauthorized(err error) bool {
	return errors.Is(err, apperr.ErrUnauthorized)
}
