package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/exemi-au/exemi/internal/apperr"
)

// ErrTokenExpired is returned when a session or magic envelope has
// passed its expiry.
var ErrTokenExpired = errors.New("token expired")

// Issuer signs and verifies session tokens and magic envelopes with a
// single HS256 secret.
type Issuer struct {
	secret     []byte
	sessionTTL time.Duration
	magicTTL   time.Duration
	sealer     *sealer
	now        func() time.Time
}

// NewIssuer builds an Issuer. secret must be non-empty.
func NewIssuer(secret string, sessionTTL, magicTTL time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("empty signing secret")
	}
	s, err := newSealer([]byte(secret))
	if err != nil {
		return nil, err
	}
	return &Issuer{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		magicTTL:   magicTTL,
		sealer:     s,
		now:        time.Now,
	}, nil
}

// SessionTTL is the lifetime of tokens from IssueSession.
func (i *Issuer) SessionTTL() time.Duration { return i.sessionTTL }

// IssueSession returns a bearer token naming username as the subject.
func (i *Issuer) IssueSession(username string) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.sessionTTL)),
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// ParseSession validates a bearer token and returns its subject. All
// failures are Unauthorized.
func (i *Issuer) ParseSession(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if err := i.parse(token, claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", apperr.Unauthorized("Could not validate credentials")
	}
	return claims.Subject, nil
}

func (i *Issuer) parse(token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperr.Wrap(apperr.KindUnauthorized, ErrTokenExpired, "Could not validate credentials")
	default:
		return apperr.Wrap(apperr.KindUnauthorized, err, "Could not validate credentials")
	}
}
