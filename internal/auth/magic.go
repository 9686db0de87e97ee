package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/exemi-au/exemi/internal/apperr"
)

// magicClaims is the signed envelope stored in users.magic_hash. Sealed
// holds the XChaCha20-Poly1305 ciphertext of the Canvas token, bound to
// Provider as associated data.
type magicClaims struct {
	jwt.RegisteredClaims
	Provider string `json:"prv"`
	Sealed   string `json:"mgc"`
}

type sealer struct {
	key []byte
}

func newSealer(secret []byte) (*sealer, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte("exemi magic v1"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive magic key: %w", err)
	}
	return &sealer{key: key}, nil
}

func (s *sealer) seal(plaintext, provider string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), []byte(provider))
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *sealer) open(sealed, provider string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("sealed magic too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(provider))
	if err != nil {
		return "", errors.New("sealed magic failed authentication")
	}
	return string(plain), nil
}

// SealMagic encrypts a Canvas access token for storage and wraps it in
// a signed envelope that expires after the configured magic TTL. The
// plaintext token is never written to the database.
func (i *Issuer) SealMagic(token, provider string) (string, error) {
	if token == "" {
		return "", apperr.Validation("magic must not be empty")
	}
	sealed, err := i.sealer.seal(token, provider)
	if err != nil {
		return "", fmt.Errorf("seal magic: %w", err)
	}
	now := i.now()
	envelope := jwt.NewWithClaims(jwt.SigningMethodHS256, magicClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.magicTTL)),
		},
		Provider: provider,
		Sealed:   sealed,
	})
	signed, err := envelope.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign magic: %w", err)
	}
	return signed, nil
}

// OpenMagic verifies an envelope from SealMagic and returns the Canvas
// token. An expired, tampered or provider-mismatched envelope is
// Unauthorized.
func (i *Issuer) OpenMagic(envelope, provider string) (string, error) {
	if envelope == "" {
		return "", apperr.Unauthorized("The current user has no magic")
	}
	claims := &magicClaims{}
	if err := i.parse(envelope, claims); err != nil {
		return "", apperr.Wrap(apperr.KindUnauthorized, err, "The current user's magic is not valid")
	}
	if claims.Provider != provider {
		return "", apperr.Unauthorized("The current user's magic was issued for a different provider")
	}
	token, err := i.sealer.open(claims.Sealed, provider)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnauthorized, err, "The current user's magic is not valid")
	}
	return token, nil
}
