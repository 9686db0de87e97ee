package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exemi-au/exemi/internal/apperr"
)

const testSecret = "0123456789abcdef-test-secret"

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer(testSecret, 30*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	return i
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "battery staple"))

	_, err = HashPassword("")
	assert.Error(t, err)
}

func TestSession_RoundTrip(t *testing.T) {
	i := newTestIssuer(t)

	tok, err := i.IssueSession("alice")
	require.NoError(t, err)

	got, err := i.ParseSession(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", got)
}

func TestSession_Expired(t *testing.T) {
	i := newTestIssuer(t)
	tok, err := i.IssueSession("alice")
	require.NoError(t, err)

	i.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	_, err = i.ParseSession(tok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTokenExpired))
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestSession_WrongSecret(t *testing.T) {
	a := newTestIssuer(t)
	b, err := NewIssuer("another-secret-entirely", time.Minute, time.Minute)
	require.NoError(t, err)

	tok, err := a.IssueSession("alice")
	require.NoError(t, err)

	_, err = b.ParseSession(tok)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
}

func TestSession_Garbage(t *testing.T) {
	_, err := newTestIssuer(t).ParseSession("not.a.jwt")
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
}

func TestMagic_RoundTrip(t *testing.T) {
	i := newTestIssuer(t)

	envelope, err := i.SealMagic("canvas-token-1234", "Swinburne")
	require.NoError(t, err)
	assert.NotContains(t, envelope, "canvas-token-1234")

	got, err := i.OpenMagic(envelope, "Swinburne")
	require.NoError(t, err)
	assert.Equal(t, "canvas-token-1234", got)
}

func TestMagic_Failures(t *testing.T) {
	i := newTestIssuer(t)
	envelope, err := i.SealMagic("canvas-token-1234", "Swinburne")
	require.NoError(t, err)

	t.Run("provider mismatch", func(t *testing.T) {
		_, err := i.OpenMagic(envelope, "Monash")
		assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	})

	t.Run("expired", func(t *testing.T) {
		later := newTestIssuer(t)
		later.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
		_, err := later.OpenMagic(envelope, "Swinburne")
		assert.True(t, errors.Is(err, ErrTokenExpired))
	})

	t.Run("tampered", func(t *testing.T) {
		parts := strings.Split(envelope, ".")
		require.Len(t, parts, 3)
		parts[2] = strings.Repeat("A", len(parts[2]))
		_, err := i.OpenMagic(strings.Join(parts, "."), "Swinburne")
		assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	})

	t.Run("empty", func(t *testing.T) {
		_, err := i.OpenMagic("", "Swinburne")
		assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := i.SealMagic("", "Swinburne")
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})
}

func TestSealer_BindsProvider(t *testing.T) {
	s, err := newSealer([]byte(testSecret))
	require.NoError(t, err)

	sealed, err := s.seal("tok", "Swinburne")
	require.NoError(t, err)

	_, err = s.open(sealed, "Monash")
	assert.Error(t, err)

	plain, err := s.open(sealed, "Swinburne")
	require.NoError(t, err)
	assert.Equal(t, "tok", plain)
}
