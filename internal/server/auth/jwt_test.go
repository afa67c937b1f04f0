package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T, secret string, now time.Time) *Issuer {
	t.Helper()
	i, err := NewIssuer(secret)
	require.NoError(t, err)
	i.now = func() time.Time { return now }
	return i
}

func TestNewIssuer_EmptySecret(t *testing.T) {
	_, err := NewIssuer("")
	require.Error(t, err)
}

func TestAccessToken_RoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	i := newTestIssuer(t, "super-secret", now)

	tok, exp, err := i.IssueAccessToken("user-123", "alice", "admin", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), exp)

	claims, err := i.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, TokenTypeAccess, claims.Type)
	assert.True(t, claims.IsAccess())
	assert.False(t, claims.IsRefresh())
	assert.NotEmpty(t, claims.ID)
}

func TestRefreshToken_RoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	i := newTestIssuer(t, "super-secret", now)

	tok, exp, err := i.IssueRefreshToken("user-123", 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, now.Add(7*24*time.Hour), exp)

	claims, err := i.Verify(tok)
	require.NoError(t, err)
	assert.True(t, claims.IsRefresh())
	assert.False(t, claims.IsAccess(), "refresh token must not pass as access token")
}

func TestTokens_UniqueWithinSameSecond(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(t, "k", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	a, _, err := i.IssueAccessToken("u1", "alice", "user", time.Hour)
	require.NoError(t, err)
	b, _, err := i.IssueAccessToken("u1", "alice", "user", time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	i := newTestIssuer(t, "secret", now)

	tok, _, err := i.IssueAccessToken("u1", "alice", "user", time.Minute)
	require.NoError(t, err)

	i.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = i.Verify(tok)
	if !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tok, _, err := newTestIssuer(t, "right-secret", now).IssueAccessToken("u2", "bob", "user", time.Hour)
	require.NoError(t, err)

	_, err = newTestIssuer(t, "wrong-secret", now).Verify(tok)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestVerify_MalformedString(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(t, "k", time.Now())
	_, err := i.Verify("not.a.jwt")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestVerify_RejectsUnsignedToken(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(t, "k", time.Now())
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           "u1",
		Username:         "alice",
		Role:             "admin",
		Type:             TokenTypeAccess,
	})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = i.Verify(s)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestVerify_RequiresExpiry(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(t, "k", time.Now())
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "u1", Type: TokenTypeRefresh})
	s, err := tok.SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = i.Verify(s)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestClaims_IsAccess_RequiresIdentity(t *testing.T) {
	assert.False(t, (&Claims{Type: TokenTypeAccess, UserID: "u1", Role: "user"}).IsAccess())
	assert.False(t, (&Claims{Type: TokenTypeAccess, Username: "a", Role: "user"}).IsAccess())
	assert.False(t, (&Claims{Type: TokenTypeRefresh}).IsRefresh())
}
