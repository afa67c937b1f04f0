// Package auth implements the credential primitives of the gateway: JWT
// issuance and verification, password hashing and the lockout policy.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims are the JWT claims minted by the gateway. Refresh tokens only carry
// UserID and Type.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	Type     string `json:"type"`
}

// IsAccess reports whether c has the shape of an access token.
func (c *Claims) IsAccess() bool {
	return c.Type == TokenTypeAccess && c.UserID != "" && c.Username != "" && c.Role != ""
}

// IsRefresh reports whether c has the shape of a refresh token.
func (c *Claims) IsRefresh() bool {
	return c.Type == TokenTypeRefresh && c.UserID != ""
}

// Issuer signs and verifies HS256 tokens with a single shared secret.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer returns an Issuer using secretKey. An empty secret is rejected.
func NewIssuer(secretKey string) (*Issuer, error) {
	if secretKey == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &Issuer{secret: []byte(secretKey), now: time.Now}, nil
}

// IssueAccessToken mints an access token valid for ttl.
func (i *Issuer) IssueAccessToken(userID, username, role string, ttl time.Duration) (string, time.Time, error) {
	return i.sign(Claims{UserID: userID, Username: username, Role: role, Type: TokenTypeAccess}, ttl)
}

// IssueRefreshToken mints a refresh token valid for ttl.
func (i *Issuer) IssueRefreshToken(userID string, ttl time.Duration) (string, time.Time, error) {
	return i.sign(Claims{UserID: userID, Type: TokenTypeRefresh}, ttl)
}

func (i *Issuer) sign(claims Claims, ttl time.Duration) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(ttl)

	// jti keeps tokens minted within the same second distinct.
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Verify checks the signature and expiry of tokenString and returns its
// claims. Expired tokens yield common.ErrTokenExpired, every other failure
// common.ErrInvalidToken.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
