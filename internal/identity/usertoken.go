package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrNoSigningKey is returned by NewUserTokenIssuer when the secret is empty.
var ErrNoSigningKey = errors.New("jwt signing secret must not be empty")

// UserTokenClaims are the JWT claims for a user session token.
type UserTokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"` // "admin" when set
}

// Signer returns the principal identifier recorded in the ledger: the
// email when present, otherwise the user ID.
func (c *UserTokenClaims) Signer() string {
	if c.Email != "" {
		return c.Email
	}
	return c.UserID
}

// UserTokenIssuer issues and verifies user session JWTs with a shared
// HMAC secret.
type UserTokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewUserTokenIssuer creates a UserTokenIssuer.
//
//	secret   : HMAC-SHA256 key shared with the auth front end.
//	issuerURL: the "iss" claim value.
//	ttl      : token lifetime (default: 24 hours).
func NewUserTokenIssuer(secret []byte, issuerURL string, ttl time.Duration) (*UserTokenIssuer, error) {
	if len(secret) == 0 {
		return nil, ErrNoSigningKey
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &UserTokenIssuer{secret: secret, issuer: issuerURL, ttl: ttl}, nil
}

// Issue creates a signed user session token.
func (u *UserTokenIssuer) Issue(userID, email, role string) (string, error) {
	now := time.Now().UTC()
	claims := UserTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    u.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(u.ttl)),
			ID:        uuid.New().String(),
		},
		UserID: userID,
		Email:  email,
		Role:   role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(u.secret)
	if err != nil {
		return "", fmt.Errorf("sign user token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a user session token, returning its claims.
func (u *UserTokenIssuer) Verify(tokenStr string) (*UserTokenClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&UserTokenClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return u.secret, nil
		},
		jwt.WithIssuer(u.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify user token: %w", err)
	}
	claims, ok := token.Claims.(*UserTokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid user token claims")
	}
	if claims.Signer() == "" {
		return nil, fmt.Errorf("user token carries no subject")
	}
	return claims, nil
}
