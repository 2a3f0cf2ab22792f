// Package auth provides the credential primitives used by the auth service:
// signed tokens, password hashing, Google sign-in and the HTTP middleware
// that turns a token into a request identity.
//
// Tokens are HS256 JWTs. Every token carries a purpose claim so a password
// reset token can never be replayed as a session token and vice versa.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is written to and required in the "iss" claim.
const Issuer = "quest-platform"

// MinSecretLength is the shortest signing secret NewTokenService accepts.
const MinSecretLength = 16

var (
	// ErrTokenExpired is returned by Verify when the signature is valid but
	// the expiry has passed.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenInvalid covers every other failure: bad signature, malformed
	// input, wrong issuer or algorithm, wrong purpose, missing subject.
	ErrTokenInvalid = errors.New("auth: invalid token")
)

// Purpose scopes what a token may be used for.
type Purpose string

const (
	PurposeSession       Purpose = "session"
	PurposePasswordReset Purpose = "password_reset"
)

// Claims is the JWT payload. The user ID travels in the standard "sub"
// claim; the identity fields are only populated on session tokens.
type Claims struct {
	Email    string  `json:"email,omitempty"`
	UserName string  `json:"userName,omitempty"`
	Role     string  `json:"role,omitempty"`
	Purpose  Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// UserID returns the subject of the token.
func (c *Claims) UserID() string {
	return c.Subject
}

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", MinSecretLength)
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs c with an expiry of now+ttl. Issuer and timestamps on c are
// overwritten; Subject and Purpose must be set by the caller.
func (s *TokenService) Issue(c Claims, ttl time.Duration) (string, error) {
	if c.Subject == "" {
		return "", errors.New("auth: token subject must not be empty")
	}
	if c.Purpose == "" {
		return "", errors.New("auth: token purpose must not be empty")
	}

	now := s.now()
	c.Issuer = Issuer
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Verify parses tokenStr, checks signature, issuer, algorithm and expiry,
// and requires the purpose claim to equal want.
//
// The returned error wraps ErrTokenExpired or ErrTokenInvalid so callers
// can tell "log in again" apart from "this was never valid".
func (s *TokenService) Verify(tokenStr string, want Purpose) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrTokenInvalid)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrTokenInvalid)
	}
	if c.Purpose != want {
		return nil, fmt.Errorf("%w: purpose %q, want %q", ErrTokenInvalid, c.Purpose, want)
	}

	return c, nil
}
