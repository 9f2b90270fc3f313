package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService signs and validates session tokens.
//
// The session layer keeps all real state (the user, the decrypted vault
// secret) in a server-side registry keyed by session ID. The JWT handed to
// the UI collaborator carries only that session ID, signed so it cannot be
// forged or swapped, and an expiry. Nothing secret rides in the token, and
// logout destroys the server-side entry regardless of who still holds the
// token string.
//
// The signing secret is generated fresh per process: sessions are local to
// one running process by design, so a restart invalidating every token is
// the intended behaviour, not a bug.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with a random per-process secret
// and the given session lifetime.
func NewTokenService(ttl time.Duration) (*TokenService, error) {
	if ttl <= 0 {
		return nil, errors.New("auth: session TTL must be positive")
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("auth: generating token secret: %w", err)
	}

	return &TokenService{secret: secret, ttl: ttl}, nil
}

// claims embeds jwt.RegisteredClaims; the session ID travels in "sub".
type claims struct {
	jwt.RegisteredClaims
}

// Generate creates and signs a token for the given session ID.
//
// Signing algorithm: HS256 (HMAC-SHA256). Symmetric signing is right here:
// the same process both issues and verifies, so there is no key to share.
func (s *TokenService) Generate(sessionID string) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    "seriescope",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a token string and returns the session ID.
//
// jwt.WithValidMethods pins HS256 so a token claiming alg "none" (or an
// asymmetric algorithm) is rejected before signature verification.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer("seriescope"),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || c.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}

	return c.Subject, nil
}
