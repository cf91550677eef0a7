// Package auth resolves the caller identity: JWT bearer tokens, context
// helpers and the development fallback.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when no caller identity can be established.
var ErrUnauthenticated = errors.New("authentication required")

type contextKey string

const ctxKeyIdentity contextKey = "identity"

// Config holds identity settings.
type Config struct {
	JWTSecret   string
	DevMode     bool
	DevIdentity string
}

// Enabled reports whether bearer tokens are verified.
func (c Config) Enabled() bool {
	return c.JWTSecret != ""
}

// Claims are the JWT claims this service reads. The subject is the caller
// identity.
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for subject that expires after ttl.
func GenerateToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies tokenString against secret and returns its claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	if secret == "" {
		return nil, errors.New("token verification not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// IdentityFromToken verifies a raw token and returns its subject.
func (c Config) IdentityFromToken(tokenString string) (string, error) {
	claims, err := ParseToken(c.JWTSecret, tokenString)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return claims.Subject, nil
}

// Resolve returns the caller identity from ctx. Without one, the development
// identity is used only when DevMode is enabled.
func (c Config) Resolve(ctx context.Context) (string, error) {
	if id := IdentityFrom(ctx); id != "" {
		return id, nil
	}
	if c.DevMode && c.DevIdentity != "" {
		return c.DevIdentity, nil
	}
	return "", ErrUnauthenticated
}

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, identity)
}

// IdentityFrom returns the caller identity stored in ctx, or "".
func IdentityFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyIdentity).(string)
	return id
}
