// Package authz gates the admin-leaning surface behind an optional bearer
// JWT. §6 reserves JWT_SECRET_KEY "for future"; when unset, every route is
// open (the zero value of AuthConfig.JWTSecret disables this package
// entirely). Grounded on the teacher's internal/middleware/auth.go
// Authorization-header/Bearer-prefix parsing, narrowed from the teacher's
// API-key-or-JWT dual path down to JWT-only since nothing in this domain
// issues API keys.
package authz

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mbti-rec/server/internal/config"
)

var (
	ErrMissingToken = errors.New("authorization token is required")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims identifies the admin principal a token was issued to.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// Guard validates admin bearer tokens against a single HMAC secret. A zero
// value Guard (Enabled() == false) means the secret was never configured and
// every caller should let requests through unauthenticated.
type Guard struct {
	secret []byte
	ttl    time.Duration
}

func New(cfg config.AuthConfig) *Guard {
	return &Guard{secret: []byte(cfg.JWTSecret), ttl: cfg.TokenTTL}
}

// Enabled reports whether JWT_SECRET_KEY was set; callers skip enforcement
// entirely when it wasn't (§6).
func (g *Guard) Enabled() bool {
	return len(g.secret) > 0
}

// Issue mints a token for subject, used by whatever out-of-band process
// hands out admin credentials; this service only validates, it has no login
// endpoint of its own.
func (g *Guard) Issue(subject string) (string, error) {
	now := time.Now()
	claims := Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// Validate parses and verifies tokenString, returning the claims on success.
func (g *Guard) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
