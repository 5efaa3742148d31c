package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/appgarcom/prestador/internal/clock"
	"github.com/appgarcom/prestador/internal/models"
)

// ErrInvalidToken indicates a session token that failed verification.
var ErrInvalidToken = errors.New("invalid session token")

// TokenManager issues and verifies the signed JWTs backing a session.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a manager with the provided secret, issuer, and lifetime.
func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock makes issuing and verification read time from c.
func (t *TokenManager) WithClock(c clock.Clock) *TokenManager {
	t.now = c.Now
	return t
}

type sessionClaims struct {
	Email string `json:"email"`
	Name  string `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a session for the user, valid for the configured lifetime.
func (t *TokenManager) Issue(user models.User) (*models.Session, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := sessionClaims{
		Email: user.Email,
		Name:  user.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}
	return &models.Session{
		Token:     signed,
		ExpiresAt: expires.Truncate(time.Second),
		User:      user,
	}, nil
}

// Verify parses a session token and rebuilds the session it describes.
func (t *TokenManager) Verify(raw string) (*models.Session, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &models.Session{
		Token:     raw,
		ExpiresAt: claims.ExpiresAt.Time,
		User: models.User{
			ID:          claims.Subject,
			Email:       claims.Email,
			DisplayName: claims.Name,
		},
	}, nil
}
