package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mindpoints/backend/internal/config"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingUser  = errors.New("token has no subject")
)

// devSecret is only used outside production when no secret is configured.
const devSecret = "mindpoints-dev-secret"

// Identity is the caller as vouched for by the identity provider. UserID is
// the provider's stable opaque user id.
type Identity struct {
	UserID string
	Email  string
}

type Verifier interface {
	VerifyToken(ctx context.Context, token string) (Identity, error)
}

type verifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

func NewVerifier(cfg config.AuthConfig) *verifier {
	secret := cfg.JWTSecret
	if secret == "" {
		secret = devSecret
	}
	return &verifier{secret: []byte(secret), issuer: cfg.Issuer, audience: cfg.Audience, leeway: 30 * time.Second}
}

// Ensure verifier implements Verifier at compile time.
var _ Verifier = (*verifier)(nil)

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

func (v *verifier) VerifyToken(_ context.Context, token string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, errors.Join(ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return Identity{}, ErrInvalidToken
	}
	sub := strings.TrimSpace(c.Subject)
	if sub == "" {
		return Identity{}, ErrMissingUser
	}
	return Identity{UserID: sub, Email: c.Email}, nil
}
