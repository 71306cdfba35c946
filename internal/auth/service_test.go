package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mindpoints/backend/internal/config"
)

func sign(t *testing.T, secret string, method jwt.SigningMethod, c claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, c).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func validClaims(sub string) claims {
	return claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "https://id.mind.example",
			Audience:  jwt.ClaimStrings{"mindpoints"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Email: "learner@mind.example",
	}
}

func TestVerifyToken(t *testing.T) {
	v := NewVerifier(config.AuthConfig{JWTSecret: "s3cret", Issuer: "https://id.mind.example", Audience: "mindpoints"})
	ctx := context.Background()

	id, err := v.VerifyToken(ctx, sign(t, "s3cret", jwt.SigningMethodHS256, validClaims("user_2abc")))
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if id.UserID != "user_2abc" || id.Email != "learner@mind.example" {
		t.Errorf("identity: %+v", id)
	}

	expired := validClaims("user_2abc")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := validClaims("user_2abc")
	wrongIssuer.Issuer = "https://evil.example"
	noExpiry := validClaims("user_2abc")
	noExpiry.ExpiresAt = nil

	cases := map[string]string{
		"wrong secret": sign(t, "other", jwt.SigningMethodHS256, validClaims("user_2abc")),
		"wrong alg":    sign(t, "s3cret", jwt.SigningMethodHS512, validClaims("user_2abc")),
		"expired":      sign(t, "s3cret", jwt.SigningMethodHS256, expired),
		"issuer":       sign(t, "s3cret", jwt.SigningMethodHS256, wrongIssuer),
		"no expiry":    sign(t, "s3cret", jwt.SigningMethodHS256, noExpiry),
		"garbage":      "not-a-jwt",
	}
	for name, tok := range cases {
		if _, err := v.VerifyToken(ctx, tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}

	if _, err := v.VerifyToken(ctx, sign(t, "s3cret", jwt.SigningMethodHS256, validClaims(" "))); !errors.Is(err, ErrMissingUser) {
		t.Errorf("blank subject: got %v", err)
	}
}
