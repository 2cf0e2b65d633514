package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/golang-jwt/jwt/v5"
)

// Token represents a bearer token.
type Token struct {
	AccessToken  string    `json:"access_token"            yaml:"access_token"`
	TokenType    string    `json:"token_type,omitempty"    yaml:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	ExpiresIn    int       `json:"expires_in,omitempty"    yaml:"expires_in,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"    yaml:"expires_at,omitempty"`
}

// Valid returns true if the token is present and not within the expiration buffer.
func (t *Token) Valid() bool {
	if t == nil || t.AccessToken == "" {
		return false
	}

	if t.ExpiresAt.IsZero() {
		return true
	}

	return time.Now().Add(constants.TokenExpirationBuffer).Before(t.ExpiresAt)
}

// TokenFromRaw builds a Token from a raw bearer string, reading the expiry
// from the JWT exp claim when the string is a JWT.
func TokenFromRaw(raw string) *Token {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))

	token := &Token{AccessToken: raw, TokenType: "bearer"}

	expiresAt, err := ParseExpiry(raw)
	if err == nil {
		token.ExpiresAt = expiresAt
	}

	return token
}

// ParseExpiry returns the exp claim of a JWT without verifying its signature.
func ParseExpiry(raw string) (time.Time, error) {
	if strings.Count(raw, ".") != 2 {
		return time.Time{}, constants.ErrInvalidJWTFormat
	}

	claims := jwt.MapClaims{}

	_, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", constants.ErrInvalidJWTFormat, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", constants.ErrInvalidJWTFormat, err)
	}

	if exp == nil {
		return time.Time{}, constants.ErrNoExpirationClaim
	}

	return exp.Time, nil
}
