// Package auth verifies the bearer tokens clients present when opening
// a gateway connection. Tokens are HS256 JWTs issued by the API tier;
// the subject claim carries the user ID.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification:
// bad signature, wrong issuer or audience, expired, or malformed.
var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is the verified identity carried by a token.
type Identity struct {
	UserID   string
	Username string
}

// Config holds token verification settings.
type Config struct {
	Secret   string `env:"TOGETHER_GATEWAY_JWT_SECRET,notEmpty"`
	Issuer   string `env:"TOGETHER_GATEWAY_JWT_ISSUER" envDefault:"together"`
	Audience string `env:"TOGETHER_GATEWAY_JWT_AUDIENCE" envDefault:"together-gateway"`
}

// LoadConfigFromEnv reads the verifier configuration from the
// environment.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("auth: parse env: %w", err)
	}
	return cfg, nil
}

type claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier verifies HS256 tokens against a shared secret.
type TokenVerifier struct {
	config Config

	// now is the clock used for expiry checks; overridable in tests.
	now func() time.Time
}

// NewTokenVerifier creates a verifier for the given configuration.
func NewTokenVerifier(config Config) *TokenVerifier {
	return &TokenVerifier{
		config: config,
		now:    time.Now,
	}
}

// Verify checks the token's signature and claims and returns the
// identity it carries. All failures map to ErrInvalidToken.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c,
		func(t *jwt.Token) (any, error) {
			return []byte(v.config.Secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithAudience(v.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Identity{UserID: c.Subject, Username: c.Username}, nil
}

// Authenticate verifies the token and returns the user ID. It adapts
// the verifier to the gateway's Authenticator interface.
func (v *TokenVerifier) Authenticate(ctx context.Context, token string) (string, error) {
	id, err := v.Verify(ctx, token)
	if err != nil {
		return "", err
	}
	return id.UserID, nil
}

// Issue mints a token for the given identity, valid for ttl. Used by
// tests and local tooling; production tokens come from the API tier.
func (v *TokenVerifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := v.now()
	c := claims{
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    v.config.Issuer,
			Audience:  jwt.ClaimStrings{v.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(v.config.Secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
