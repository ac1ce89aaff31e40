// Package auth authenticates API callers.
//
// Two kinds of bearer token are accepted:
//
//  1. Session tokens this service signs with SECRET_KEY after a password or
//     GitHub login (issuer "civicfix").
//  2. Tokens minted by the external identity provider and signed with its
//     shared secret (JWT_SECRET). These carry the provider's issuer and the
//     "authenticated" audience.
//
// The Authenticator reads the unverified issuer to pick the right verifier,
// verifies signature, expiry and issuer, then resolves the local user.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/civicfix/internal/apperror"
)

// TokenIssuer is the "iss" of session tokens signed by this service.
const TokenIssuer = "civicfix"

// TokenTTL is the lifetime of a session token.
const TokenTTL = 24 * time.Hour

// TokenService signs and validates session tokens with HS256.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// Generate one with: openssl rand -hex 32
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: token secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a session token for userID, valid for TokenTTL.
func (s *TokenService) Generate(userID string) (string, error) {
	return s.GenerateWithDuration(userID, TokenTTL)
}

// GenerateWithDuration signs a token with a custom lifetime. Tests use a
// negative duration to mint expired tokens.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    TokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies a session token and returns the user ID in its subject.
// Failures are *apperror.AppError with an Unauthorized code.
//
// jwt.WithValidMethods rejects "none" and asymmetric algorithms, so a token
// cannot pick its own verification method.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", classify(err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Subject == "" {
		return "", apperror.Unauthorized(apperror.CodeInvalidClaims, "token has no subject")
	}
	return c.Subject, nil
}

// classify maps jwt parse errors onto stable reason codes.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperror.Unauthorized(apperror.CodeExpiredToken, "token has expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return apperror.Unauthorized(apperror.CodeMalformedToken, "token is malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperror.Unauthorized(apperror.CodeInvalidSignature, "token signature is invalid")
	default:
		return apperror.Unauthorized(apperror.CodeInvalidClaims, "token claims are invalid")
	}
}
