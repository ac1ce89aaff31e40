package auth

import (
	"strings"

	"github.com/sakif/civicfix/internal/apperror"
)

// ParseBearer extracts the token from an Authorization header value.
//
// Every malformed shape maps to its own stable code, checked in this order:
//
//	""                 → missing_token
//	"   ", "Bearer"    → empty_token
//	"Basic abc", "abc" → invalid_scheme
//	"Bearer abc "      → trailing_whitespace
//	"Bearer a b"       → malformed_token (also anything that is not a compact JWS)
//
// The scheme is matched case-insensitively (RFC 7235).
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", apperror.Unauthorized(apperror.CodeMissingToken, "authorization header is missing")
	}

	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", apperror.Unauthorized(apperror.CodeEmptyToken, "authorization header is empty")
	}

	scheme, rest, _ := strings.Cut(trimmed, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", apperror.Unauthorized(apperror.CodeInvalidScheme, "authorization header must use the Bearer scheme")
	}

	token := strings.TrimLeft(rest, " ")
	if token == "" {
		return "", apperror.Unauthorized(apperror.CodeEmptyToken, "bearer token is empty")
	}

	if trimmed != strings.TrimLeft(header, " \t") {
		return "", apperror.Unauthorized(apperror.CodeTrailingWhitespace, "bearer token has trailing whitespace")
	}

	if strings.ContainsAny(token, " \t") || strings.Count(token, ".") != 2 {
		return "", apperror.Unauthorized(apperror.CodeMalformedToken, "bearer token is not a valid JWT")
	}

	return token, nil
}
