package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/model"
)

// contextKey is unexported so only this package can set or read the user.
type contextKey string

const userKey contextKey = "user"

// RequireAuth rejects requests without a valid bearer token.
//
// Token problems answer 401 with {"error", "code"}, where code is one of the
// apperror.Code* reasons. A database failure while resolving the user
// answers 503 instead, so clients do not log the user out over an outage.
func RequireAuth(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// OptionalAuth attaches the user when a valid token is present and lets
// anonymous or badly authenticated requests through untouched.
func OptionalAuth(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if header := r.Header.Get("Authorization"); header != "" {
				if user, err := a.Authenticate(r.Context(), header); err == nil {
					r = r.WithContext(WithUser(r.Context(), user))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, or (nil, false) for
// anonymous requests.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// UserIDFromContext is a shortcut for UserFromContext(ctx).ID.
func UserIDFromContext(ctx context.Context) (string, bool) {
	u, ok := UserFromContext(ctx)
	if !ok {
		return "", false
	}
	return u.ID, true
}

func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	body := map[string]string{"error": "authentication required", "code": apperror.CodeMissingToken}

	var appErr *apperror.AppError
	switch {
	case errors.Is(err, apperror.ErrUnauthorized) && errors.As(err, &appErr):
		body["error"] = appErr.Message
		body["code"] = appErr.Code
	case errors.Is(err, apperror.ErrPoolExhausted):
		status = http.StatusServiceUnavailable
		body["error"] = "database busy, retry later"
		body["code"] = "pool_exhausted"
	default:
		status = http.StatusServiceUnavailable
		body["error"] = "authentication temporarily unavailable"
		body["code"] = "database_error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
