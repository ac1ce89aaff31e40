package handler_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/civicfix/internal/model"
)

type authBody struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

func TestSignupThenLogin(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/auth/signup", map[string]string{
		"email":    "Ada@Example.com",
		"password": "correct horse",
		"name":     "Ada",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	signup := decode[authBody](t, rec)
	assert.NotEmpty(t, signup.Token)
	assert.Equal(t, "ada@example.com", signup.User.Email)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = api.do(t, http.MethodPost, "/auth/login-with-password", map[string]string{
		"email":    "ada@example.com",
		"password": "correct horse",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decode[authBody](t, rec)
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, signup.User.ID, login.User.ID)

	rec = api.do(t, http.MethodPost, "/auth/signup", map[string]string{
		"email":    "ada@example.com",
		"password": "another password",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLogin_FailuresLookAlike(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodPost, "/auth/signup", map[string]string{
		"email": "ada@example.com", "password": "correct horse",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	unknown := api.do(t, http.MethodPost, "/auth/login-with-password", map[string]string{
		"email": "nobody@example.com", "password": "correct horse",
	}, nil)
	wrong := api.do(t, http.MethodPost, "/auth/login-with-password", map[string]string{
		"email": "ada@example.com", "password": "wrong horse",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, unknown.Code, wrong.Code)
	assert.Equal(t, unknown.Body.String(), wrong.Body.String())
	assert.Equal(t, "bad_credentials", decode[errorBody](t, wrong).Code)
}

func TestLogin_Validation(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name      string
		body      map[string]string
		wantField string
	}{
		{"missing email", map[string]string{"password": "correct horse"}, "email"},
		{"missing password", map[string]string{"email": "ada@example.com"}, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/auth/login-with-password", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			got := decode[errorBody](t, rec)
			assert.Equal(t, "validation_error", got.Code)
			assert.Equal(t, tt.wantField, got.Field)
		})
	}
}

func TestGitHubLogin_NotConfigured(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/auth/github/login", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
