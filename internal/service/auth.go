package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/auth"
	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
)

const (
	MinPasswordLength = 8
	MaxNameLength     = 100
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// AuthService handles signup and the credential-based login flows. Bearer
// token authentication lives in auth.Authenticator.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	sanitizer *Sanitizer
	logger    *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	sanitizer *Sanitizer,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// AuthResult bundles the user with a freshly issued session token.
type AuthResult struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// errBadCredentials is the single answer for every failed password login,
// whatever the reason.
func errBadCredentials() error {
	return apperror.Unauthorized(apperror.CodeBadCredentials, "invalid email or password")
}

// Signup creates a password account and logs it in.
func (s *AuthService) Signup(ctx context.Context, email, password, name string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = s.sanitizer.Text(name)

	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if !emailPattern.MatchString(email) {
		return nil, apperror.ValidationFailed("email", "invalid email format")
	}
	if len(password) < MinPasswordLength {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > auth.MaxPasswordBytes {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}
	if len(name) > MaxNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: &hash,
		Role:         model.RoleCitizen,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user signed up", slog.String("userID", user.ID))
	return s.issue(user)
}

// LoginWithPassword checks an email and password pair.
//
// Missing fields are rejected before the repository is touched. An unknown
// email, an account without a password and a wrong password all run exactly
// one bcrypt comparison and return the same bad_credentials error, so
// neither the response nor its timing tells which emails are registered.
func (s *AuthService) LoginWithPassword(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		s.passwords.VerifyDummy(password)
		return nil, errBadCredentials()
	case err != nil:
		return nil, err
	}

	if !user.HasPassword() {
		s.passwords.VerifyDummy(password)
		return nil, errBadCredentials()
	}

	if err := s.passwords.Verify(*user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("stored password hash is unusable",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, errBadCredentials()
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID), slog.String("method", "password"))
	return s.issue(user)
}

// LoginOrRegisterGitHub finds or creates the account behind a GitHub
// profile. An existing account with the same email is linked rather than
// duplicated.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, gh *auth.GitHubUser) (*AuthResult, error) {
	if gh == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}
	uid := gh.UID()

	user, err := s.users.GetByProviderUID(ctx, uid)
	if err == nil {
		return s.issue(user)
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	if gh.Email == "" {
		return nil, apperror.ValidationFailed("email", "GitHub account has no verified email")
	}

	user, err = s.users.GetByEmail(ctx, gh.Email)
	switch {
	case err == nil:
		user.ProviderUID = &uid
		if user.PhotoURL == "" {
			user.PhotoURL = gh.AvatarURL
		}
		if err := s.users.Update(ctx, user); err != nil {
			return nil, err
		}
	case errors.Is(err, apperror.ErrNotFound):
		user = &model.User{
			Email:       gh.Email,
			Name:        s.sanitizer.Text(gh.DisplayName()),
			PhotoURL:    gh.AvatarURL,
			ProviderUID: &uid,
			Role:        model.RoleCitizen,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", gh.Login),
	)
	return s.issue(user)
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{Token: token, User: user}, nil
}
