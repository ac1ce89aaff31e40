package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
)

// Authenticator turns an Authorization header into a local user.
type Authenticator struct {
	tokens   *TokenService
	identity *IdentityVerifier
	users    repository.UserRepository
	logger   *slog.Logger
}

func NewAuthenticator(
	tokens *TokenService,
	identity *IdentityVerifier,
	users repository.UserRepository,
	logger *slog.Logger,
) *Authenticator {
	return &Authenticator{
		tokens:   tokens,
		identity: identity,
		users:    users,
		logger:   logger,
	}
}

// Authenticate parses and verifies the bearer token in header and returns
// the user it belongs to. Identity-provider users seen for the first time
// are created on the spot.
//
// Token problems come back as apperror.ErrUnauthorized with a reason code;
// database failures pass through unchanged.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*model.User, error) {
	raw, err := ParseBearer(header)
	if err != nil {
		return nil, err
	}

	issuer, err := peekIssuer(raw)
	if err != nil {
		return nil, err
	}

	if issuer == TokenIssuer {
		userID, err := a.tokens.Validate(raw)
		if err != nil {
			return nil, err
		}
		user, err := a.users.GetUserByID(ctx, userID)
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(apperror.CodeUnknownUser, "token user no longer exists")
		}
		return user, err
	}

	if a.identity == nil {
		return nil, apperror.Unauthorized(apperror.CodeInvalidClaims, "token issuer is not trusted")
	}
	ident, err := a.identity.Verify(raw)
	if err != nil {
		return nil, err
	}
	return a.resolveProviderUser(ctx, ident)
}

// peekIssuer reads "iss" without verifying anything. The result only picks
// which verifier runs next.
func peekIssuer(raw string) (string, error) {
	var c jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &c); err != nil {
		return "", apperror.Unauthorized(apperror.CodeMalformedToken, "token is malformed")
	}
	return c.Issuer, nil
}

// resolveProviderUser finds the local account for a provider identity:
// by provider UID, then by email (linking the account, only when the
// provider says the email is verified), then by creating it.
func (a *Authenticator) resolveProviderUser(ctx context.Context, ident *ProviderIdentity) (*model.User, error) {
	uid := ident.UID()

	user, err := a.users.GetByProviderUID(ctx, uid)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	if ident.Email == "" {
		return nil, apperror.Unauthorized(apperror.CodeInvalidClaims, "token has no email claim")
	}

	user, err = a.users.GetByEmail(ctx, ident.Email)
	switch {
	case err == nil:
		if !ident.EmailVerified {
			a.logger.Warn("refusing to link identity with unverified email",
				slog.String("userID", user.ID),
				slog.String("providerUID", uid),
			)
			return nil, apperror.Unauthorized(apperror.CodeUnverifiedEmail,
				"an account with this email exists; verify the email with the identity provider to link it")
		}
		user.ProviderUID = &uid
		if user.PhotoURL == "" {
			user.PhotoURL = ident.AvatarURL
		}
		if err := a.users.Update(ctx, user); err != nil {
			return nil, err
		}
		a.logger.Info("linked identity provider account",
			slog.String("userID", user.ID),
			slog.String("providerUID", uid),
		)
		return user, nil
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, err
	}

	user = &model.User{
		Email:       ident.Email,
		Name:        ident.Name,
		PhotoURL:    ident.AvatarURL,
		ProviderUID: &uid,
		Role:        model.RoleCitizen,
	}
	if err := a.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			// a concurrent request created it first
			return a.users.GetByProviderUID(ctx, uid)
		}
		return nil, err
	}

	a.logger.Info("created user from identity provider",
		slog.String("userID", user.ID),
		slog.String("providerUID", uid),
	)
	return user, nil
}
