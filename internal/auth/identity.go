package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/config"
)

// ProviderPrefix namespaces identity-provider subjects in users.provider_uid.
const ProviderPrefix = "idp:"

// ProviderIdentity is what a verified identity-provider token says about its holder.
type ProviderIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// UID is the value stored in users.provider_uid.
func (p *ProviderIdentity) UID() string {
	return ProviderPrefix + p.Subject
}

type providerClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	UserMetadata  struct {
		FullName      string `json:"full_name"`
		Name          string `json:"name"`
		AvatarURL     string `json:"avatar_url"`
		EmailVerified bool   `json:"email_verified"`
	} `json:"user_metadata"`
}

// IdentityVerifier validates tokens issued by the external identity provider.
type IdentityVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

func NewIdentityVerifier(cfg config.IdentityConfig) (*IdentityVerifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: identity provider secret is required")
	}
	return &IdentityVerifier{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// Verify checks signature, expiry, audience and issuer.
func (v *IdentityVerifier) Verify(tokenStr string) (*ProviderIdentity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &providerClaims{},
		func(*jwt.Token) (any, error) { return v.secret, nil }, opts...)
	if err != nil {
		return nil, classify(err)
	}

	c, ok := token.Claims.(*providerClaims)
	if !ok || !token.Valid {
		return nil, apperror.Unauthorized(apperror.CodeInvalidClaims, "token claims are invalid")
	}
	if c.Issuer == "" || c.Subject == "" {
		return nil, apperror.Unauthorized(apperror.CodeInvalidClaims, "token must carry iss and sub")
	}

	name := c.UserMetadata.FullName
	if name == "" {
		name = c.UserMetadata.Name
	}
	return &ProviderIdentity{
		Subject: c.Subject,
		Email:   strings.ToLower(strings.TrimSpace(c.Email)),
		// some providers put the flag at the top level, others in user_metadata
		EmailVerified: c.EmailVerified || c.UserMetadata.EmailVerified,
		Name:          name,
		AvatarURL:     c.UserMetadata.AvatarURL,
	}, nil
}
