package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
)

const MaxPhoneLength = 40

type UserService struct {
	users     repository.UserRepository
	sanitizer *Sanitizer
	logger    *slog.Logger
}

func NewUserService(users repository.UserRepository, sanitizer *Sanitizer, logger *slog.Logger) *UserService {
	return &UserService{users: users, sanitizer: sanitizer, logger: logger}
}

// ProfileUpdate holds the editable profile fields. Nil means unchanged.
type ProfileUpdate struct {
	Name     *string `json:"name"`
	Phone    *string `json:"phone"`
	PhotoURL *string `json:"photo_url"`
}

func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user ID is required")
	}
	return s.users.GetUserByID(ctx, id)
}

// UpdateProfile applies in to user and saves it.
func (s *UserService) UpdateProfile(ctx context.Context, user *model.User, in ProfileUpdate) (*model.User, error) {
	updated := *user

	if in.Name != nil {
		name := s.sanitizer.Text(*in.Name)
		if name == "" {
			return nil, apperror.ValidationFailed("name", "name is required")
		}
		if len(name) > MaxNameLength {
			return nil, apperror.ValidationFailed("name",
				fmt.Sprintf("name must be %d characters or less", MaxNameLength))
		}
		updated.Name = name
	}
	if in.Phone != nil {
		phone := s.sanitizer.Text(*in.Phone)
		if len(phone) > MaxPhoneLength {
			return nil, apperror.ValidationFailed("phone",
				fmt.Sprintf("phone must be %d characters or less", MaxPhoneLength))
		}
		updated.Phone = phone
	}
	if in.PhotoURL != nil {
		photo := strings.TrimSpace(*in.PhotoURL)
		if photo != "" && !isHTTPURL(photo) {
			return nil, apperror.ValidationFailed("photo_url", "photo_url must be an http(s) URL")
		}
		updated.PhotoURL = photo
	}

	if err := s.users.Update(ctx, &updated); err != nil {
		return nil, err
	}
	s.logger.Info("profile updated", slog.String("userID", updated.ID))
	return &updated, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
