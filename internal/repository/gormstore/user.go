package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/xid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
)

// compile-time check that *UserStore implements repository.UserRepository
var _ repository.UserRepository = (*UserStore)(nil)

type UserStore struct {
	s *Store
}

// Create inserts a new user. The email is lowercased; a taken email or
// provider identity is reported as apperror.ErrConflict.
func (u *UserStore) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = xid.New().String()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Role == "" {
		user.Role = model.RoleCitizen
	}
	err := u.s.run(ctx, "create user", func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(user).Error
	})
	if errors.Is(err, apperror.ErrConflict) {
		return apperror.Conflict("user", user.Email)
	}
	return err
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (u *UserStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return u.first(ctx, "get user", "id", id)
}

func (u *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return u.first(ctx, "get user by email", "email", strings.ToLower(strings.TrimSpace(email)))
}

func (u *UserStore) GetByProviderUID(ctx context.Context, uid string) (*model.User, error) {
	return u.first(ctx, "get user by provider", "provider_uid", uid)
}

func (u *UserStore) first(ctx context.Context, op, column, value string) (*model.User, error) {
	var user model.User
	err := u.s.run(ctx, op, func(tx *gorm.DB) error {
		err := tx.Where(column+" = ?", value).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("user", value)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Update saves every mutable column of user.
func (u *UserStore) Update(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now()
	err := u.s.run(ctx, "update user", func(tx *gorm.DB) error {
		res := tx.Model(user).
			Select("email", "password_hash", "name", "phone", "photo_url", "provider_uid", "role", "updated_at").
			Updates(user)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperror.NotFound("user", user.ID)
		}
		return nil
	})
	if errors.Is(err, apperror.ErrConflict) {
		return apperror.Conflict("user", user.Email)
	}
	return err
}

// SoftDelete marks the user deleted. The row stays so issues and comments
// keep a valid author reference.
func (u *UserStore) SoftDelete(ctx context.Context, id string) error {
	return u.s.run(ctx, "delete user", func(tx *gorm.DB) error {
		res := tx.Delete(&model.User{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperror.NotFound("user", id)
		}
		return nil
	})
}
