package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nendo/core/auth"
	"nendo/errs"
	"nendo/logger"
	"nendo/model"
	"nendo/repository"

	"github.com/google/uuid"
)

// ErrUserExists is returned by AddUser for a taken name.
var ErrUserExists = errors.New("user already exists")

// AddUser registers a user. An empty password leaves the account without
// login.
func (l *Library) AddUser(ctx context.Context, name, email, password string) (*model.User, error) {
	if name == "" {
		return nil, fmt.Errorf("user name is required")
	}
	user := &model.User{ID: uuid.New(), Name: name, Email: email}
	if password != "" {
		hash, err := auth.HashPassword(password)
		if err != nil {
			return nil, err
		}
		user.Password = hash
	}
	err := l.transaction(ctx, "add user", func(r *repository.Repositories) error {
		existing, err := r.Users.GetByName(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %q", ErrUserExists, name)
		}
		return r.Users.Create(ctx, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser returns the user with id.
func (l *Library) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, err := l.repos(ctx).Users.GetByID(ctx, id)
	if err != nil {
		return nil, errs.Library("get user", err)
	}
	if u == nil {
		return nil, errs.NotFound("User", id)
	}
	return u, nil
}

// GetUserByName returns the user called name.
func (l *Library) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	u, err := l.repos(ctx).Users.GetByName(ctx, name)
	if err != nil {
		return nil, errs.Library("get user", err)
	}
	if u == nil {
		return nil, errs.NotFound("User", name)
	}
	return u, nil
}

// Authenticate checks name and password and records the login.
func (l *Library) Authenticate(ctx context.Context, name, password string) (*model.User, error) {
	u, err := l.GetUserByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if u.Password == "" || !auth.CheckPasswordHash(password, u.Password) {
		return nil, auth.ErrInvalidCredentials
	}
	now := time.Now()
	if err := l.repos(ctx).Users.UpdateLastLogin(ctx, u.ID, now); err != nil {
		logger.Warn("[Library] Failed to record login", logger.String("user", name), logger.ErrorField(err))
	}
	u.LastLogin = now
	return u, nil
}

// EnsureDefaultUser creates the library user from the options when missing.
func (l *Library) EnsureDefaultUser(ctx context.Context) (*model.User, error) {
	var user *model.User
	err := l.transaction(ctx, "ensure default user", func(r *repository.Repositories) error {
		u, err := r.Users.GetByID(ctx, l.opts.UserID)
		if err != nil {
			return err
		}
		if u != nil {
			user = u
			return nil
		}
		user = &model.User{ID: l.opts.UserID, Name: l.opts.UserName, Verified: true}
		return r.Users.Create(ctx, user)
	})
	if err != nil {
		return nil, err
	}
	if _, err := l.driver.InitForUser(ctx, l.opts.UserID.String()); err != nil {
		logger.Warn("[Library] Could not prepare user storage", logger.ErrorField(err))
	}
	return user, nil
}
