package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/locallibrary/catalog/internal/database"
	"github.com/locallibrary/catalog/internal/database/models"
	"github.com/locallibrary/catalog/internal/session"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
	ErrInactiveUser       = errors.New("this account is inactive")
)

// SessionUserKey holds the logged-in user's id in the session.
const SessionUserKey = "_auth_user_id"

type Authenticator struct {
	users    database.UserRepository
	throttle *Throttle
	now      func() time.Time
}

func NewAuthenticator(users database.UserRepository, throttle *Throttle) *Authenticator {
	return &Authenticator{users: users, throttle: throttle, now: time.Now}
}

// WithClock replaces the time source used for last_login.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// Login verifies the credentials and records the login time.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*models.User, error) {
	if !a.throttle.Allow(username) {
		log.Printf("[Auth] Login refused for %q: locked out", username)
		return nil, ErrTooManyAttempts
	}

	user, err := a.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			a.throttle.Failure(username)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !CheckPassword(user.PasswordHash, password) {
		a.throttle.Failure(username)
		log.Printf("[Auth] Failed login for %q", username)
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	a.throttle.Success(username)

	now := a.now().UTC()
	if err := a.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	user.LastLogin = &now
	return user, nil
}

// CurrentUser resolves the session's user. A missing or inactive user yields nil.
func (a *Authenticator) CurrentUser(ctx context.Context, sess *session.Session) (*models.User, error) {
	if sess == nil {
		return nil, nil
	}
	id, ok := sess.GetInt(SessionUserKey)
	if !ok {
		return nil, nil
	}

	user, err := a.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}
	return user, nil
}

type userCtxKey struct{}

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, user)
}

// UserFromContext returns the authenticated user, or nil for anonymous requests.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userCtxKey{}).(*models.User)
	return u
}
