package session

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"
)

type ctxKey struct{}

// Manager binds the store to a cookie.
type Manager struct {
	store  *Store
	cookie string
	secure bool
}

func NewManager(store *Store, cookieName string, secure bool) *Manager {
	return &Manager{store: store, cookie: cookieName, secure: secure}
}

// Load returns the request's session, or a fresh unsaved one when the cookie
// is missing, unknown or expired.
func (m *Manager) Load(r *http.Request) *Session {
	c, err := r.Cookie(m.cookie)
	if err != nil {
		return m.store.New()
	}

	sess, err := m.store.Load(r.Context(), c.Value)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			log.Printf("[Session] load failed: %v", err)
		}
		return m.store.New()
	}
	return sess
}

// Commit persists the session and sets the cookie. It must run before the
// response body is written.
func (m *Manager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if err := m.store.Save(ctx, sess); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    sess.Key,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(m.store.TTL() / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Rotate issues a new key for the session (login) and commits it.
func (m *Manager) Rotate(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if !sess.IsNew() {
		if err := m.store.Delete(ctx, sess.Key); err != nil {
			return err
		}
	}
	sess.Key = newKey()
	return m.Commit(ctx, w, sess)
}

// Destroy deletes the stored session and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if err := m.store.Delete(ctx, sess.Key); err != nil {
		return err
	}
	sess.Clear()
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Middleware loads the session into the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := m.Load(r)
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), sess)))
	})
}

func NewContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, sess)
}

// FromContext returns the session stored by Middleware, or nil.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(ctxKey{}).(*Session)
	return sess
}
