package http

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/locallibrary/catalog/internal/auth"
	"github.com/locallibrary/catalog/internal/session"
)

const (
	msgBadLogin     = "Please enter a correct username and password. Note that both fields may be case-sensitive."
	msgInactive     = "This account is inactive."
	msgLockedOut    = "Too many failed login attempts. Please try again later."
	msgFieldMissing = "This field is required."
)

// safeNext keeps redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return next
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.render(w, r, http.StatusOK, "login.html", viewData{"Next": r.URL.Query().Get("next"), "Username": ""})
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	next := r.PostForm.Get("next")

	data := viewData{"Next": next, "Username": username}

	if username == "" || password == "" {
		fieldErrors := map[string]string{}
		if username == "" {
			fieldErrors["username"] = msgFieldMissing
		}
		if password == "" {
			fieldErrors["password"] = msgFieldMissing
		}
		data["FieldErrors"] = fieldErrors
		s.render(w, r, http.StatusOK, "login.html", data)
		return
	}

	user, err := s.auth.Login(r.Context(), username, password)
	switch {
	case errors.Is(err, auth.ErrTooManyAttempts):
		data["Error"] = msgLockedOut
		s.render(w, r, http.StatusTooManyRequests, "login.html", data)
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		data["Error"] = msgBadLogin
		s.render(w, r, http.StatusOK, "login.html", data)
		return
	case errors.Is(err, auth.ErrInactiveUser):
		data["Error"] = msgInactive
		s.render(w, r, http.StatusOK, "login.html", data)
		return
	case err != nil:
		s.serverError(w, r, err)
		return
	}

	sess := session.FromContext(r.Context())
	sess.Set(auth.SessionUserKey, user.ID)
	if err := s.sessions.Rotate(r.Context(), w, sess); err != nil {
		s.serverError(w, r, err)
		return
	}

	log.Printf("[Auth] %s logged in", user.Username)
	http.Redirect(w, r, safeNext(next), http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if err := s.sessions.Destroy(r.Context(), w, sess); err != nil {
		s.serverError(w, r, err)
		return
	}

	// The page below renders as anonymous.
	r = r.WithContext(auth.WithUser(r.Context(), nil))
	s.render(w, r, http.StatusOK, "logged_out.html", nil)
}
