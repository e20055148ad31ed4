package http

import (
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/locallibrary/catalog/internal/auth"
	"github.com/locallibrary/catalog/internal/session"
)

const loginURL = "/accounts/login/"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[HTTP] %s %s %d %s", r.Method, r.URL.RequestURI(), rec.status, time.Since(start).Round(time.Microsecond))
	})
}

// loadUser resolves the session's user into the request context.
func (s *Server) loadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.auth.CurrentUser(r.Context(), session.FromContext(r.Context()))
		if err != nil {
			log.Printf("[HTTP] Failed to load user: %v", err)
			s.renderError(w, r, http.StatusInternalServerError)
			return
		}
		if user != nil {
			r = r.WithContext(auth.WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, loginURL+"?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
}

func (s *Server) loginRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.UserFromContext(r.Context()) == nil {
			redirectToLogin(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// permissionRequired answers 403 for authenticated users lacking perm.
func (s *Server) permissionRequired(perm string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := auth.UserFromContext(r.Context())
		if user == nil {
			redirectToLogin(w, r)
			return
		}
		if !user.HasPerm(perm) {
			s.renderError(w, r, http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

// staffRequired guards the JSON admin API.
func (s *Server) staffRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := auth.UserFromContext(r.Context())
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required"})
			return
		}
		if !user.IsActive || !user.IsStaff {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "staff access required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
