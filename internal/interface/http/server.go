package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/locallibrary/catalog/internal/auth"
	"github.com/locallibrary/catalog/internal/database"
	"github.com/locallibrary/catalog/internal/database/models"
	"github.com/locallibrary/catalog/internal/session"
	"github.com/locallibrary/catalog/internal/usecase/catalog"
)

// Dependencies are the collaborators the HTTP server needs.
type Dependencies struct {
	Catalog   database.CatalogRepository
	Loans     database.LoanRepository
	Users     database.UserRepository
	Sessions  *session.Manager
	Auth      *auth.Authenticator
	Dashboard *catalog.Dashboard
	Renewer   *catalog.Renewer
	PageSize  int
}

// Server holds the dependencies for the web views and the admin API
type Server struct {
	catalog   database.CatalogRepository
	loans     database.LoanRepository
	users     database.UserRepository
	sessions  *session.Manager
	auth      *auth.Authenticator
	dashboard *catalog.Dashboard
	renewer   *catalog.Renewer
	pageSize  int
	views     *renderer
}

// NewServer initializes the server. It panics if the embedded templates do not parse.
func NewServer(deps Dependencies) *Server {
	pageSize := deps.PageSize
	if pageSize < 1 {
		pageSize = 10
	}
	return &Server{
		catalog:   deps.Catalog,
		loans:     deps.Loans,
		users:     deps.Users,
		sessions:  deps.Sessions,
		auth:      deps.Auth,
		dashboard: deps.Dashboard,
		renewer:   deps.Renewer,
		pageSize:  pageSize,
		views:     mustParseTemplates(),
	}
}

// RegisterRoutes builds the router with every page and admin endpoint
func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests, s.sessions.Middleware, s.loadUser)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.renderError(w, req, http.StatusNotFound)
	})

	login := s.loginRequired
	canMarkReturned := func(h http.HandlerFunc) http.Handler {
		return s.loginRequired(s.permissionRequired(models.PermCanMarkReturned, h))
	}

	r.Handle("/", login(http.HandlerFunc(s.handleIndex))).Methods(http.MethodGet)
	r.Handle("/books/", login(http.HandlerFunc(s.handleBookList))).Methods(http.MethodGet)
	r.Handle("/book/{id:[0-9]+}", login(http.HandlerFunc(s.handleBookDetail))).Methods(http.MethodGet)
	r.Handle("/authors/", login(http.HandlerFunc(s.handleAuthorList))).Methods(http.MethodGet)
	r.Handle("/authors/{id:[0-9]+}", login(http.HandlerFunc(s.handleAuthorDetail))).Methods(http.MethodGet)
	r.Handle("/mybooks/", login(http.HandlerFunc(s.handleMyBooks))).Methods(http.MethodGet)
	r.Handle("/borrowed/", canMarkReturned(s.handleBorrowed)).Methods(http.MethodGet)
	r.Handle("/book/{id:[0-9a-fA-F-]{36}}/renew/", canMarkReturned(s.handleRenewBook)).
		Methods(http.MethodGet, http.MethodPost)

	r.HandleFunc("/accounts/login/", s.handleLogin).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/accounts/logout/", s.handleLogout).Methods(http.MethodGet, http.MethodPost)

	admin := r.PathPrefix("/admin/api").Subrouter()
	admin.Use(s.staffRequired)
	s.registerAdminRoutes(admin)

	return r
}
