package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/locallibrary/catalog/internal/auth"
	"github.com/locallibrary/catalog/internal/database"
	"github.com/locallibrary/catalog/internal/usecase/catalog"
)

func (s *Server) handleMyBooks(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	n, window, err := s.pageFromRequest(r)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound)
		return
	}

	loans, total, err := s.loans.ListLoansByBorrower(r.Context(), user.ID, window)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	page, err := catalog.NewPage(n, s.pageSize, total)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound)
		return
	}

	s.render(w, r, http.StatusOK, "mybooks.html", viewData{"Loans": loans, "Page": page})
}

func (s *Server) handleBorrowed(w http.ResponseWriter, r *http.Request) {
	n, window, err := s.pageFromRequest(r)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound)
		return
	}

	loans, total, err := s.loans.ListOnLoan(r.Context(), window)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	page, err := catalog.NewPage(n, s.pageSize, total)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound)
		return
	}

	s.render(w, r, http.StatusOK, "borrowed.html", viewData{"Loans": loans, "Page": page})
}

// handleRenewBook runs the renewal form cycle for one copy. The login and
// permission gates have already run.
func (s *Server) handleRenewBook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.renderError(w, r, http.StatusNotFound)
		return
	}

	inst, err := s.renewer.Instance(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.renderError(w, r, http.StatusNotFound)
			return
		}
		s.serverError(w, r, err)
		return
	}

	if r.Method != http.MethodPost {
		s.render(w, r, http.StatusOK, "book_renew.html", viewData{
			"Form":     s.renewer.NewForm(inst),
			"Instance": inst,
		})
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	form := catalog.BindRenewBookForm(r.PostForm)

	err = s.renewer.Renew(r.Context(), id, form)
	switch {
	case err == nil:
		http.Redirect(w, r, "/borrowed/", http.StatusFound)

	case errors.Is(err, catalog.ErrInvalidForm):
		s.render(w, r, http.StatusOK, "book_renew.html", viewData{"Form": form, "Instance": inst})

	case errors.Is(err, database.ErrConcurrentUpdate):
		// Show the stored state and let the next submit target the current version.
		current, getErr := s.renewer.Instance(r.Context(), id)
		if getErr != nil {
			s.serverError(w, r, getErr)
			return
		}
		form.Version = strconv.Itoa(current.Version)
		s.render(w, r, http.StatusConflict, "book_renew.html", viewData{"Form": form, "Instance": current})

	case errors.Is(err, database.ErrNotFound):
		s.renderError(w, r, http.StatusNotFound)

	default:
		s.serverError(w, r, err)
	}
}
