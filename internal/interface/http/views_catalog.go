package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/locallibrary/catalog/internal/database"
	"github.com/locallibrary/catalog/internal/session"
	"github.com/locallibrary/catalog/internal/usecase/catalog"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	counts, err := s.dashboard.Counts(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	sess := session.FromContext(r.Context())
	visits := catalog.RecordVisit(sess)
	if err := s.sessions.Commit(r.Context(), w, sess); err != nil {
		s.serverError(w, r, err)
		return
	}

	s.render(w, r, http.StatusOK, "index.html", viewData{
		"Counts":    counts,
		"NumVisits": visits,
	})
}

// pageFromRequest reads ?page= and returns the number with its row window.
func (s *Server) pageFromRequest(r *http.Request) (int, database.Page, error) {
	n, err := catalog.ParsePageNumber(r.URL.Query().Get("page"))
	if err != nil {
		return 0, database.Page{}, err
	}
	return n, catalog.Window(n, s.pageSize), nil
}

func (s *Server) handleBookList(w http.ResponseWriter, r *http.Request) {
	n, window, err := s.pageFromRequest(r)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound)
		return
	}

	books, total, err := s.catalog.ListBooks(r.Context(), window)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	page, err := catalog.NewPage(n, s.pageSize, total)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound)
		return
	}

	s.render(w, r, http.StatusOK, "book_list.html", viewData{"Books": books, "Page": page})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

func (s *Server) handleBookDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.renderError(w, r, http.StatusNotFound)
		return
	}

	book, err := s.catalog.GetBook(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.renderError(w, r, http.StatusNotFound)
			return
		}
		s.serverError(w, r, err)
		return
	}

	s.render(w, r, http.StatusOK, "book_detail.html", viewData{"Book": book})
}

func (s *Server) handleAuthorList(w http.ResponseWriter, r *http.Request) {
	n, window, err := s.pageFromRequest(r)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound)
		return
	}

	authors, total, err := s.catalog.ListAuthors(r.Context(), window)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	page, err := catalog.NewPage(n, s.pageSize, total)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound)
		return
	}

	s.render(w, r, http.StatusOK, "author_list.html", viewData{"Authors": authors, "Page": page})
}

func (s *Server) handleAuthorDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.renderError(w, r, http.StatusNotFound)
		return
	}

	author, err := s.catalog.GetAuthor(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.renderError(w, r, http.StatusNotFound)
			return
		}
		s.serverError(w, r, err)
		return
	}

	s.render(w, r, http.StatusOK, "author_detail.html", viewData{"Author": author})
}
