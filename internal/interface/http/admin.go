package http

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"github.com/locallibrary/catalog/internal/database"
	"github.com/locallibrary/catalog/internal/database/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	adminPageSize  = 100
	msgBadChoice   = "Select a valid choice. That choice is not one of the available choices."
	msgBadDate     = "Enter a valid date."
	maxAdminBodyKB = 64
)

var errBadJSON = errors.New("invalid JSON payload")

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type listBody struct {
	Count   int `json:"count"`
	Page    int `json:"page,omitempty"`
	Results any `json:"results"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Admin] Failed to encode response: %v", err)
	}
}

func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, errBadJSON):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, database.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, database.ErrDuplicate):
		writeJSON(w, http.StatusConflict, errorBody{Error: "a record with these values already exists"})
	case errors.Is(err, database.ErrInUse):
		writeJSON(w, http.StatusConflict, errorBody{Error: "record is still referenced"})
	case errors.Is(err, database.ErrConcurrentUpdate):
		writeJSON(w, http.StatusConflict, errorBody{Error: "record was changed concurrently"})
	default:
		log.Printf("[Admin] %s %s failed: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBodyKB<<10))
	if err != nil {
		return errBadJSON
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errBadJSON
	}
	return nil
}

// resource is one admin collection. Handlers parse the id themselves so int
// and UUID keys share the routing.
type resource struct {
	list   func(r *http.Request) (listBody, error)
	get    func(ctx context.Context, id string) (any, error)
	create func(r *http.Request) (any, error)
	update func(r *http.Request, id string) (any, error)
	remove func(ctx context.Context, id string) error
}

func (s *Server) mount(router *mux.Router, name string, res resource) {
	router.HandleFunc("/"+name+"/", func(w http.ResponseWriter, r *http.Request) {
		body, err := res.list(r)
		if err != nil {
			writeAdminError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, body)
	}).Methods(http.MethodGet)

	router.HandleFunc("/"+name+"/", func(w http.ResponseWriter, r *http.Request) {
		v, err := res.create(r)
		if err != nil {
			writeAdminError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	}).Methods(http.MethodPost)

	router.HandleFunc("/"+name+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		v, err := res.get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeAdminError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}).Methods(http.MethodGet)

	router.HandleFunc("/"+name+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		v, err := res.update(r, mux.Vars(r)["id"])
		if err != nil {
			writeAdminError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}).Methods(http.MethodPut)

	router.HandleFunc("/"+name+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := res.remove(r.Context(), mux.Vars(r)["id"]); err != nil {
			writeAdminError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)
}

func (s *Server) registerAdminRoutes(router *mux.Router) {
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})

	s.mount(router, "genres", s.genreResource())
	s.mount(router, "languages", s.languageResource())
	s.mount(router, "authors", s.authorResource())
	s.mount(router, "books", s.bookResource())
	s.mount(router, "bookinstances", s.instanceResource())
}

func parseIntID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, database.ErrNotFound
	}
	return id, nil
}

func parseDate(raw *string, field string, errs map[string]string) *time.Time {
	if raw == nil || *raw == "" {
		return nil
	}
	d, err := time.ParseInLocation("2006-01-02", *raw, time.UTC)
	if err != nil {
		errs[field] = msgBadDate
		return nil
	}
	return &d
}

func validationErr(errs map[string]string) error {
	if len(errs) == 0 {
		return nil
	}
	return &models.ValidationError{Fields: errs}
}

// mergeValidation folds a model's own validation into the admin field errors.
func mergeValidation(errs map[string]string, err error) error {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		for k, v := range verr.Fields {
			if _, ok := errs[k]; !ok {
				errs[k] = v
			}
		}
	} else if err != nil {
		return err
	}
	return validationErr(errs)
}

func adminPage(r *http.Request) (int, database.Page, error) {
	raw := r.URL.Query().Get("page")
	if raw == "" {
		return 1, database.Page{Limit: adminPageSize}, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, database.Page{}, &models.ValidationError{Fields: map[string]string{"page": "Invalid page."}}
	}
	return n, database.Page{Limit: adminPageSize, Offset: (n - 1) * adminPageSize}, nil
}

// Genres and languages

type nameInput struct {
	Name string `json:"name"`
}

func (s *Server) genreResource() resource {
	return resource{
		list: func(r *http.Request) (listBody, error) {
			genres, err := s.catalog.ListGenres(r.Context())
			return listBody{Count: len(genres), Results: genres}, err
		},
		get: func(ctx context.Context, raw string) (any, error) {
			id, err := parseIntID(raw)
			if err != nil {
				return nil, err
			}
			return s.catalog.GetGenre(ctx, id)
		},
		create: func(r *http.Request) (any, error) {
			var in nameInput
			if err := decodeJSON(r, &in); err != nil {
				return nil, err
			}
			g := &models.Genre{Name: in.Name}
			if err := g.Validate(); err != nil {
				return nil, err
			}
			return g, s.catalog.CreateGenre(r.Context(), g)
		},
		update: func(r *http.Request, raw string) (any, error) {
			id, err := parseIntID(raw)
			if err != nil {
				return nil, err
			}
			var in nameInput
			if err := decodeJSON(r, &in); err != nil {
				return nil, err
			}
			g := &models.Genre{ID: id, Name: in.Name}
			if err := g.Validate(); err != nil {
				return nil, err
			}
			return g, s.catalog.UpdateGenre(r.Context(), g)
		},
		remove: func(ctx context.Context, raw string) error {
			id, err := parseIntID(raw)
			if err != nil {
				return err
			}
			return s.catalog.DeleteGenre(ctx, id)
		},
	}
}

func (s *Server) languageResource() resource {
	return resource{
		list: func(r *http.Request) (listBody, error) {
			langs, err := s.catalog.ListLanguages(r.Context())
			return listBody{Count: len(langs), Results: langs}, err
		},
		get: func(ctx context.Context, raw string) (any, error) {
			id, err := parseIntID(raw)
			if err != nil {
				return nil, err
			}
			return s.catalog.GetLanguage(ctx, id)
		},
		create: func(r *http.Request) (any, error) {
			var in nameInput
			if err := decodeJSON(r, &in); err != nil {
				return nil, err
			}
			l := &models.Language{Name: in.Name}
			if err := l.Validate(); err != nil {
				return nil, err
			}
			return l, s.catalog.CreateLanguage(r.Context(), l)
		},
		update: func(r *http.Request, raw string) (any, error) {
			id, err := parseIntID(raw)
			if err != nil {
				return nil, err
			}
			var in nameInput
			if err := decodeJSON(r, &in); err != nil {
				return nil, err
			}
			l := &models.Language{ID: id, Name: in.Name}
			if err := l.Validate(); err != nil {
				return nil, err
			}
			return l, s.catalog.UpdateLanguage(r.Context(), l)
		},
		remove: func(ctx context.Context, raw string) error {
			id, err := parseIntID(raw)
			if err != nil {
				return err
			}
			return s.catalog.DeleteLanguage(ctx, id)
		},
	}
}

// Authors

type authorInput struct {
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	DateOfBirth *string `json:"date_of_birth"`
	DateOfDeath *string `json:"date_of_death"`
}

type authorRow struct {
	ID          int64      `json:"id"`
	LastName    string     `json:"last_name"`
	FirstName   string     `json:"first_name"`
	DateOfBirth *time.Time `json:"date_of_birth"`
	DateOfDeath *time.Time `json:"date_of_death"`
}

func (in authorInput) toModel(id int64) (*models.Author, error) {
	errs := map[string]string{}
	a := &models.Author{
		ID:          id,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		DateOfBirth: parseDate(in.DateOfBirth, "date_of_birth", errs),
		DateOfDeath: parseDate(in.DateOfDeath, "date_of_death", errs),
	}
	return a, mergeValidation(errs, a.Validate())
}

func (s *Server) authorResource() resource {
	return resource{
		list: func(r *http.Request) (listBody, error) {
			n, page, err := adminPage(r)
			if err != nil {
				return listBody{}, err
			}
			authors, total, err := s.catalog.ListAuthors(r.Context(), page)
			if err != nil {
				return listBody{}, err
			}
			rows := make([]authorRow, 0, len(authors))
			for _, a := range authors {
				rows = append(rows, authorRow{a.ID, a.LastName, a.FirstName, a.DateOfBirth, a.DateOfDeath})
			}
			return listBody{Count: total, Page: n, Results: rows}, nil
		},
		get: func(ctx context.Context, raw string) (any, error) {
			id, err := parseIntID(raw)
			if err != nil {
				return nil, err
			}
			return s.catalog.GetAuthor(ctx, id)
		},
		create: func(r *http.Request) (any, error) {
			var in authorInput
			if err := decodeJSON(r, &in); err != nil {
				return nil, err
			}
			a, err := in.toModel(0)
			if err != nil {
				return nil, err
			}
			return a, s.catalog.CreateAuthor(r.Context(), a)
		},
		update: func(r *http.Request, raw string) (any, error) {
			id, err := parseIntID(raw)
			if err != nil {
				return nil, err
			}
			var in authorInput
			if err := decodeJSON(r, &in); err != nil {
				return nil, err
			}
			a, err := in.toModel(id)
			if err != nil {
				return nil, err
			}
			return a, s.catalog.UpdateAuthor(r.Context(), a)
		},
		remove: func(ctx context.Context, raw string) error {
			id, err := parseIntID(raw)
			if err != nil {
				return err
			}
			return s.catalog.DeleteAuthor(ctx, id)
		},
	}
}

// Books

type bookInput struct {
	Title      string  `json:"title"`
	AuthorID   *int64  `json:"author_id"`
	Summary    string  `json:"summary"`
	ISBN       string  `json:"isbn"`
	LanguageID *int64  `json:"language_id"`
	GenreIDs   []int64 `json:"genre_ids"`
}

type bookRow struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	DisplayGenre string `json:"display_genre"`
}

type bookDetail struct {
	*models.Book
	DisplayGenre string `json:"display_genre"`
}

// checkRef records a field error when a referenced row does not exist.
func checkRef(errs map[string]string, field string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		errs[field] = msgBadChoice
		return nil
	}
	return err
}

func (s *Server) bookFromInput(ctx context.Context, in bookInput, id int64) (*models.Book, error) {
	errs := map[string]string{}
	if in.AuthorID != nil {
		if _, err := s.catalog.GetAuthor(ctx, *in.AuthorID); checkRef(errs, "author_id", err) != nil {
			return nil, err
		}
	}
	if in.LanguageID != nil {
		if _, err := s.catalog.GetLanguage(ctx, *in.LanguageID); checkRef(errs, "language_id", err) != nil {
			return nil, err
		}
	}
	for _, gid := range in.GenreIDs {
		if _, err := s.catalog.GetGenre(ctx, gid); checkRef(errs, "genre_ids", err) != nil {
			return nil, err
		}
	}

	b := &models.Book{
		ID:         id,
		Title:      in.Title,
		AuthorID:   in.AuthorID,
		Summary:    in.Summary,
		ISBN:       in.ISBN,
		LanguageID: in.LanguageID,
		GenreIDs:   in.GenreIDs,
	}
	return b, mergeValidation(errs, b.Validate())
}

func (s *Server) bookResource() resource {
	return resource{
		list: func(r *http.Request) (listBody, error) {
			n, page, err := adminPage(r)
			if err != nil {
				return listBody{}, err
			}
			books, total, err := s.catalog.ListBooks(r.Context(), page)
			if err != nil {
				return listBody{}, err
			}
			rows := make([]bookRow, 0, len(books))
			for _, b := range books {
				rows = append(rows, bookRow{ID: b.ID, Title: b.Title, Author: b.Author.Name(), DisplayGenre: b.DisplayGenre()})
			}
			return listBody{Count: total, Page: n, Results: rows}, nil
		},
		get: func(ctx context.Context, raw string) (any, error) {
			id, err := parseIntID(raw)
			if err != nil {
				return nil, err
			}
			b, err := s.catalog.GetBook(ctx, id)
			if err != nil {
				return nil, err
			}
			return bookDetail{Book: b, DisplayGenre: b.DisplayGenre()}, nil
		},
		create: func(r *http.Request) (any, error) {
			var in bookInput
			if err := decodeJSON(r, &in); err != nil {
				return nil, err
			}
			b, err := s.bookFromInput(r.Context(), in, 0)
			if err != nil {
				return nil, err
			}
			if err := s.catalog.CreateBook(r.Context(), b); err != nil {
				return nil, err
			}
			return s.catalog.GetBook(r.Context(), b.ID)
		},
		update: func(r *http.Request, raw string) (any, error) {
			id, err := parseIntID(raw)
			if err != nil {
				return nil, err
			}
			var in bookInput
			if err := decodeJSON(r, &in); err != nil {
				return nil, err
			}
			b, err := s.bookFromInput(r.Context(), in, id)
			if err != nil {
				return nil, err
			}
			if err := s.catalog.UpdateBook(r.Context(), b); err != nil {
				return nil, err
			}
			return s.catalog.GetBook(r.Context(), id)
		},
		remove: func(ctx context.Context, raw string) error {
			id, err := parseIntID(raw)
			if err != nil {
				return err
			}
			return s.catalog.DeleteBook(ctx, id)
		},
	}
}

// Book instances

type instanceInput struct {
	BookID     int64   `json:"book_id"`
	Imprint    string  `json:"imprint"`
	DueBack    *string `json:"due_back"`
	Status     string  `json:"status"`
	BorrowerID *int64  `json:"borrower_id"`
}

type instanceRow struct {
	ID       uuid.UUID         `json:"id"`
	Book     string            `json:"book"`
	Status   models.LoanStatus `json:"status"`
	Borrower string            `json:"borrower,omitempty"`
	DueBack  *time.Time        `json:"due_back"`
	Version  int               `json:"version"`
}

func parseUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, database.ErrNotFound
	}
	return id, nil
}

func (s *Server) instanceFromInput(ctx context.Context, in instanceInput, id uuid.UUID) (*models.BookInstance, error) {
	errs := map[string]string{}
	status := models.LoanStatus(in.Status)
	if in.Status == "" {
		status = models.StatusMaintenance
	}
	if in.BookID != 0 {
		if _, err := s.catalog.GetBook(ctx, in.BookID); checkRef(errs, "book_id", err) != nil {
			return nil, err
		}
	}
	if in.BorrowerID != nil {
		if _, err := s.users.GetUserByID(ctx, *in.BorrowerID); checkRef(errs, "borrower_id", err) != nil {
			return nil, err
		}
	}

	inst := &models.BookInstance{
		ID:         id,
		BookID:     in.BookID,
		Imprint:    in.Imprint,
		DueBack:    parseDate(in.DueBack, "due_back", errs),
		Status:     status,
		BorrowerID: in.BorrowerID,
	}
	return inst, mergeValidation(errs, inst.Validate())
}

func instanceFilter(r *http.Request) (database.InstanceFilter, error) {
	q := r.URL.Query()
	errs := map[string]string{}
	var f database.InstanceFilter

	if raw := q.Get("status"); raw != "" {
		f.Status = models.LoanStatus(raw)
		if !f.Status.Valid() {
			errs["status"] = msgBadChoice
		}
	}
	if raw := q.Get("due_back"); raw != "" {
		f.DueBack = parseDate(&raw, "due_back", errs)
	}
	if raw := q.Get("book_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			errs["book_id"] = msgBadChoice
		}
		f.BookID = id
	}
	return f, validationErr(errs)
}

func (s *Server) instanceResource() resource {
	return resource{
		list: func(r *http.Request) (listBody, error) {
			filter, err := instanceFilter(r)
			if err != nil {
				return listBody{}, err
			}
			insts, err := s.loans.ListInstances(r.Context(), filter)
			if err != nil {
				return listBody{}, err
			}
			rows := make([]instanceRow, 0, len(insts))
			for _, bi := range insts {
				row := instanceRow{ID: bi.ID, Status: bi.Status, DueBack: bi.DueBack, Version: bi.Version}
				if bi.Book != nil {
					row.Book = bi.Book.Title
				}
				if bi.Borrower != nil {
					row.Borrower = bi.Borrower.Username
				}
				rows = append(rows, row)
			}
			return listBody{Count: len(rows), Results: rows}, nil
		},
		get: func(ctx context.Context, raw string) (any, error) {
			id, err := parseUUID(raw)
			if err != nil {
				return nil, err
			}
			return s.loans.GetInstance(ctx, id)
		},
		create: func(r *http.Request) (any, error) {
			var in instanceInput
			if err := decodeJSON(r, &in); err != nil {
				return nil, err
			}
			inst, err := s.instanceFromInput(r.Context(), in, uuid.Nil)
			if err != nil {
				return nil, err
			}
			if err := s.loans.CreateInstance(r.Context(), inst); err != nil {
				return nil, err
			}
			return s.loans.GetInstance(r.Context(), inst.ID)
		},
		update: func(r *http.Request, raw string) (any, error) {
			id, err := parseUUID(raw)
			if err != nil {
				return nil, err
			}
			var in instanceInput
			if err := decodeJSON(r, &in); err != nil {
				return nil, err
			}
			inst, err := s.instanceFromInput(r.Context(), in, id)
			if err != nil {
				return nil, err
			}
			if err := s.loans.UpdateInstance(r.Context(), inst); err != nil {
				return nil, err
			}
			return s.loans.GetInstance(r.Context(), id)
		},
		remove: func(ctx context.Context, raw string) error {
			id, err := parseUUID(raw)
			if err != nil {
				return err
			}
			return s.loans.DeleteInstance(ctx, id)
		},
	}
}
