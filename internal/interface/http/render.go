package http

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"path"
	"time"

	"github.com/locallibrary/catalog/internal/auth"
	"github.com/locallibrary/catalog/internal/database/models"
)

//go:embed templates/*.html
var templateFS embed.FS

const baseTemplate = "templates/base.html"

var templateFuncs = template.FuncMap{
	"date": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format("Jan. 2, 2006")
	},
	"isoDate": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format("2006-01-02")
	},
	"hasPerm": func(u *models.User, perm string) bool {
		return u.HasPerm(perm)
	},
	"overdue": func(bi *models.BookInstance, today time.Time) bool {
		return bi.IsOverdue(today)
	},
	"statusClass": func(s models.LoanStatus) string {
		switch s {
		case models.StatusAvailable:
			return "text-success"
		case models.StatusMaintenance:
			return "text-danger"
		default:
			return "text-warning"
		}
	},
}

// renderer holds one template set per page, each layered on the base layout.
type renderer struct {
	pages map[string]*template.Template
}

func mustParseTemplates() *renderer {
	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		panic(err)
	}

	r := &renderer{pages: make(map[string]*template.Template)}
	for _, f := range files {
		if f == baseTemplate {
			continue
		}
		name := path.Base(f)
		t := template.Must(template.New(path.Base(baseTemplate)).Funcs(templateFuncs).ParseFS(templateFS, baseTemplate, f))
		r.pages[name] = t
	}
	return r
}

// viewData is the template context; render adds the request-wide keys.
type viewData map[string]any

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, data viewData) {
	t, ok := s.views.pages[page]
	if !ok {
		log.Printf("[HTTP] Unknown template %q", page)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if data == nil {
		data = viewData{}
	}
	data["User"] = auth.UserFromContext(r.Context())
	data["Path"] = r.URL.RequestURI()
	data["PermCanMarkReturned"] = models.PermCanMarkReturned
	if s.renewer != nil {
		data["Today"] = s.renewer.Today()
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, path.Base(baseTemplate), data); err != nil {
		log.Printf("[HTTP] Error executing template %s: %v", page, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int) {
	s.render(w, r, status, "error.html", viewData{
		"Status":  status,
		"Message": errorMessage(status),
	})
}

func errorMessage(status int) string {
	switch status {
	case http.StatusForbidden:
		return "You do not have permission to access this page."
	case http.StatusNotFound:
		return "The requested page was not found."
	default:
		return fmt.Sprintf("%d %s", status, http.StatusText(status))
	}
}

// serverError logs err and answers 500 without leaking details.
func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	log.Printf("[HTTP] %s %s failed: %v", r.Method, r.URL.Path, err)
	s.renderError(w, r, http.StatusInternalServerError)
}
