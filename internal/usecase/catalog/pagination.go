package catalog

import (
	"errors"
	"strconv"

	"github.com/locallibrary/catalog/internal/database"
)

var ErrPageNotFound = errors.New("invalid page")

// Page describes one page of a paginated list for templates.
type Page struct {
	Number   int
	NumPages int
	Size     int
	Total    int
}

// ParsePageNumber reads the ?page= parameter. Empty means the first page.
func ParsePageNumber(raw string) (int, error) {
	if raw == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, ErrPageNotFound
	}
	return n, nil
}

// Window is the slice of rows page number covers.
func Window(number, size int) database.Page {
	return database.Page{Limit: size, Offset: (number - 1) * size}
}

// NewPage checks number against total. Page 1 always exists, even for an empty list.
func NewPage(number, size, total int) (Page, error) {
	numPages := 1
	if total > 0 {
		numPages = (total + size - 1) / size
	}
	if number < 1 || number > numPages {
		return Page{}, ErrPageNotFound
	}
	return Page{Number: number, NumPages: numPages, Size: size, Total: total}, nil
}

func (p Page) HasPrevious() bool { return p.Number > 1 }
func (p Page) HasNext() bool { return p.Number < p.NumPages }
func (p Page) PreviousNumber() int { return p.Number - 1 }
func (p Page) NextNumber() int { return p.Number + 1 }

// IsPaginated is true when there is more than one page.
func (p Page) IsPaginated() bool { return p.NumPages > 1 }
