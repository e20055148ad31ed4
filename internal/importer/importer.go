// Package importer seeds the catalog from an OPDS feed.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/locallibrary/catalog/internal/database"
	"github.com/locallibrary/catalog/internal/database/models"
)

const unknownAuthor = "Unknown Author"

// Result summarises one import run.
type Result struct {
	Entries   int
	Authors   int
	Books     int
	Instances int
	Skipped   int
}

type Importer struct {
	catalog database.CatalogRepository
	loans   database.LoanRepository
	crawler *Crawler
	copies  int
}

func NewImporter(catalog database.CatalogRepository, loans database.LoanRepository, crawler *Crawler, copies int) *Importer {
	if copies < 0 {
		copies = 0
	}
	return &Importer{catalog: catalog, loans: loans, crawler: crawler, copies: copies}
}

// Run crawls feedURL and stores every entry not already in the catalog.
// Re-running against the same feed creates nothing new.
func (i *Importer) Run(ctx context.Context, feedURL string, since time.Time) (*Result, error) {
	entries, err := i.crawler.Crawl(ctx, feedURL, since)
	if err != nil {
		return nil, err
	}

	res := &Result{Entries: len(entries)}
	for _, e := range entries {
		if err := i.store(ctx, e, res); err != nil {
			return res, fmt.Errorf("failed to import %q: %w", e.Title, err)
		}
	}

	log.Printf("[Importer] %d entries: %d books, %d authors, %d copies created, %d skipped",
		res.Entries, res.Books, res.Authors, res.Instances, res.Skipped)
	return res, nil
}

func (i *Importer) store(ctx context.Context, e Entry, res *Result) error {
	author, created, err := i.findOrCreateAuthor(ctx, e.Author)
	if err != nil {
		return err
	}
	if created {
		res.Authors++
	}

	_, err = i.catalog.FindBookByTitleAndAuthor(ctx, e.Title, author.ID)
	if err == nil {
		res.Skipped++
		return nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return err
	}

	book := &models.Book{
		Title:    e.Title,
		AuthorID: &author.ID,
		Summary:  e.Summary,
		ISBN:     e.ISBN,
	}
	if err := i.catalog.CreateBook(ctx, book); err != nil {
		return err
	}
	res.Books++

	imprint := e.FeedTitle
	if imprint == "" {
		imprint = "OPDS import"
	}
	for n := 0; n < i.copies; n++ {
		inst := &models.BookInstance{
			BookID:  book.ID,
			Imprint: imprint,
			Status:  models.StatusAvailable,
		}
		if err := i.loans.CreateInstance(ctx, inst); err != nil {
			return err
		}
		res.Instances++
	}
	return nil
}

func (i *Importer) findOrCreateAuthor(ctx context.Context, name string) (*models.Author, bool, error) {
	first, last := SplitName(name)

	author, err := i.catalog.FindAuthorByName(ctx, first, last)
	if err == nil {
		return author, false, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, false, err
	}

	author = &models.Author{FirstName: first, LastName: last}
	if err := author.Validate(); err != nil {
		return nil, false, err
	}
	if err := i.catalog.CreateAuthor(ctx, author); err != nil {
		return nil, false, err
	}
	return author, true, nil
}

// SplitName splits "First Middle Last" on the last space. A single word
// fills both fields, since authors require a first and a last name.
func SplitName(name string) (first, last string) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		name = unknownAuthor
	}
	idx := strings.LastIndex(name, " ")
	if idx < 0 {
		return name, name
	}
	return name[:idx], name[idx+1:]
}
