package catalog

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/locallibrary/catalog/internal/database"
	"github.com/locallibrary/catalog/internal/database/models"
	"github.com/locallibrary/catalog/internal/session"
)

// VisitsKey is the session key of the home page visit counter.
const VisitsKey = "num_visits"

// Counts are the aggregate numbers shown on the home page.
type Counts struct {
	NumBooks              int
	NumInstances          int
	NumInstancesAvailable int
	NumAuthors            int
	NumGenres             int
	NumBooksWithThe       int
}

type Dashboard struct {
	catalog database.CatalogRepository
	loans   database.LoanRepository
}

func NewDashboard(catalog database.CatalogRepository, loans database.LoanRepository) *Dashboard {
	return &Dashboard{catalog: catalog, loans: loans}
}

// Counts runs the six count queries concurrently. The first failure cancels the rest.
func (d *Dashboard) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	g, ctx := errgroup.WithContext(ctx)

	count := func(dst *int, name string, fn func(context.Context) (int, error)) {
		g.Go(func() error {
			n, err := fn(ctx)
			if err != nil {
				return fmt.Errorf("failed to count %s: %w", name, err)
			}
			*dst = n
			return nil
		})
	}

	count(&c.NumBooks, "books", d.catalog.CountBooks)
	count(&c.NumInstances, "book instances", d.loans.CountInstances)
	count(&c.NumInstancesAvailable, "available instances", func(ctx context.Context) (int, error) {
		return d.loans.CountInstancesByStatus(ctx, models.StatusAvailable)
	})
	count(&c.NumAuthors, "authors", d.catalog.CountAuthors)
	count(&c.NumGenres, "genres", d.catalog.CountGenres)
	count(&c.NumBooksWithThe, "books titled with \"the\"", func(ctx context.Context) (int, error) {
		return d.catalog.CountBooksWithTitleContaining(ctx, "the")
	})

	if err := g.Wait(); err != nil {
		return Counts{}, err
	}
	return c, nil
}

// RecordVisit returns the visit number to show (1 on the first visit) and
// stores the next one in the session.
func RecordVisit(sess *session.Session) int64 {
	visits, ok := sess.GetInt(VisitsKey)
	if !ok {
		visits = 1
	}
	sess.Set(VisitsKey, visits+1)
	return visits
}
