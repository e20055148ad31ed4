package catalog

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locallibrary/catalog/internal/database"
	"github.com/locallibrary/catalog/internal/database/models"
	"github.com/locallibrary/catalog/internal/session"
)

var today = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func bound(date string) *RenewBookForm {
	return BindRenewBookForm(url.Values{"renewal_date": {date}})
}

func TestRenewBookForm_Validation(t *testing.T) {
	tests := []struct {
		name  string
		date  string
		valid bool
		msg   string
	}{
		{"today", "2026-10-19", true, ""},
		{"three weeks", "2026-11-09", true, ""},
		{"exactly four weeks", "2026-11-16", true, ""},
		{"four weeks and a day", "2026-11-17", false, "Invalid date - renewal more than 4 weeks ahead"},
		{"yesterday", "2026-10-18", false, "Invalid date - renewal in past"},
		{"empty", "", false, "This field is required."},
		{"blank", "   ", false, "This field is required."},
		{"garbage", "next tuesday", false, "Enter a valid date."},
		{"impossible date", "2026-02-30", false, "Enter a valid date."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := bound(tt.date)
			assert.Equal(t, tt.valid, f.IsValid(today))
			if tt.valid {
				assert.Empty(t, f.Errors("renewal_date"))
				assert.Equal(t, tt.date, f.RenewalDateValue().Format(DateLayout))
				return
			}
			assert.Equal(t, []string{tt.msg}, f.Errors("renewal_date"))
			assert.True(t, f.RenewalDateValue().IsZero())
		})
	}
}

func TestRenewBookForm_Version(t *testing.T) {
	f := BindRenewBookForm(url.Values{"renewal_date": {"2026-10-20"}, "version": {"3"}})
	require.True(t, f.IsValid(today))
	require.NotNil(t, f.ExpectedVersion())
	assert.Equal(t, 3, *f.ExpectedVersion())

	f = bound("2026-10-20")
	require.True(t, f.IsValid(today))
	assert.Nil(t, f.ExpectedVersion())

	f = BindRenewBookForm(url.Values{"renewal_date": {"2026-10-20"}, "version": {"abc"}})
	assert.False(t, f.IsValid(today))
	assert.NotEmpty(t, f.Errors("version"))
}

func TestRenewBookForm_Unbound(t *testing.T) {
	f := NewRenewBookForm(today.Add(ProposedRenewal), 4)
	assert.False(t, f.IsBound())
	assert.False(t, f.IsValid(today))
	assert.Equal(t, "2026-11-09", f.Value())
	assert.Equal(t, "4", f.Version)

	b := bound("2026-10-25")
	assert.Equal(t, "2026-10-25", b.Value())
}

func TestToday_UsesLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 20:00 UTC on the 19th is already the 20th in Tokyo.
	now := time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), Today(now, time.UTC))
	assert.Equal(t, time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC), Today(now, tokyo))
}

type fakeLoans struct {
	database.LoanRepository

	insts      map[uuid.UUID]*models.BookInstance
	updates    int
	countErr   error
	byStatus   map[models.LoanStatus]int
	totalCount int
}

func (f *fakeLoans) GetInstance(ctx context.Context, id uuid.UUID) (*models.BookInstance, error) {
	if inst, ok := f.insts[id]; ok {
		return inst, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeLoans) UpdateDueBack(ctx context.Context, id uuid.UUID, dueBack time.Time, expectedVersion *int) error {
	inst, ok := f.insts[id]
	if !ok {
		return database.ErrNotFound
	}
	if expectedVersion != nil && *expectedVersion != inst.Version {
		return database.ErrConcurrentUpdate
	}
	inst.DueBack = &dueBack
	inst.Version++
	f.updates++
	return nil
}

func (f *fakeLoans) CountInstances(ctx context.Context) (int, error) {
	return f.totalCount, f.countErr
}

func (f *fakeLoans) CountInstancesByStatus(ctx context.Context, status models.LoanStatus) (int, error) {
	return f.byStatus[status], f.countErr
}

func newRenewer(loans *fakeLoans) *Renewer {
	now := time.Date(2026, 10, 19, 15, 4, 5, 0, time.UTC)
	return NewRenewer(loans, time.UTC).WithClock(func() time.Time { return now })
}

func TestRenewer_ProposedDate(t *testing.T) {
	r := newRenewer(&fakeLoans{})
	assert.Equal(t, today, r.Today())
	assert.Equal(t, time.Date(2026, 11, 9, 0, 0, 0, 0, time.UTC), r.ProposedDate())

	inst := &models.BookInstance{Version: 7}
	f := r.NewForm(inst)
	assert.Equal(t, "2026-11-09", f.Value())
	assert.Equal(t, "7", f.Version)
}

func TestRenewer_Renew(t *testing.T) {
	id := uuid.New()
	oldDue := today.AddDate(0, 0, 2)
	loans := &fakeLoans{insts: map[uuid.UUID]*models.BookInstance{
		id: {ID: id, DueBack: &oldDue, Status: models.StatusOnLoan, Version: 1},
	}}
	r := newRenewer(loans)
	ctx := context.Background()

	err := r.Renew(ctx, id, bound("2026-10-01"))
	assert.ErrorIs(t, err, ErrInvalidForm)
	assert.Equal(t, 0, loans.updates)

	require.NoError(t, r.Renew(ctx, id, bound("2026-11-01")))
	assert.Equal(t, "2026-11-01", loans.insts[id].DueBack.Format(DateLayout))
	assert.Equal(t, 2, loans.insts[id].Version)

	stale := BindRenewBookForm(url.Values{"renewal_date": {"2026-11-05"}, "version": {"1"}})
	err = r.Renew(ctx, id, stale)
	assert.ErrorIs(t, err, database.ErrConcurrentUpdate)
	assert.Len(t, stale.NonFieldErrors, 1)
	assert.Equal(t, "2026-11-01", loans.insts[id].DueBack.Format(DateLayout))

	err = r.Renew(ctx, uuid.New(), bound("2026-11-01"))
	assert.ErrorIs(t, err, database.ErrNotFound)
}

type fakeCatalog struct {
	database.CatalogRepository

	books, withThe, authors, genres int
}

func (f *fakeCatalog) CountBooks(ctx context.Context) (int, error)   { return f.books, nil }
func (f *fakeCatalog) CountAuthors(ctx context.Context) (int, error) { return f.authors, nil }
func (f *fakeCatalog) CountGenres(ctx context.Context) (int, error)  { return f.genres, nil }
func (f *fakeCatalog) CountBooksWithTitleContaining(ctx context.Context, fragment string) (int, error) {
	if fragment != "the" {
		return 0, errors.New("unexpected fragment")
	}
	return f.withThe, nil
}

func TestDashboard_Counts(t *testing.T) {
	d := NewDashboard(
		&fakeCatalog{books: 11, withThe: 3, authors: 4, genres: 5},
		&fakeLoans{totalCount: 20, byStatus: map[models.LoanStatus]int{models.StatusAvailable: 7}},
	)

	c, err := d.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{
		NumBooks:              11,
		NumInstances:          20,
		NumInstancesAvailable: 7,
		NumAuthors:            4,
		NumGenres:             5,
		NumBooksWithThe:       3,
	}, c)
}

func TestDashboard_CountError(t *testing.T) {
	d := NewDashboard(&fakeCatalog{}, &fakeLoans{countErr: errors.New("boom")})

	_, err := d.Counts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRecordVisit(t *testing.T) {
	sess := &session.Session{Values: map[string]any{}}

	assert.Equal(t, int64(1), RecordVisit(sess))
	assert.Equal(t, int64(2), RecordVisit(sess))
	assert.Equal(t, int64(3), RecordVisit(sess))
	n, _ := sess.GetInt(VisitsKey)
	assert.Equal(t, int64(4), n)
}

func TestPagination(t *testing.T) {
	n, err := ParsePageNumber("")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, raw := range []string{"0", "-1", "two", "1.5"} {
		_, err := ParsePageNumber(raw)
		assert.ErrorIs(t, err, ErrPageNotFound, raw)
	}

	p, err := NewPage(2, 10, 11)
	require.NoError(t, err)
	assert.Equal(t, 2, p.NumPages)
	assert.True(t, p.HasPrevious())
	assert.False(t, p.HasNext())
	assert.Equal(t, database.Page{Limit: 10, Offset: 10}, Window(2, 10))

	_, err = NewPage(3, 10, 11)
	assert.ErrorIs(t, err, ErrPageNotFound)

	p, err = NewPage(1, 10, 0)
	require.NoError(t, err)
	assert.False(t, p.IsPaginated())

	_, err = NewPage(2, 10, 10)
	assert.ErrorIs(t, err, ErrPageNotFound)
}
