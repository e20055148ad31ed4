package catalog

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/locallibrary/catalog/internal/database"
	"github.com/locallibrary/catalog/internal/database/models"
)

// ErrInvalidForm is returned when a submitted form does not validate.
var ErrInvalidForm = errors.New("form is not valid")

// ProposedRenewal is how far ahead the renewal form proposes the new due date.
const ProposedRenewal = 3 * 7 * 24 * time.Hour

const msgConflict = "This copy was changed by someone else since the form was loaded. Review the current due date and submit again."

// Renewer moves the due date of a loaned copy.
type Renewer struct {
	loans database.LoanRepository
	loc   *time.Location
	now   func() time.Time
}

func NewRenewer(loans database.LoanRepository, loc *time.Location) *Renewer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renewer{loans: loans, loc: loc, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (r *Renewer) WithClock(now func() time.Time) *Renewer {
	r.now = now
	return r
}

// Today is the current calendar date in the library's time zone, at UTC midnight.
func (r *Renewer) Today() time.Time {
	return Today(r.now(), r.loc)
}

func (r *Renewer) ProposedDate() time.Time {
	return r.Today().Add(ProposedRenewal)
}

// Instance loads the copy being renewed.
func (r *Renewer) Instance(ctx context.Context, id uuid.UUID) (*models.BookInstance, error) {
	return r.loans.GetInstance(ctx, id)
}

// NewForm returns the unbound form for inst.
func (r *Renewer) NewForm(inst *models.BookInstance) *RenewBookForm {
	return NewRenewBookForm(r.ProposedDate(), inst.Version)
}

// Renew validates form and writes the new due date. Only due_back and the
// version counter change. A stale version yields ErrConcurrentUpdate and a
// non-field error on the form.
func (r *Renewer) Renew(ctx context.Context, id uuid.UUID, form *RenewBookForm) error {
	if !form.IsValid(r.Today()) {
		return ErrInvalidForm
	}

	due := form.RenewalDateValue()
	if err := r.loans.UpdateDueBack(ctx, id, due, form.ExpectedVersion()); err != nil {
		if errors.Is(err, database.ErrConcurrentUpdate) {
			form.AddError(msgConflict)
		}
		return err
	}

	log.Printf("[Renewal] Copy %s now due back %s", id, due.Format(DateLayout))
	return nil
}

// Today truncates now to its calendar date in loc and returns that date at UTC midnight.
func Today(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
