package catalog

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the accepted input format for renewal_date.
const DateLayout = "2006-01-02"

// MaxRenewalAhead bounds how far past today a renewal may go.
const MaxRenewalAhead = 4 * 7 * 24 * time.Hour

const (
	msgRequired    = "This field is required."
	msgInvalidDate = "Enter a valid date."
	msgPast        = "Invalid date - renewal in past"
	msgTooFar      = "Invalid date - renewal more than 4 weeks ahead"
	msgBadVersion  = "Enter a whole number."
)

// RenewBookForm validates the single renewal_date field of the renewal page.
// A hidden version field carries the copy's version for conflict detection.
type RenewBookForm struct {
	RenewalDate string
	Version     string

	bound   bool
	initial time.Time

	FieldErrors    map[string][]string
	NonFieldErrors []string

	cleanedDate    time.Time
	cleanedVersion *int
}

// NewRenewBookForm returns an unbound form showing initial as the proposed date.
func NewRenewBookForm(initial time.Time, version int) *RenewBookForm {
	return &RenewBookForm{
		initial:     initial,
		Version:     strconv.Itoa(version),
		FieldErrors: map[string][]string{},
	}
}

// BindRenewBookForm builds a form from submitted data.
func BindRenewBookForm(values url.Values) *RenewBookForm {
	return &RenewBookForm{
		RenewalDate: strings.TrimSpace(values.Get("renewal_date")),
		Version:     strings.TrimSpace(values.Get("version")),
		bound:       true,
		FieldErrors: map[string][]string{},
	}
}

func (f *RenewBookForm) IsBound() bool {
	return f.bound
}

// Value is what the date input should display.
func (f *RenewBookForm) Value() string {
	if f.bound {
		return f.RenewalDate
	}
	if f.initial.IsZero() {
		return ""
	}
	return f.initial.Format(DateLayout)
}

// IsValid cleans the submitted data against today (a date at UTC midnight).
// Unbound forms are never valid.
func (f *RenewBookForm) IsValid(today time.Time) bool {
	if !f.bound {
		return false
	}
	f.FieldErrors = map[string][]string{}
	f.cleanedDate = time.Time{}
	f.cleanedVersion = nil

	f.cleanRenewalDate(today)
	f.cleanVersion()

	return len(f.FieldErrors) == 0 && len(f.NonFieldErrors) == 0
}

func (f *RenewBookForm) cleanRenewalDate(today time.Time) {
	if f.RenewalDate == "" {
		f.addFieldError("renewal_date", msgRequired)
		return
	}

	d, err := time.ParseInLocation(DateLayout, f.RenewalDate, time.UTC)
	if err != nil {
		f.addFieldError("renewal_date", msgInvalidDate)
		return
	}

	if d.Before(today) {
		f.addFieldError("renewal_date", msgPast)
		return
	}
	if d.After(today.Add(MaxRenewalAhead)) {
		f.addFieldError("renewal_date", msgTooFar)
		return
	}
	f.cleanedDate = d
}

func (f *RenewBookForm) cleanVersion() {
	if f.Version == "" {
		return
	}
	v, err := strconv.Atoi(f.Version)
	if err != nil || v < 1 {
		f.addFieldError("version", msgBadVersion)
		return
	}
	f.cleanedVersion = &v
}

func (f *RenewBookForm) addFieldError(field, msg string) {
	f.FieldErrors[field] = append(f.FieldErrors[field], msg)
}

// AddError attaches an error that belongs to no single field.
func (f *RenewBookForm) AddError(msg string) {
	f.NonFieldErrors = append(f.NonFieldErrors, msg)
}

func (f *RenewBookForm) Errors(field string) []string {
	return f.FieldErrors[field]
}

// RenewalDateValue is the cleaned date; only meaningful after IsValid returned true.
func (f *RenewBookForm) RenewalDateValue() time.Time {
	return f.cleanedDate
}

// ExpectedVersion is nil when the submission carried no version.
func (f *RenewBookForm) ExpectedVersion() *int {
	return f.cleanedVersion
}
