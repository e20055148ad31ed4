package models

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError collects per-field messages for a rejected write.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type fieldErrors map[string]string

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}

func (a *Author) Validate() error {
	errs := fieldErrors{}
	if strings.TrimSpace(a.FirstName) == "" {
		errs["first_name"] = "This field is required."
	}
	if strings.TrimSpace(a.LastName) == "" {
		errs["last_name"] = "This field is required."
	}
	if a.DateOfBirth != nil && a.DateOfDeath != nil && a.DateOfDeath.Before(*a.DateOfBirth) {
		errs["date_of_death"] = "Date of death is before date of birth."
	}
	return errs.err()
}

func (g *Genre) Validate() error {
	errs := fieldErrors{}
	if strings.TrimSpace(g.Name) == "" {
		errs["name"] = "This field is required."
	}
	return errs.err()
}

func (l *Language) Validate() error {
	errs := fieldErrors{}
	if strings.TrimSpace(l.Name) == "" {
		errs["name"] = "This field is required."
	}
	return errs.err()
}

func (b *Book) Validate() error {
	errs := fieldErrors{}
	if strings.TrimSpace(b.Title) == "" {
		errs["title"] = "This field is required."
	}
	if b.ISBN != "" && len(b.ISBN) != 13 {
		errs["isbn"] = "ISBN must be 13 characters."
	}
	return errs.err()
}

func (bi *BookInstance) Validate() error {
	errs := fieldErrors{}
	if bi.BookID == 0 {
		errs["book_id"] = "This field is required."
	}
	if !bi.Status.Valid() {
		errs["status"] = fmt.Sprintf("Select a valid choice. %q is not one of the available choices.", string(bi.Status))
	}
	return errs.err()
}
