package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LoanStatus is the availability of a single copy.
type LoanStatus string

const (
	StatusMaintenance LoanStatus = "m"
	StatusOnLoan      LoanStatus = "o"
	StatusAvailable   LoanStatus = "a"
	StatusReserved    LoanStatus = "r"
)

// PermCanMarkReturned gates the staff loan views.
const PermCanMarkReturned = "catalog.can_mark_returned"

var statusLabels = map[LoanStatus]string{
	StatusMaintenance: "Maintenance",
	StatusOnLoan:      "On loan",
	StatusAvailable:   "Available",
	StatusReserved:    "Reserved",
}

// Label returns the human readable status.
func (s LoanStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Valid reports whether s is one of the known status codes.
func (s LoanStatus) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Author represents a person who wrote one or more books
type Author struct {
	bun.BaseModel `bun:"table:authors,alias:a"`

	ID          int64      `bun:",pk,autoincrement" json:"id"`
	FirstName   string     `bun:",notnull" json:"first_name"`
	LastName    string     `bun:",notnull" json:"last_name"`
	DateOfBirth *time.Time `bun:"date_of_birth" json:"date_of_birth,omitempty"`
	DateOfDeath *time.Time `bun:"date_of_death" json:"date_of_death,omitempty"`

	Books []*Book `bun:"rel:has-many,join:id=author_id" json:"books,omitempty"`
}

// Name renders the author the way lists show it: "Last, First".
func (a *Author) Name() string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf("%s, %s", a.LastName, a.FirstName)
}

// Genre is a simple label such as "Science Fiction"
type Genre struct {
	bun.BaseModel `bun:"table:genres,alias:g"`

	ID   int64  `bun:",pk,autoincrement" json:"id"`
	Name string `bun:",notnull,unique" json:"name"`
}

// Language is the language a book is written in
type Language struct {
	bun.BaseModel `bun:"table:languages,alias:l"`

	ID   int64  `bun:",pk,autoincrement" json:"id"`
	Name string `bun:",notnull,unique" json:"name"`
}

// Book is a title in the catalog, independent of how many copies exist.
type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID         int64  `bun:",pk,autoincrement" json:"id"`
	Title      string `bun:",notnull" json:"title"`
	AuthorID   *int64 `bun:"author_id" json:"author_id"`
	Summary    string `bun:",nullzero" json:"summary"`
	ISBN       string `bun:"isbn,nullzero" json:"isbn"`
	LanguageID *int64 `bun:"language_id" json:"language_id"`

	Author    *Author         `bun:"rel:belongs-to,join:author_id=id" json:"author,omitempty"`
	Language  *Language       `bun:"rel:belongs-to,join:language_id=id" json:"language,omitempty"`
	Genres    []*Genre        `bun:"m2m:book_genres,join:Book=Genre" json:"genres,omitempty"`
	Instances []*BookInstance `bun:"rel:has-many,join:id=book_id" json:"instances,omitempty"`

	// GenreIDs is only used by admin writes.
	GenreIDs []int64 `bun:"-" json:"genre_ids,omitempty"`
}

// DisplayGenre joins the first three genre names.
func (b *Book) DisplayGenre() string {
	names := make([]string, 0, 3)
	for _, g := range b.Genres {
		if len(names) == 3 {
			break
		}
		names = append(names, g.Name)
	}
	return strings.Join(names, ", ")
}

// BookGenre is the join table behind Book.Genres
type BookGenre struct {
	bun.BaseModel `bun:"table:book_genres,alias:bg"`

	BookID  int64  `bun:",pk"`
	Book    *Book  `bun:"rel:belongs-to,join:book_id=id"`
	GenreID int64  `bun:",pk"`
	Genre   *Genre `bun:"rel:belongs-to,join:genre_id=id"`
}

// BookInstance is a physical copy that can be borrowed.
type BookInstance struct {
	bun.BaseModel `bun:"table:book_instances,alias:bi"`

	ID         uuid.UUID  `bun:",pk,type:varchar(36)" json:"id"`
	BookID     int64      `bun:",notnull" json:"book_id"`
	Imprint    string     `bun:",notnull" json:"imprint"`
	DueBack    *time.Time `bun:"due_back" json:"due_back,omitempty"`
	Status     LoanStatus `bun:",notnull,default:'m'" json:"status"`
	BorrowerID *int64     `bun:"borrower_id" json:"borrower_id,omitempty"`
	Version    int        `bun:",notnull,default:1" json:"version"`

	Book     *Book `bun:"rel:belongs-to,join:book_id=id" json:"book,omitempty"`
	Borrower *User `bun:"rel:belongs-to,join:borrower_id=id" json:"borrower,omitempty"`
}

// IsOverdue reports whether the copy should have been back before today.
func (bi *BookInstance) IsOverdue(today time.Time) bool {
	return bi.DueBack != nil && bi.DueBack.Before(today)
}

// User is a library member or librarian.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int64      `bun:",pk,autoincrement" json:"id"`
	Username     string     `bun:",notnull,unique" json:"username"`
	PasswordHash string     `bun:",notnull" json:"-"`
	FirstName    string     `bun:",nullzero" json:"first_name,omitempty"`
	LastName     string     `bun:",nullzero" json:"last_name,omitempty"`
	Email        string     `bun:",nullzero" json:"email,omitempty"`
	IsActive     bool       `bun:",notnull" json:"-"`
	IsStaff      bool       `bun:",notnull" json:"-"`
	IsSuperuser  bool       `bun:",notnull" json:"-"`
	DateJoined   time.Time  `bun:",nullzero,notnull,default:current_timestamp" json:"-"`
	LastLogin    *time.Time `bun:"last_login" json:"-"`

	Permissions []*UserPermission `bun:"rel:has-many,join:id=user_id" json:"-"`
}

// HasPerm reports whether the user holds the named permission.
func (u *User) HasPerm(codename string) bool {
	if u == nil || !u.IsActive {
		return false
	}
	if u.IsSuperuser {
		return true
	}
	for _, p := range u.Permissions {
		if p.Codename == codename {
			return true
		}
	}
	return false
}

// UserPermission grants a single codename to a user
type UserPermission struct {
	bun.BaseModel `bun:"table:user_permissions,alias:up"`

	ID       int64  `bun:",pk,autoincrement"`
	UserID   int64  `bun:",notnull,unique:user_codename"`
	Codename string `bun:",notnull,unique:user_codename"`
}
