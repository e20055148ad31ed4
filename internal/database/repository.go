package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/locallibrary/catalog/internal/database/models"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrConcurrentUpdate = errors.New("concurrent update detected: version mismatch")
	ErrDuplicate        = errors.New("record already exists")
	ErrInUse            = errors.New("record is still referenced")
)

// Page selects a window of an ordered list.
type Page struct {
	Limit  int
	Offset int
}

// InstanceFilter narrows admin listings of copies. Zero values match everything.
type InstanceFilter struct {
	Status  models.LoanStatus
	DueBack *time.Time
	BookID  int64
}

// CatalogRepository handles books, authors and their lookup tables
type CatalogRepository interface {
	CountBooks(ctx context.Context) (int, error)
	CountBooksWithTitleContaining(ctx context.Context, fragment string) (int, error)
	CountAuthors(ctx context.Context) (int, error)
	CountGenres(ctx context.Context) (int, error)

	ListBooks(ctx context.Context, page Page) ([]*models.Book, int, error)
	GetBook(ctx context.Context, id int64) (*models.Book, error)
	FindBookByTitleAndAuthor(ctx context.Context, title string, authorID int64) (*models.Book, error)
	CreateBook(ctx context.Context, book *models.Book) error
	UpdateBook(ctx context.Context, book *models.Book) error
	DeleteBook(ctx context.Context, id int64) error

	ListAuthors(ctx context.Context, page Page) ([]*models.Author, int, error)
	GetAuthor(ctx context.Context, id int64) (*models.Author, error)
	FindAuthorByName(ctx context.Context, firstName, lastName string) (*models.Author, error)
	CreateAuthor(ctx context.Context, author *models.Author) error
	UpdateAuthor(ctx context.Context, author *models.Author) error
	DeleteAuthor(ctx context.Context, id int64) error

	ListGenres(ctx context.Context) ([]*models.Genre, error)
	GetGenre(ctx context.Context, id int64) (*models.Genre, error)
	CreateGenre(ctx context.Context, genre *models.Genre) error
	UpdateGenre(ctx context.Context, genre *models.Genre) error
	DeleteGenre(ctx context.Context, id int64) error

	ListLanguages(ctx context.Context) ([]*models.Language, error)
	GetLanguage(ctx context.Context, id int64) (*models.Language, error)
	CreateLanguage(ctx context.Context, lang *models.Language) error
	UpdateLanguage(ctx context.Context, lang *models.Language) error
	DeleteLanguage(ctx context.Context, id int64) error
}

// LoanRepository handles book copies and their loan state
type LoanRepository interface {
	CountInstances(ctx context.Context) (int, error)
	CountInstancesByStatus(ctx context.Context, status models.LoanStatus) (int, error)

	ListLoansByBorrower(ctx context.Context, borrowerID int64, page Page) ([]*models.BookInstance, int, error)
	ListOnLoan(ctx context.Context, page Page) ([]*models.BookInstance, int, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*models.BookInstance, error)

	GetInstance(ctx context.Context, id uuid.UUID) (*models.BookInstance, error)
	CreateInstance(ctx context.Context, inst *models.BookInstance) error
	UpdateInstance(ctx context.Context, inst *models.BookInstance) error
	DeleteInstance(ctx context.Context, id uuid.UUID) error

	// UpdateDueBack writes only due_back. A nil expectedVersion skips the
	// version check (last write wins).
	UpdateDueBack(ctx context.Context, id uuid.UUID, dueBack time.Time, expectedVersion *int) error
}

// UserRepository handles accounts and permissions
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	GrantPermission(ctx context.Context, userID int64, codename string) error
}
