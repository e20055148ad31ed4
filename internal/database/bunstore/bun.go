package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/schema"

	"github.com/locallibrary/catalog/internal/database"
	"github.com/locallibrary/catalog/internal/database/models"
)

var (
	_ database.CatalogRepository = (*BunStore)(nil)
	_ database.LoanRepository    = (*BunStore)(nil)
	_ database.UserRepository    = (*BunStore)(nil)
)

type BunStore struct {
	db *bun.DB
}

func NewBunStore(db *sql.DB, dialect schema.Dialect) (*BunStore, error) {
	bunDB := bun.NewDB(db, dialect)
	bunDB.RegisterModel((*models.BookGenre)(nil))

	store := &BunStore{db: bunDB}
	if err := store.createSchema(context.Background()); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *BunStore) createSchema(ctx context.Context) error {
	tables := []struct {
		name  string
		model any
	}{
		{"users", (*models.User)(nil)},
		{"user_permissions", (*models.UserPermission)(nil)},
		{"authors", (*models.Author)(nil)},
		{"genres", (*models.Genre)(nil)},
		{"languages", (*models.Language)(nil)},
		{"books", (*models.Book)(nil)},
		{"book_genres", (*models.BookGenre)(nil)},
		{"book_instances", (*models.BookInstance)(nil)},
	}
	for _, t := range tables {
		if _, err := s.db.NewCreateTable().Model(t.model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS.
	if s.db.Dialect().Name() == dialect.MySQL {
		return nil
	}

	indexes := []struct {
		name    string
		model   any
		columns []string
	}{
		{"idx_books_author_id", (*models.Book)(nil), []string{"author_id"}},
		{"idx_book_instances_book_id", (*models.BookInstance)(nil), []string{"book_id"}},
		{"idx_book_instances_borrower_status", (*models.BookInstance)(nil), []string{"borrower_id", "status"}},
	}
	for _, idx := range indexes {
		if _, err := s.db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return database.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func insertErr(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", database.ErrDuplicate, err)
	}
	return err
}

// requireAffected maps a zero-row write to ErrNotFound.
func requireAffected(res sql.Result, err error) error {
	if err != nil {
		return insertErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return database.ErrNotFound
	}
	return nil
}

// likeContains builds a case-insensitive LIKE pattern with '!' as escape character.
func likeContains(fragment string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + r.Replace(strings.ToLower(fragment)) + "%"
}

// CatalogRepository Implementation

func (s *BunStore) CountBooks(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*models.Book)(nil)).Count(ctx)
}

func (s *BunStore) CountBooksWithTitleContaining(ctx context.Context, fragment string) (int, error) {
	return s.db.NewSelect().Model((*models.Book)(nil)).
		Where("LOWER(b.title) LIKE ? ESCAPE '!'", likeContains(fragment)).
		Count(ctx)
}

func (s *BunStore) CountAuthors(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*models.Author)(nil)).Count(ctx)
}

func (s *BunStore) CountGenres(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*models.Genre)(nil)).Count(ctx)
}

func (s *BunStore) ListBooks(ctx context.Context, page database.Page) ([]*models.Book, int, error) {
	var books []*models.Book
	total, err := s.db.NewSelect().Model(&books).
		Relation("Author").
		Relation("Genres", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("g.name ASC")
		}).
		Order("b.title ASC", "b.id ASC").
		Limit(page.Limit).Offset(page.Offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

func (s *BunStore) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	book := new(models.Book)
	err := s.db.NewSelect().Model(book).
		Relation("Author").
		Relation("Language").
		Relation("Genres", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("g.name ASC")
		}).
		Relation("Instances", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("bi.due_back ASC")
		}).
		Where("b.id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return book, nil
}

func (s *BunStore) FindBookByTitleAndAuthor(ctx context.Context, title string, authorID int64) (*models.Book, error) {
	book := new(models.Book)
	err := s.db.NewSelect().Model(book).
		Where("b.title = ?", title).
		Where("b.author_id = ?", authorID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return book, nil
}

func (s *BunStore) CreateBook(ctx context.Context, book *models.Book) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(book).Exec(ctx); err != nil {
			return insertErr(err)
		}
		return replaceBookGenres(ctx, tx, book.ID, book.GenreIDs)
	})
}

func (s *BunStore) UpdateBook(ctx context.Context, book *models.Book) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*models.Book)(nil)).Where("b.id = ?", book.ID).Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return database.ErrNotFound
		}
		if _, err := tx.NewUpdate().Model(book).WherePK().Exec(ctx); err != nil {
			return insertErr(err)
		}
		return replaceBookGenres(ctx, tx, book.ID, book.GenreIDs)
	})
}

func replaceBookGenres(ctx context.Context, tx bun.Tx, bookID int64, genreIDs []int64) error {
	if _, err := tx.NewDelete().Model((*models.BookGenre)(nil)).Where("book_id = ?", bookID).Exec(ctx); err != nil {
		return err
	}
	if len(genreIDs) == 0 {
		return nil
	}

	seen := make(map[int64]bool, len(genreIDs))
	rows := make([]*models.BookGenre, 0, len(genreIDs))
	for _, gid := range genreIDs {
		if seen[gid] {
			continue
		}
		seen[gid] = true
		rows = append(rows, &models.BookGenre{BookID: bookID, GenreID: gid})
	}
	if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return insertErr(err)
	}
	return nil
}

func (s *BunStore) DeleteBook(ctx context.Context, id int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		copies, err := tx.NewSelect().Model((*models.BookInstance)(nil)).Where("bi.book_id = ?", id).Count(ctx)
		if err != nil {
			return err
		}
		if copies > 0 {
			return fmt.Errorf("%w: book %d has %d copies", database.ErrInUse, id, copies)
		}
		if _, err := tx.NewDelete().Model((*models.BookGenre)(nil)).Where("book_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		return requireAffected(tx.NewDelete().Model((*models.Book)(nil)).Where("id = ?", id).Exec(ctx))
	})
}

func (s *BunStore) ListAuthors(ctx context.Context, page database.Page) ([]*models.Author, int, error) {
	var authors []*models.Author
	total, err := s.db.NewSelect().Model(&authors).
		Order("a.last_name ASC", "a.first_name ASC", "a.id ASC").
		Limit(page.Limit).Offset(page.Offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return authors, total, nil
}

func (s *BunStore) GetAuthor(ctx context.Context, id int64) (*models.Author, error) {
	author := new(models.Author)
	err := s.db.NewSelect().Model(author).
		Relation("Books", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("b.title ASC")
		}).
		Where("a.id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return author, nil
}

func (s *BunStore) FindAuthorByName(ctx context.Context, firstName, lastName string) (*models.Author, error) {
	author := new(models.Author)
	err := s.db.NewSelect().Model(author).
		Where("a.first_name = ?", firstName).
		Where("a.last_name = ?", lastName).
		Order("a.id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return author, nil
}

func (s *BunStore) CreateAuthor(ctx context.Context, author *models.Author) error {
	_, err := s.db.NewInsert().Model(author).Exec(ctx)
	return insertErr(err)
}

func (s *BunStore) UpdateAuthor(ctx context.Context, author *models.Author) error {
	return requireAffected(s.db.NewUpdate().Model(author).WherePK().Exec(ctx))
}

// DeleteAuthor detaches the author's books before removing the author.
func (s *BunStore) DeleteAuthor(ctx context.Context, id int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().Model((*models.Book)(nil)).
			Set("author_id = NULL").
			Where("author_id = ?", id).
			Exec(ctx); err != nil {
			return err
		}
		return requireAffected(tx.NewDelete().Model((*models.Author)(nil)).Where("id = ?", id).Exec(ctx))
	})
}

func (s *BunStore) ListGenres(ctx context.Context) ([]*models.Genre, error) {
	var genres []*models.Genre
	if err := s.db.NewSelect().Model(&genres).Order("g.name ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return genres, nil
}

func (s *BunStore) GetGenre(ctx context.Context, id int64) (*models.Genre, error) {
	genre := new(models.Genre)
	if err := s.db.NewSelect().Model(genre).Where("g.id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return genre, nil
}

func (s *BunStore) CreateGenre(ctx context.Context, genre *models.Genre) error {
	_, err := s.db.NewInsert().Model(genre).Exec(ctx)
	return insertErr(err)
}

func (s *BunStore) UpdateGenre(ctx context.Context, genre *models.Genre) error {
	return requireAffected(s.db.NewUpdate().Model(genre).WherePK().Exec(ctx))
}

func (s *BunStore) DeleteGenre(ctx context.Context, id int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*models.BookGenre)(nil)).Where("genre_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		return requireAffected(tx.NewDelete().Model((*models.Genre)(nil)).Where("id = ?", id).Exec(ctx))
	})
}

func (s *BunStore) ListLanguages(ctx context.Context) ([]*models.Language, error) {
	var langs []*models.Language
	if err := s.db.NewSelect().Model(&langs).Order("l.name ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return langs, nil
}

func (s *BunStore) GetLanguage(ctx context.Context, id int64) (*models.Language, error) {
	lang := new(models.Language)
	if err := s.db.NewSelect().Model(lang).Where("l.id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return lang, nil
}

func (s *BunStore) CreateLanguage(ctx context.Context, lang *models.Language) error {
	_, err := s.db.NewInsert().Model(lang).Exec(ctx)
	return insertErr(err)
}

func (s *BunStore) UpdateLanguage(ctx context.Context, lang *models.Language) error {
	return requireAffected(s.db.NewUpdate().Model(lang).WherePK().Exec(ctx))
}

func (s *BunStore) DeleteLanguage(ctx context.Context, id int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().Model((*models.Book)(nil)).
			Set("language_id = NULL").
			Where("language_id = ?", id).
			Exec(ctx); err != nil {
			return err
		}
		return requireAffected(tx.NewDelete().Model((*models.Language)(nil)).Where("id = ?", id).Exec(ctx))
	})
}

// LoanRepository Implementation

func (s *BunStore) CountInstances(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*models.BookInstance)(nil)).Count(ctx)
}

func (s *BunStore) CountInstancesByStatus(ctx context.Context, status models.LoanStatus) (int, error) {
	return s.db.NewSelect().Model((*models.BookInstance)(nil)).Where("bi.status = ?", status).Count(ctx)
}

func (s *BunStore) ListLoansByBorrower(ctx context.Context, borrowerID int64, page database.Page) ([]*models.BookInstance, int, error) {
	var insts []*models.BookInstance
	total, err := s.db.NewSelect().Model(&insts).
		Relation("Book").
		Where("bi.borrower_id = ?", borrowerID).
		Where("bi.status = ?", models.StatusOnLoan).
		Order("bi.due_back ASC", "bi.id ASC").
		Limit(page.Limit).Offset(page.Offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return insts, total, nil
}

func (s *BunStore) ListOnLoan(ctx context.Context, page database.Page) ([]*models.BookInstance, int, error) {
	var insts []*models.BookInstance
	total, err := s.db.NewSelect().Model(&insts).
		Relation("Book").
		Relation("Borrower").
		Where("bi.status = ?", models.StatusOnLoan).
		Order("bi.due_back ASC", "bi.id ASC").
		Limit(page.Limit).Offset(page.Offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return insts, total, nil
}

func (s *BunStore) ListInstances(ctx context.Context, filter database.InstanceFilter) ([]*models.BookInstance, error) {
	var insts []*models.BookInstance
	q := s.db.NewSelect().Model(&insts).
		Relation("Book").
		Relation("Borrower").
		Order("bi.due_back ASC", "bi.id ASC")
	if filter.Status != "" {
		q = q.Where("bi.status = ?", filter.Status)
	}
	if filter.DueBack != nil {
		q = q.Where("bi.due_back = ?", *filter.DueBack)
	}
	if filter.BookID != 0 {
		q = q.Where("bi.book_id = ?", filter.BookID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return insts, nil
}

func (s *BunStore) GetInstance(ctx context.Context, id uuid.UUID) (*models.BookInstance, error) {
	inst := new(models.BookInstance)
	err := s.db.NewSelect().Model(inst).
		Relation("Book").
		Relation("Borrower").
		Where("bi.id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return inst, nil
}

func (s *BunStore) CreateInstance(ctx context.Context, inst *models.BookInstance) error {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	if inst.Version == 0 {
		inst.Version = 1
	}
	_, err := s.db.NewInsert().Model(inst).Exec(ctx)
	return insertErr(err)
}

// UpdateInstance is the admin full-row write; it always bumps the version.
func (s *BunStore) UpdateInstance(ctx context.Context, inst *models.BookInstance) error {
	res, err := s.db.NewUpdate().Model((*models.BookInstance)(nil)).
		Set("book_id = ?", inst.BookID).
		Set("imprint = ?", inst.Imprint).
		Set("due_back = ?", inst.DueBack).
		Set("status = ?", inst.Status).
		Set("borrower_id = ?", inst.BorrowerID).
		Set("version = version + 1").
		Where("id = ?", inst.ID).
		Exec(ctx)
	if err := requireAffected(res, err); err != nil {
		return err
	}
	inst.Version++
	return nil
}

func (s *BunStore) DeleteInstance(ctx context.Context, id uuid.UUID) error {
	return requireAffected(s.db.NewDelete().Model((*models.BookInstance)(nil)).Where("id = ?", id).Exec(ctx))
}

func (s *BunStore) UpdateDueBack(ctx context.Context, id uuid.UUID, dueBack time.Time, expectedVersion *int) error {
	q := s.db.NewUpdate().Model((*models.BookInstance)(nil)).
		Set("due_back = ?", dueBack).
		Set("version = version + 1").
		Where("id = ?", id)
	if expectedVersion != nil {
		q = q.Where("version = ?", *expectedVersion)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	exists, err := s.db.NewSelect().Model((*models.BookInstance)(nil)).Where("bi.id = ?", id).Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return database.ErrNotFound
	}
	return database.ErrConcurrentUpdate
}

// UserRepository Implementation

func (s *BunStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.DateJoined.IsZero() {
		user.DateJoined = time.Now().UTC()
	}
	_, err := s.db.NewInsert().Model(user).Exec(ctx)
	return insertErr(err)
}

func (s *BunStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user := new(models.User)
	err := s.db.NewSelect().Model(user).
		Relation("Permissions").
		Where("u.id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

func (s *BunStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := new(models.User)
	err := s.db.NewSelect().Model(user).
		Relation("Permissions").
		Where("u.username = ?", username).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

func (s *BunStore) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	return requireAffected(s.db.NewUpdate().Model((*models.User)(nil)).
		Set("last_login = ?", at).
		Where("id = ?", id).
		Exec(ctx))
}

func (s *BunStore) GrantPermission(ctx context.Context, userID int64, codename string) error {
	exists, err := s.db.NewSelect().Model((*models.UserPermission)(nil)).
		Where("up.user_id = ?", userID).
		Where("up.codename = ?", codename).
		Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = s.db.NewInsert().Model(&models.UserPermission{UserID: userID, Codename: codename}).Exec(ctx)
	return insertErr(err)
}
