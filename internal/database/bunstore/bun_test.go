package bunstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locallibrary/catalog/internal/database"
	"github.com/locallibrary/catalog/internal/database/bunstore"
	"github.com/locallibrary/catalog/internal/database/models"
)

func newStore(t *testing.T) *bunstore.BunStore {
	t.Helper()

	conn, err := database.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	store, err := bunstore.NewBunStore(conn.DB, conn.Dialect)
	require.NoError(t, err)
	return store
}

func date(y int, m time.Month, d int) *time.Time {
	v := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &v
}

func TestBunStore_SchemaIsIdempotent(t *testing.T) {
	conn, err := database.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = bunstore.NewBunStore(conn.DB, conn.Dialect)
	require.NoError(t, err)
	_, err = bunstore.NewBunStore(conn.DB, conn.Dialect)
	require.NoError(t, err)
}

func TestBunStore_BookCounts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, title := range []string{"The Hobbit", "Dune", "Gathering Storm", "50% Off_Sale"} {
		require.NoError(t, s.CreateBook(ctx, &models.Book{Title: title}))
	}

	n, err := s.CountBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = s.CountBooksWithTitleContaining(ctx, "the")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "case-insensitive match on The Hobbit and Gathering")

	n, err = s.CountBooksWithTitleContaining(ctx, "%")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "wildcards are matched literally")
}

func TestBunStore_BookWithRelations(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	author := &models.Author{FirstName: "Frank", LastName: "Herbert"}
	require.NoError(t, s.CreateAuthor(ctx, author))
	lang := &models.Language{Name: "English"}
	require.NoError(t, s.CreateLanguage(ctx, lang))

	var genreIDs []int64
	for _, name := range []string{"Science Fiction", "Adventure", "Classic", "Politics"} {
		g := &models.Genre{Name: name}
		require.NoError(t, s.CreateGenre(ctx, g))
		genreIDs = append(genreIDs, g.ID)
	}

	book := &models.Book{
		Title:      "Dune",
		AuthorID:   &author.ID,
		LanguageID: &lang.ID,
		ISBN:       "9780441013593",
		GenreIDs:   genreIDs,
	}
	require.NoError(t, s.CreateBook(ctx, book))
	require.NotZero(t, book.ID)

	inst := &models.BookInstance{BookID: book.ID, Imprint: "Ace, 1990", Status: models.StatusAvailable}
	require.NoError(t, s.CreateInstance(ctx, inst))

	got, err := s.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "Herbert, Frank", got.Author.Name())
	assert.Equal(t, "English", got.Language.Name)
	require.Len(t, got.Genres, 4)
	assert.Equal(t, "Adventure, Classic, Politics", got.DisplayGenre())
	require.Len(t, got.Instances, 1)
	assert.Equal(t, inst.ID, got.Instances[0].ID)

	_, err = s.GetBook(ctx, book.ID+100)
	assert.ErrorIs(t, err, database.ErrNotFound)

	found, err := s.FindBookByTitleAndAuthor(ctx, "Dune", author.ID)
	require.NoError(t, err)
	assert.Equal(t, book.ID, found.ID)
}

func TestBunStore_UpdateBookReplacesGenres(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	g1 := &models.Genre{Name: "Fantasy"}
	g2 := &models.Genre{Name: "Horror"}
	require.NoError(t, s.CreateGenre(ctx, g1))
	require.NoError(t, s.CreateGenre(ctx, g2))

	book := &models.Book{Title: "Tales", GenreIDs: []int64{g1.ID}}
	require.NoError(t, s.CreateBook(ctx, book))

	book.Title = "More Tales"
	book.GenreIDs = []int64{g2.ID, g2.ID}
	require.NoError(t, s.UpdateBook(ctx, book))

	got, err := s.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "More Tales", got.Title)
	require.Len(t, got.Genres, 1)
	assert.Equal(t, "Horror", got.Genres[0].Name)

	err = s.UpdateBook(ctx, &models.Book{ID: 999, Title: "Ghost"})
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestBunStore_DeleteBookWithCopiesIsRefused(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	book := &models.Book{Title: "Kept"}
	require.NoError(t, s.CreateBook(ctx, book))
	inst := &models.BookInstance{BookID: book.ID, Imprint: "x", Status: models.StatusAvailable}
	require.NoError(t, s.CreateInstance(ctx, inst))

	assert.ErrorIs(t, s.DeleteBook(ctx, book.ID), database.ErrInUse)

	require.NoError(t, s.DeleteInstance(ctx, inst.ID))
	require.NoError(t, s.DeleteBook(ctx, book.ID))
	assert.ErrorIs(t, s.DeleteBook(ctx, book.ID), database.ErrNotFound)
}

func TestBunStore_DeleteAuthorDetachesBooks(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	author := &models.Author{FirstName: "Mary", LastName: "Shelley"}
	require.NoError(t, s.CreateAuthor(ctx, author))
	book := &models.Book{Title: "Frankenstein", AuthorID: &author.ID}
	require.NoError(t, s.CreateBook(ctx, book))

	require.NoError(t, s.DeleteAuthor(ctx, author.ID))

	got, err := s.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AuthorID)
	assert.Nil(t, got.Author)
}

func TestBunStore_AuthorsOrderedByName(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, a := range []*models.Author{
		{FirstName: "Zadie", LastName: "Smith"},
		{FirstName: "Jane", LastName: "Austen"},
		{FirstName: "Ali", LastName: "Smith"},
	} {
		require.NoError(t, s.CreateAuthor(ctx, a))
	}

	authors, total, err := s.ListAuthors(ctx, database.Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, authors, 2)
	assert.Equal(t, "Austen, Jane", authors[0].Name())
	assert.Equal(t, "Smith, Ali", authors[1].Name())

	authors, _, err = s.ListAuthors(ctx, database.Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, authors, 1)
	assert.Equal(t, "Smith, Zadie", authors[0].Name())
}

func TestBunStore_DuplicateGenre(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.CreateGenre(ctx, &models.Genre{Name: "Poetry"}))
	err := s.CreateGenre(ctx, &models.Genre{Name: "Poetry"})
	assert.ErrorIs(t, err, database.ErrDuplicate)
}

func seedLoans(t *testing.T, s *bunstore.BunStore) (alice, bob *models.User, book *models.Book) {
	t.Helper()
	ctx := context.Background()

	alice = &models.User{Username: "alice", PasswordHash: "x", IsActive: true}
	bob = &models.User{Username: "bob", PasswordHash: "x", IsActive: true}
	require.NoError(t, s.CreateUser(ctx, alice))
	require.NoError(t, s.CreateUser(ctx, bob))

	book = &models.Book{Title: "Shared"}
	require.NoError(t, s.CreateBook(ctx, book))

	copies := []*models.BookInstance{
		{BookID: book.ID, Imprint: "a-late", Status: models.StatusOnLoan, BorrowerID: &alice.ID, DueBack: date(2026, 11, 20)},
		{BookID: book.ID, Imprint: "a-early", Status: models.StatusOnLoan, BorrowerID: &alice.ID, DueBack: date(2026, 10, 1)},
		{BookID: book.ID, Imprint: "a-reserved", Status: models.StatusReserved, BorrowerID: &alice.ID, DueBack: date(2026, 9, 1)},
		{BookID: book.ID, Imprint: "b-loan", Status: models.StatusOnLoan, BorrowerID: &bob.ID, DueBack: date(2026, 10, 15)},
		{BookID: book.ID, Imprint: "shelf", Status: models.StatusAvailable},
	}
	for _, c := range copies {
		require.NoError(t, s.CreateInstance(ctx, c))
	}
	return alice, bob, book
}

func TestBunStore_ListLoansByBorrower(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	alice, bob, _ := seedLoans(t, s)

	loans, total, err := s.ListLoansByBorrower(ctx, alice.ID, database.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, loans, 2)
	assert.Equal(t, "a-early", loans[0].Imprint)
	assert.Equal(t, "a-late", loans[1].Imprint)
	for _, l := range loans {
		assert.Equal(t, alice.ID, *l.BorrowerID)
		assert.Equal(t, models.StatusOnLoan, l.Status)
		require.NotNil(t, l.Book)
	}

	loans, _, err = s.ListLoansByBorrower(ctx, bob.ID, database.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "b-loan", loans[0].Imprint)
}

func TestBunStore_ListOnLoanAndCounts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedLoans(t, s)

	loans, total, err := s.ListOnLoan(ctx, database.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, loans, 3)
	assert.Equal(t, "a-early", loans[0].Imprint)
	assert.Equal(t, "b-loan", loans[1].Imprint)
	assert.Equal(t, "a-late", loans[2].Imprint)
	require.NotNil(t, loans[0].Borrower)
	assert.Equal(t, "alice", loans[0].Borrower.Username)

	n, err := s.CountInstances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = s.CountInstancesByStatus(ctx, models.StatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBunStore_ListInstancesFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedLoans(t, s)

	insts, err := s.ListInstances(ctx, database.InstanceFilter{Status: models.StatusReserved})
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.Equal(t, "a-reserved", insts[0].Imprint)

	insts, err = s.ListInstances(ctx, database.InstanceFilter{DueBack: date(2026, 10, 15)})
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.Equal(t, "b-loan", insts[0].Imprint)

	insts, err = s.ListInstances(ctx, database.InstanceFilter{})
	require.NoError(t, err)
	assert.Len(t, insts, 5)
}

func TestBunStore_UpdateDueBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	alice, _, book := seedLoans(t, s)

	loans, _, err := s.ListLoansByBorrower(ctx, alice.ID, database.Page{Limit: 1})
	require.NoError(t, err)
	before := loans[0]

	newDue := *date(2026, 11, 1)
	v := before.Version
	require.NoError(t, s.UpdateDueBack(ctx, before.ID, newDue, &v))

	after, err := s.GetInstance(ctx, before.ID)
	require.NoError(t, err)
	assert.True(t, after.DueBack.Equal(newDue))
	assert.Equal(t, before.Version+1, after.Version)
	assert.Equal(t, before.Imprint, after.Imprint)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, *before.BorrowerID, *after.BorrowerID)
	assert.Equal(t, book.ID, after.BookID)

	// Stale version is rejected without writing.
	err = s.UpdateDueBack(ctx, before.ID, *date(2026, 12, 1), &v)
	assert.ErrorIs(t, err, database.ErrConcurrentUpdate)
	unchanged, err := s.GetInstance(ctx, before.ID)
	require.NoError(t, err)
	assert.True(t, unchanged.DueBack.Equal(newDue))

	// Without a version the write always lands.
	require.NoError(t, s.UpdateDueBack(ctx, before.ID, *date(2026, 12, 1), nil))

	err = s.UpdateDueBack(ctx, uuid.New(), newDue, nil)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestBunStore_UpdateInstanceBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, _, book := seedLoans(t, s)

	inst := &models.BookInstance{BookID: book.ID, Imprint: "new", Status: models.StatusMaintenance}
	require.NoError(t, s.CreateInstance(ctx, inst))
	assert.Equal(t, 1, inst.Version)

	inst.Status = models.StatusAvailable
	require.NoError(t, s.UpdateInstance(ctx, inst))
	assert.Equal(t, 2, inst.Version)

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, got.Status)
	assert.Equal(t, 2, got.Version)

	err = s.UpdateInstance(ctx, &models.BookInstance{ID: uuid.New(), BookID: book.ID, Status: models.StatusAvailable})
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestBunStore_Users(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	u := &models.User{Username: "librarian", PasswordHash: "hash", IsActive: true, IsStaff: true}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.ErrorIs(t, s.CreateUser(ctx, &models.User{Username: "librarian", PasswordHash: "x"}), database.ErrDuplicate)

	require.NoError(t, s.GrantPermission(ctx, u.ID, models.PermCanMarkReturned))
	require.NoError(t, s.GrantPermission(ctx, u.ID, models.PermCanMarkReturned))

	got, err := s.GetUserByUsername(ctx, "librarian")
	require.NoError(t, err)
	require.Len(t, got.Permissions, 1)
	assert.True(t, got.HasPerm(models.PermCanMarkReturned))

	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.TouchLastLogin(ctx, u.ID, now))
	got, err = s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.True(t, got.LastLogin.Equal(now))

	_, err = s.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, database.ErrNotFound)
}
