//go:build integration
// +build integration

package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"liblend/internal/models"
	"liblend/internal/repositories"
	"liblend/internal/services"
)

type testEnv struct {
	db         *gorm.DB
	userRepo   repositories.UserRepository
	bookRepo   repositories.BookRepository
	borrowRepo repositories.BorrowRepository
	users      services.UserService
	catalog    services.CatalogService
	borrows    services.BorrowService
}

// setupTestDB starts a PostgreSQL container and returns a connection string
// plus a cleanup func.
func setupTestDB(t *testing.T) (string, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("liblend_test"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	cleanup := func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return connStr, cleanup
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	connStr, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	db, err := gorm.Open(postgres.Open(connStr), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.Author{},
		&models.Book{},
		&models.Borrow{},
		&models.Session{},
	))

	userRepo := repositories.NewUserRepository(db)
	categoryRepo := repositories.NewCategoryRepository(db)
	authorRepo := repositories.NewAuthorRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	borrowRepo := repositories.NewBorrowRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)

	return &testEnv{
		db:         db,
		userRepo:   userRepo,
		bookRepo:   bookRepo,
		borrowRepo: borrowRepo,
		users:      services.NewUserService(db, userRepo, sessionRepo),
		catalog:    services.NewCatalogService(db, categoryRepo, authorRepo, bookRepo),
		borrows:    services.NewBorrowService(db, userRepo, bookRepo, borrowRepo),
	}
}

func (e *testEnv) createUser(t *testing.T, username string) *models.User {
	t.Helper()
	user, err := e.users.Register(username, "supersecret")
	require.NoError(t, err)
	return user
}

// createBook seeds an author, a category and a book with the given copies.
func (e *testEnv) createBook(t *testing.T, title string, copies int) *models.Book {
	t.Helper()
	author, err := e.catalog.CreateAuthor("Author of "+title, "bio")
	require.NoError(t, err)
	category, err := e.catalog.CreateCategory(models.CategoryFiction)
	if err != nil {
		// Single fixed name per category; reuse the existing row.
		categories, listErr := e.catalog.ListCategories()
		require.NoError(t, listErr)
		require.NotEmpty(t, categories)
		category = &categories[0]
	}
	book, err := e.catalog.CreateBook(title, "", author.ID, category.ID, copies)
	require.NoError(t, err)
	return book
}

func (e *testEnv) reloadBook(t *testing.T, id uint) *models.Book {
	t.Helper()
	book, err := e.catalog.GetBook(id)
	require.NoError(t, err)
	return book
}

func TestBorrowDecrementsAvailability(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "alice")
	book := env.createBook(t, "Single Copy", 1)

	borrow, err := env.borrows.BorrowBook(user.ID, book.ID)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, borrow.ID)
	assert.Equal(t, borrow.BorrowDate.AddDate(0, 0, services.LoanPeriodDays), borrow.DueDate)

	reloaded := env.reloadBook(t, book.ID)
	assert.Equal(t, 0, reloaded.AvailableCopies)
	assert.False(t, reloaded.Available())

	// The only copy is out; a second borrow must be rejected.
	bob := env.createUser(t, "bob")
	_, err = env.borrows.BorrowBook(bob.ID, book.ID)
	assert.ErrorIs(t, err, services.ErrBookNotAvailable)
}

func TestConcurrentBorrowsNeverOversell(t *testing.T) {
	env := newTestEnv(t)
	book := env.createBook(t, "Contended", 1)

	const attempts = 8
	users := make([]*models.User, attempts)
	for i := range users {
		users[i] = env.createUser(t, fmt.Sprintf("user%d", i))
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, attempts)

	for i, u := range users {
		wg.Add(1)
		go func(idx int, userID uuid.UUID) {
			defer wg.Done()
			<-start
			_, errs[idx] = env.borrows.BorrowBook(userID, book.ID)
		}(i, u.ID)
	}
	close(start)
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, services.ErrBookNotAvailable):
			rejected++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one borrow may win the single copy")
	assert.Equal(t, attempts-1, rejected)

	reloaded := env.reloadBook(t, book.ID)
	assert.Equal(t, 0, reloaded.AvailableCopies, "available_copies must never go negative")
}

func TestBorrowLimit(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "heavy-reader")

	books := make([]*models.Book, 4)
	for i := range books {
		books[i] = env.createBook(t, fmt.Sprintf("Book %d", i), 2)
	}

	var first *models.Borrow
	for i := 0; i < services.MaxOpenBorrows; i++ {
		borrow, err := env.borrows.BorrowBook(user.ID, books[i].ID)
		require.NoError(t, err)
		if first == nil {
			first = borrow
		}
	}

	// Fourth concurrent borrow is over the limit.
	_, err := env.borrows.BorrowBook(user.ID, books[3].ID)
	assert.ErrorIs(t, err, services.ErrBorrowLimitReached)

	// Returning one frees a slot.
	_, err = env.borrows.ReturnBook(user.ID, first.ID)
	require.NoError(t, err)

	_, err = env.borrows.BorrowBook(user.ID, books[3].ID)
	assert.NoError(t, err)
}

func TestLateReturnAddsPenaltyPoints(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "late-reader")
	book := env.createBook(t, "Overdue Book", 1)

	// Seed a borrow whose due date passed 5 days ago.
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	borrow := &models.Borrow{
		UserID:     user.ID,
		BookID:     book.ID,
		BorrowDate: today.AddDate(0, 0, -(services.LoanPeriodDays + 5)),
		DueDate:    today.AddDate(0, 0, -5),
	}
	require.NoError(t, env.borrowRepo.Create(nil, borrow))
	require.NoError(t, env.bookRepo.AdjustAvailableCopies(nil, book.ID, -1))

	_, err := env.borrows.ReturnBook(user.ID, borrow.ID)
	require.NoError(t, err)

	points, err := env.users.PenaltyPoints(user, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, points, "5 days late adds exactly 5 penalty points")

	reloaded := env.reloadBook(t, book.ID)
	assert.Equal(t, 1, reloaded.AvailableCopies)
}

func TestOnTimeReturnAddsNoPenalty(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "prompt-reader")
	book := env.createBook(t, "Prompt Book", 1)

	borrow, err := env.borrows.BorrowBook(user.ID, book.ID)
	require.NoError(t, err)

	_, err = env.borrows.ReturnBook(user.ID, borrow.ID)
	require.NoError(t, err)

	points, err := env.users.PenaltyPoints(user, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, points)
}

func TestReturnRejectsForeignOrClosedBorrows(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	mallory := env.createUser(t, "mallory")
	book := env.createBook(t, "Guarded Book", 1)

	borrow, err := env.borrows.BorrowBook(alice.ID, book.ID)
	require.NoError(t, err)

	// Someone else's borrow id is indistinguishable from a missing one.
	_, err = env.borrows.ReturnBook(mallory.ID, borrow.ID)
	assert.ErrorIs(t, err, services.ErrBorrowNotOpen)

	reloaded := env.reloadBook(t, book.ID)
	assert.Equal(t, 0, reloaded.AvailableCopies, "failed return must not change state")

	// Real return, then a double return.
	_, err = env.borrows.ReturnBook(alice.ID, borrow.ID)
	require.NoError(t, err)

	_, err = env.borrows.ReturnBook(alice.ID, borrow.ID)
	assert.ErrorIs(t, err, services.ErrBorrowNotOpen)

	reloaded = env.reloadBook(t, book.ID)
	assert.Equal(t, 1, reloaded.AvailableCopies, "double return must not increment twice")
}

func TestBookCopyAccounting(t *testing.T) {
	env := newTestEnv(t)
	book := env.createBook(t, "Accounted Book", 5)
	assert.Equal(t, 5, book.AvailableCopies, "create initializes available to total")

	// Raising the total raises availability by the same delta.
	newTotal := 8
	updated, err := env.catalog.UpdateBook(book.ID, services.BookUpdate{TotalCopies: &newTotal})
	require.NoError(t, err)
	assert.Equal(t, 8, updated.TotalCopies)
	assert.Equal(t, 8, updated.AvailableCopies)

	// With no copies checked out, the total may not drop below the
	// currently reported availability.
	shrink := 3
	_, err = env.catalog.UpdateBook(book.ID, services.BookUpdate{TotalCopies: &shrink})
	assert.ErrorIs(t, err, services.ErrTotalBelowAvailable)

	reloaded := env.reloadBook(t, book.ID)
	assert.Equal(t, 8, reloaded.TotalCopies, "rejected shrink must not change state")
	assert.Equal(t, 8, reloaded.AvailableCopies)

	// Check out 8 - 2 = 6 copies is impossible (limit is 3 per user), so
	// simulate checked-out copies directly.
	require.NoError(t, env.bookRepo.AdjustAvailableCopies(nil, book.ID, -6))

	// Shrinking total below the 6 checked-out copies must be rejected.
	tooSmall := 5
	_, err = env.catalog.UpdateBook(book.ID, services.BookUpdate{TotalCopies: &tooSmall})
	assert.ErrorIs(t, err, services.ErrTotalBelowCheckedOut)

	// Shrinking to exactly the checked-out count leaves zero available.
	exact := 6
	updated, err = env.catalog.UpdateBook(book.ID, services.BookUpdate{TotalCopies: &exact})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.AvailableCopies)
}

func TestLoginAndAuthenticateRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "alice")

	token, err := env.users.Login("alice", "supersecret")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	user, err := env.users.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, err = env.users.Login("alice", "wrongpassword")
	assert.ErrorIs(t, err, services.ErrInvalidCredentials)

	_, err = env.users.Authenticate("forged-token")
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}
