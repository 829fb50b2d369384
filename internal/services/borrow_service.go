package services

import (
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"liblend/internal/models"
	"liblend/internal/repositories"
)

const (
	// LoanPeriodDays is the number of days a user may keep a book before
	// a return starts accruing penalty points.
	LoanPeriodDays = 14

	// MaxOpenBorrows is the maximum number of books a user may have out at once.
	MaxOpenBorrows = 3
)

var (
	// ErrBookNotFound is returned when the requested book does not exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrBookNotAvailable is returned when all copies of the book are checked out.
	ErrBookNotAvailable = errors.New("book is not available")

	// ErrBorrowLimitReached is returned when the user already has
	// MaxOpenBorrows books out.
	ErrBorrowLimitReached = errors.New("borrow limit reached")

	// ErrBorrowNotOpen is returned when the borrow does not exist, belongs to
	// a different user, or has already been returned.
	ErrBorrowNotOpen = errors.New("invalid borrow record or book already returned")
)

// BorrowService implements the borrow/return workflow.
type BorrowService interface {
	BorrowBook(userID uuid.UUID, bookID uint) (*models.Borrow, error)
	ReturnBook(userID, borrowID uuid.UUID) (*models.Borrow, error)
	ListOpenBorrows(userID uuid.UUID) ([]models.Borrow, error)
}

type borrowService struct {
	db         *gorm.DB
	userRepo   repositories.UserRepository
	bookRepo   repositories.BookRepository
	borrowRepo repositories.BorrowRepository
}

func NewBorrowService(
	db *gorm.DB,
	userRepo repositories.UserRepository,
	bookRepo repositories.BookRepository,
	borrowRepo repositories.BorrowRepository,
) BorrowService {
	return &borrowService{
		db:         db,
		userRepo:   userRepo,
		bookRepo:   bookRepo,
		borrowRepo: borrowRepo,
	}
}

// BorrowBook implements the transactional borrow flow.
//
// Steps (all in one transaction):
//  1. Lock the book row (SELECT ... FOR UPDATE).
//  2. Reject if no copy is available.
//  3. Reject if the user already has MaxOpenBorrows open borrows.
//  4. Create the Borrow record (due in LoanPeriodDays).
//  5. Decrement the book's available_copies.
//
// The row lock serializes concurrent borrows of the same book, so
// available_copies can never go negative.
func (s *borrowService) BorrowBook(userID uuid.UUID, bookID uint) (*models.Borrow, error) {
	var created *models.Borrow

	err := s.db.Transaction(func(tx *gorm.DB) error {
		book, err := s.bookRepo.GetByIDForUpdate(tx, bookID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}

		if !book.Available() {
			log.Printf("[WARN] BorrowBook: book %d has no available copies (user=%s)", bookID, userID)
			return ErrBookNotAvailable
		}

		open, err := s.borrowRepo.CountOpenByUser(tx, userID)
		if err != nil {
			return err
		}
		if open >= MaxOpenBorrows {
			log.Printf("[WARN] BorrowBook: user %s already has %d open borrows", userID, open)
			return ErrBorrowLimitReached
		}

		today := midnightUTC(time.Now())
		borrow := &models.Borrow{
			UserID:     userID,
			BookID:     bookID,
			BorrowDate: today,
			DueDate:    today.AddDate(0, 0, LoanPeriodDays),
		}
		if err := s.borrowRepo.Create(tx, borrow); err != nil {
			log.Printf("[ERROR] BorrowBook: failed to create borrow record: %v", err)
			return err
		}

		if err := s.bookRepo.AdjustAvailableCopies(tx, bookID, -1); err != nil {
			log.Printf("[ERROR] BorrowBook: failed to decrement available_copies for book %d: %v", bookID, err)
			return err
		}

		created = borrow
		log.Printf("[INFO] BorrowBook: borrow created (id=%s) for user %s / book %d, due %s",
			borrow.ID, userID, bookID, borrow.DueDate.Format("2006-01-02"))
		return nil
	})

	if err != nil {
		return nil, err
	}
	return created, nil
}

// ReturnBook implements the transactional return flow.
//
// Steps (all in one transaction):
//  1. Lock the open Borrow row matching (borrowID, userID).
//  2. Lock the borrowed book's row.
//  3. Set the borrow's return_date to today.
//  4. Increment the book's available_copies.
//  5. If the return is late, add the whole days overdue to the user's
//     penalty_points.
//
// Locking the borrow row first and the book row second keeps the lock
// ordering consistent with catalog updates, which only lock the book.
func (s *borrowService) ReturnBook(userID, borrowID uuid.UUID) (*models.Borrow, error) {
	var updated *models.Borrow

	err := s.db.Transaction(func(tx *gorm.DB) error {
		borrow, err := s.borrowRepo.GetOpenForUpdate(tx, borrowID, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBorrowNotOpen
			}
			return err
		}

		if _, err := s.bookRepo.GetByIDForUpdate(tx, borrow.BookID); err != nil {
			return err
		}

		today := midnightUTC(time.Now())
		if err := s.borrowRepo.Close(tx, borrow.ID, today); err != nil {
			log.Printf("[ERROR] ReturnBook: failed to close borrow %s: %v", borrowID, err)
			return err
		}

		if err := s.bookRepo.AdjustAvailableCopies(tx, borrow.BookID, 1); err != nil {
			log.Printf("[ERROR] ReturnBook: failed to increment available_copies for book %d: %v", borrow.BookID, err)
			return err
		}

		if late := daysLate(borrow.DueDate, today); late > 0 {
			log.Printf("[INFO] ReturnBook: borrow %s is %d day(s) overdue, adding penalty points for user %s", borrowID, late, userID)
			if err := s.userRepo.AddPenaltyPoints(tx, userID, late); err != nil {
				log.Printf("[ERROR] ReturnBook: failed to add penalty points for user %s: %v", userID, err)
				return err
			}
		}

		borrow.ReturnDate = &today
		updated = borrow
		log.Printf("[INFO] ReturnBook: borrow %s returned by user %s (book=%d)", borrowID, userID, borrow.BookID)
		return nil
	})

	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListOpenBorrows returns the user's open borrows, oldest first.
func (s *borrowService) ListOpenBorrows(userID uuid.UUID) ([]models.Borrow, error) {
	return s.borrowRepo.ListOpenByUser(nil, userID)
}

// midnightUTC truncates t to the start of its UTC calendar day. Borrow,
// due and return dates are all stored at day granularity.
func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysLate returns the number of whole calendar days returnedAt falls after
// dueDate, or 0 when the return is on time. Both timestamps are truncated to
// midnight UTC so a return on the due date never counts as late.
func daysLate(dueDate, returnedAt time.Time) int {
	due := midnightUTC(dueDate)
	returned := midnightUTC(returnedAt)
	if !returned.After(due) {
		return 0
	}
	return int(returned.Sub(due).Hours() / 24)
}
