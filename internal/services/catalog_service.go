package services

import (
	"errors"
	"log"
	"strings"

	"gorm.io/gorm"

	"liblend/internal/models"
	"liblend/internal/repositories"
)

var (
	// ErrCategoryNotFound is returned when the referenced category does not exist.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrAuthorNotFound is returned when the referenced author does not exist.
	ErrAuthorNotFound = errors.New("author not found")

	// ErrUnknownCategory is returned when a category name is not in the
	// fixed catalog list.
	ErrUnknownCategory = errors.New("unknown category name")

	// ErrDuplicateName is returned on unique-constraint violations for
	// category and author names.
	ErrDuplicateName = errors.New("name already exists")

	// ErrInvalidCopies is returned when a book's total_copies is below 1.
	ErrInvalidCopies = errors.New("total copies must be at least 1")

	// ErrTotalBelowAvailable is returned when a book update requests fewer
	// total copies than are currently reported available.
	ErrTotalBelowAvailable = errors.New("total copies must be greater or equal than available copies")

	// ErrTotalBelowCheckedOut is returned when a book update would shrink
	// total_copies below the number of copies currently checked out.
	ErrTotalBelowCheckedOut = errors.New("total copies must cover currently checked out copies")

	// ErrInUse is returned when deleting a record that other rows still
	// reference, e.g. a category with books or a book with borrow history.
	ErrInUse = errors.New("record is still referenced")
)

// AuthorUpdate carries a partial author update; nil fields are left unchanged.
type AuthorUpdate struct {
	Name *string
	Bio  *string
}

// BookUpdate carries a partial book update; nil fields are left unchanged.
type BookUpdate struct {
	Title       *string
	Description *string
	AuthorID    *uint
	CategoryID  *uint
	TotalCopies *int
}

// CatalogService manages categories, authors and books.
type CatalogService interface {
	CreateCategory(name models.CategoryName) (*models.Category, error)
	GetCategory(id uint) (*models.Category, error)
	ListCategories() ([]models.Category, error)
	UpdateCategory(id uint, name models.CategoryName) (*models.Category, error)
	DeleteCategory(id uint) error

	CreateAuthor(name, bio string) (*models.Author, error)
	GetAuthor(id uint) (*models.Author, error)
	ListAuthors() ([]models.Author, error)
	UpdateAuthor(id uint, update AuthorUpdate) (*models.Author, error)
	DeleteAuthor(id uint) error

	CreateBook(title, description string, authorID, categoryID uint, totalCopies int) (*models.Book, error)
	GetBook(id uint) (*models.Book, error)
	ListBooks(filter repositories.BookFilter) ([]models.Book, error)
	UpdateBook(id uint, update BookUpdate) (*models.Book, error)
	DeleteBook(id uint) error
}

type catalogService struct {
	db           *gorm.DB
	categoryRepo repositories.CategoryRepository
	authorRepo   repositories.AuthorRepository
	bookRepo     repositories.BookRepository
}

func NewCatalogService(
	db *gorm.DB,
	categoryRepo repositories.CategoryRepository,
	authorRepo repositories.AuthorRepository,
	bookRepo repositories.BookRepository,
) CatalogService {
	return &catalogService{
		db:           db,
		categoryRepo: categoryRepo,
		authorRepo:   authorRepo,
		bookRepo:     bookRepo,
	}
}

// ─── Categories ───────────────────────────────────────────────────────────────

func (s *catalogService) CreateCategory(name models.CategoryName) (*models.Category, error) {
	if !models.ValidCategoryName(name) {
		return nil, ErrUnknownCategory
	}
	category := &models.Category{Name: name}
	if err := s.categoryRepo.Create(nil, category); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	log.Printf("[INFO] CreateCategory: created category %q (id=%d)", name, category.ID)
	return category, nil
}

func (s *catalogService) GetCategory(id uint) (*models.Category, error) {
	category, err := s.categoryRepo.GetByID(nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}
	return category, nil
}

func (s *catalogService) ListCategories() ([]models.Category, error) {
	return s.categoryRepo.List(nil)
}

func (s *catalogService) UpdateCategory(id uint, name models.CategoryName) (*models.Category, error) {
	if !models.ValidCategoryName(name) {
		return nil, ErrUnknownCategory
	}
	category, err := s.GetCategory(id)
	if err != nil {
		return nil, err
	}
	category.Name = name
	if err := s.categoryRepo.Update(nil, category); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	return category, nil
}

func (s *catalogService) DeleteCategory(id uint) error {
	if _, err := s.GetCategory(id); err != nil {
		return err
	}
	if err := s.categoryRepo.Delete(nil, id); err != nil {
		if isForeignKeyViolation(err) {
			return ErrInUse
		}
		return err
	}
	log.Printf("[INFO] DeleteCategory: deleted category %d", id)
	return nil
}

// ─── Authors ──────────────────────────────────────────────────────────────────

func (s *catalogService) CreateAuthor(name, bio string) (*models.Author, error) {
	author := &models.Author{Name: name, Bio: bio}
	if err := s.authorRepo.Create(nil, author); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	log.Printf("[INFO] CreateAuthor: created author %q (id=%d)", name, author.ID)
	return author, nil
}

func (s *catalogService) GetAuthor(id uint) (*models.Author, error) {
	author, err := s.authorRepo.GetByID(nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAuthorNotFound
		}
		return nil, err
	}
	return author, nil
}

func (s *catalogService) ListAuthors() ([]models.Author, error) {
	return s.authorRepo.List(nil)
}

func (s *catalogService) UpdateAuthor(id uint, update AuthorUpdate) (*models.Author, error) {
	author, err := s.GetAuthor(id)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if update.Name != nil {
		fields["name"] = *update.Name
		author.Name = *update.Name
	}
	if update.Bio != nil {
		fields["bio"] = *update.Bio
		author.Bio = *update.Bio
	}
	if len(fields) == 0 {
		return author, nil
	}

	if err := s.authorRepo.Updates(nil, id, fields); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	return author, nil
}

func (s *catalogService) DeleteAuthor(id uint) error {
	if _, err := s.GetAuthor(id); err != nil {
		return err
	}
	if err := s.authorRepo.Delete(nil, id); err != nil {
		if isForeignKeyViolation(err) {
			return ErrInUse
		}
		return err
	}
	log.Printf("[INFO] DeleteAuthor: deleted author %d", id)
	return nil
}

// ─── Books ────────────────────────────────────────────────────────────────────

// CreateBook creates a book with available_copies initialized to total_copies.
func (s *catalogService) CreateBook(title, description string, authorID, categoryID uint, totalCopies int) (*models.Book, error) {
	if totalCopies < 1 {
		return nil, ErrInvalidCopies
	}
	if _, err := s.GetAuthor(authorID); err != nil {
		return nil, err
	}
	if _, err := s.GetCategory(categoryID); err != nil {
		return nil, err
	}

	book := &models.Book{
		Title:           title,
		Description:     description,
		AuthorID:        authorID,
		CategoryID:      categoryID,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
	}
	if err := s.bookRepo.Create(nil, book); err != nil {
		log.Printf("[ERROR] CreateBook: failed to create book %q: %v", title, err)
		return nil, err
	}
	log.Printf("[INFO] CreateBook: created book %q (id=%d) with %d copies", title, book.ID, totalCopies)
	return book, nil
}

func (s *catalogService) GetBook(id uint) (*models.Book, error) {
	book, err := s.bookRepo.GetByID(nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	return book, nil
}

func (s *catalogService) ListBooks(filter repositories.BookFilter) ([]models.Book, error) {
	return s.bookRepo.List(nil, filter)
}

// UpdateBook applies a partial update inside a transaction that locks the
// book row. Holding the same lock as the borrow/return workflow means the
// total-vs-checked-out validation can never race an in-flight borrow.
// When total_copies changes, available_copies moves by the same delta so the
// number of checked-out copies is preserved.
func (s *catalogService) UpdateBook(id uint, update BookUpdate) (*models.Book, error) {
	var updated *models.Book

	err := s.db.Transaction(func(tx *gorm.DB) error {
		book, err := s.bookRepo.GetByIDForUpdate(tx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}

		fields := map[string]interface{}{}
		if update.Title != nil {
			fields["title"] = *update.Title
			book.Title = *update.Title
		}
		if update.Description != nil {
			fields["description"] = *update.Description
			book.Description = *update.Description
		}
		if update.AuthorID != nil {
			if _, err := s.authorRepo.GetByID(tx, *update.AuthorID); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrAuthorNotFound
				}
				return err
			}
			fields["author_id"] = *update.AuthorID
			book.AuthorID = *update.AuthorID
		}
		if update.CategoryID != nil {
			if _, err := s.categoryRepo.GetByID(tx, *update.CategoryID); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrCategoryNotFound
				}
				return err
			}
			fields["category_id"] = *update.CategoryID
			book.CategoryID = *update.CategoryID
		}
		if update.TotalCopies != nil {
			newTotal := *update.TotalCopies
			if newTotal < 1 {
				return ErrInvalidCopies
			}
			// Both floors are needed: the total may not drop below what is
			// currently reported available, and the delta-adjusted
			// availability may not go negative (possible even when the
			// first check passes, e.g. total=5 available=2 newTotal=2).
			if newTotal < book.AvailableCopies {
				log.Printf("[WARN] UpdateBook: rejected total_copies=%d for book %d, %d copies available",
					newTotal, id, book.AvailableCopies)
				return ErrTotalBelowAvailable
			}
			delta := newTotal - book.TotalCopies
			newAvailable := book.AvailableCopies + delta
			if newAvailable < 0 {
				log.Printf("[WARN] UpdateBook: rejected total_copies=%d for book %d, %d copies checked out",
					newTotal, id, book.TotalCopies-book.AvailableCopies)
				return ErrTotalBelowCheckedOut
			}
			fields["total_copies"] = newTotal
			fields["available_copies"] = newAvailable
			book.TotalCopies = newTotal
			book.AvailableCopies = newAvailable
		}

		if len(fields) == 0 {
			updated = book
			return nil
		}

		if err := s.bookRepo.Updates(tx, id, fields); err != nil {
			log.Printf("[ERROR] UpdateBook: failed to update book %d: %v", id, err)
			return err
		}
		updated = book
		return nil
	})

	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] UpdateBook: updated book %d", id)
	return updated, nil
}

func (s *catalogService) DeleteBook(id uint) error {
	if _, err := s.GetBook(id); err != nil {
		return err
	}
	if err := s.bookRepo.Delete(nil, id); err != nil {
		if isForeignKeyViolation(err) {
			return ErrInUse
		}
		return err
	}
	log.Printf("[INFO] DeleteBook: deleted book %d", id)
	return nil
}

// ─── Postgres error helpers ───────────────────────────────────────────────────

// isUniqueViolation checks whether a PostgreSQL unique-constraint error
// occurred. PostgreSQL error code 23505 = unique_violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

// isForeignKeyViolation checks for PostgreSQL error code 23503
// (foreign_key_violation).
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23503")
}
