package repositories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"liblend/internal/models"
)

type UserRepository interface {
	Create(db *gorm.DB, user *models.User) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error)
	GetByUsername(db *gorm.DB, username string) (*models.User, error)
	List(db *gorm.DB) ([]models.User, error)
	AddPenaltyPoints(db *gorm.DB, userID uuid.UUID, points int) error
}

type CategoryRepository interface {
	Create(db *gorm.DB, category *models.Category) error
	GetByID(db *gorm.DB, id uint) (*models.Category, error)
	List(db *gorm.DB) ([]models.Category, error)
	Update(db *gorm.DB, category *models.Category) error
	Delete(db *gorm.DB, id uint) error
}

type AuthorRepository interface {
	Create(db *gorm.DB, author *models.Author) error
	GetByID(db *gorm.DB, id uint) (*models.Author, error)
	List(db *gorm.DB) ([]models.Author, error)
	Updates(db *gorm.DB, id uint, fields map[string]interface{}) error
	Delete(db *gorm.DB, id uint) error
}

// BookFilter narrows List results. Zero fields are ignored.
type BookFilter struct {
	AuthorID   uint
	CategoryID uint
	Available  *bool
}

type BookRepository interface {
	Create(db *gorm.DB, book *models.Book) error
	GetByID(db *gorm.DB, id uint) (*models.Book, error)
	GetByIDForUpdate(db *gorm.DB, id uint) (*models.Book, error)
	List(db *gorm.DB, filter BookFilter) ([]models.Book, error)
	Updates(db *gorm.DB, id uint, fields map[string]interface{}) error
	AdjustAvailableCopies(db *gorm.DB, bookID uint, delta int) error
	Delete(db *gorm.DB, id uint) error
}

type BorrowRepository interface {
	Create(db *gorm.DB, borrow *models.Borrow) error
	GetOpenForUpdate(db *gorm.DB, borrowID, userID uuid.UUID) (*models.Borrow, error)
	CountOpenByUser(db *gorm.DB, userID uuid.UUID) (int64, error)
	ListOpenByUser(db *gorm.DB, userID uuid.UUID) ([]models.Borrow, error)
	Close(db *gorm.DB, borrowID uuid.UUID, returnDate time.Time) error
}

type SessionRepository interface {
	Create(db *gorm.DB, session *models.Session) error
	GetUserByTokenHash(db *gorm.DB, tokenHash string) (*models.User, error)
}

// concrete implementations

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(db *gorm.DB, user *models.User) error {
	if db == nil {
		db = r.db
	}
	return db.Create(user).Error
}

func (r *userRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(db *gorm.DB, username string) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.First(&user, "username = ?", username).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) List(db *gorm.DB) ([]models.User, error) {
	if db == nil {
		db = r.db
	}
	var users []models.User
	if err := db.Order("username").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepository) AddPenaltyPoints(db *gorm.DB, userID uuid.UUID, points int) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("penalty_points", gorm.Expr("penalty_points + ?", points)).
		Error
}

type categoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) CategoryRepository {
	return &categoryRepository{db: db}
}

func (r *categoryRepository) Create(db *gorm.DB, category *models.Category) error {
	if db == nil {
		db = r.db
	}
	return db.Create(category).Error
}

func (r *categoryRepository) GetByID(db *gorm.DB, id uint) (*models.Category, error) {
	if db == nil {
		db = r.db
	}
	var category models.Category
	if err := db.First(&category, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

func (r *categoryRepository) List(db *gorm.DB) ([]models.Category, error) {
	if db == nil {
		db = r.db
	}
	var categories []models.Category
	if err := db.Order("name").Find(&categories).Error; err != nil {
		return nil, err
	}
	return categories, nil
}

func (r *categoryRepository) Update(db *gorm.DB, category *models.Category) error {
	if db == nil {
		db = r.db
	}
	return db.Model(category).Update("name", category.Name).Error
}

func (r *categoryRepository) Delete(db *gorm.DB, id uint) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Category{}, "id = ?", id).Error
}

type authorRepository struct {
	db *gorm.DB
}

func NewAuthorRepository(db *gorm.DB) AuthorRepository {
	return &authorRepository{db: db}
}

func (r *authorRepository) Create(db *gorm.DB, author *models.Author) error {
	if db == nil {
		db = r.db
	}
	return db.Create(author).Error
}

func (r *authorRepository) GetByID(db *gorm.DB, id uint) (*models.Author, error) {
	if db == nil {
		db = r.db
	}
	var author models.Author
	if err := db.First(&author, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &author, nil
}

func (r *authorRepository) List(db *gorm.DB) ([]models.Author, error) {
	if db == nil {
		db = r.db
	}
	var authors []models.Author
	if err := db.Order("name").Find(&authors).Error; err != nil {
		return nil, err
	}
	return authors, nil
}

func (r *authorRepository) Updates(db *gorm.DB, id uint, fields map[string]interface{}) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Author{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *authorRepository) Delete(db *gorm.DB, id uint) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Author{}, "id = ?", id).Error
}

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return db.Create(book).Error
}

func (r *bookRepository) GetByID(db *gorm.DB, id uint) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

// GetByIDForUpdate locks the book row (SELECT ... FOR UPDATE) until the
// enclosing transaction ends. Callers must pass a transaction handle.
func (r *bookRepository) GetByIDForUpdate(db *gorm.DB, id uint) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&book, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) List(db *gorm.DB, filter BookFilter) ([]models.Book, error) {
	if db == nil {
		db = r.db
	}
	q := db.Model(&models.Book{})
	if filter.AuthorID != 0 {
		q = q.Where("author_id = ?", filter.AuthorID)
	}
	if filter.CategoryID != 0 {
		q = q.Where("category_id = ?", filter.CategoryID)
	}
	if filter.Available != nil {
		if *filter.Available {
			q = q.Where("available_copies > 0")
		} else {
			q = q.Where("available_copies = 0")
		}
	}
	var books []models.Book
	if err := q.Order("id").Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

func (r *bookRepository) Updates(db *gorm.DB, id uint, fields map[string]interface{}) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Book{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *bookRepository) AdjustAvailableCopies(db *gorm.DB, bookID uint, delta int) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Book{}).
		Where("id = ?", bookID).
		UpdateColumn("available_copies", gorm.Expr("available_copies + ?", delta)).
		Error
}

func (r *bookRepository) Delete(db *gorm.DB, id uint) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Book{}, "id = ?", id).Error
}

type borrowRepository struct {
	db *gorm.DB
}

func NewBorrowRepository(db *gorm.DB) BorrowRepository {
	return &borrowRepository{db: db}
}

func (r *borrowRepository) Create(db *gorm.DB, borrow *models.Borrow) error {
	if db == nil {
		db = r.db
	}
	return db.Create(borrow).Error
}

// GetOpenForUpdate locks the open borrow row belonging to the given user.
// Returns gorm.ErrRecordNotFound when the borrow does not exist, belongs to
// another user, or is already closed.
func (r *borrowRepository) GetOpenForUpdate(db *gorm.DB, borrowID, userID uuid.UUID) (*models.Borrow, error) {
	if db == nil {
		db = r.db
	}
	var borrow models.Borrow
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND user_id = ? AND return_date IS NULL", borrowID, userID).
		First(&borrow).Error
	if err != nil {
		return nil, err
	}
	return &borrow, nil
}

func (r *borrowRepository) CountOpenByUser(db *gorm.DB, userID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	err := db.Model(&models.Borrow{}).
		Where("user_id = ? AND return_date IS NULL", userID).
		Count(&count).Error
	return count, err
}

func (r *borrowRepository) ListOpenByUser(db *gorm.DB, userID uuid.UUID) ([]models.Borrow, error) {
	if db == nil {
		db = r.db
	}
	var borrows []models.Borrow
	err := db.Where("user_id = ? AND return_date IS NULL", userID).
		Order("borrow_date ASC").
		Find(&borrows).Error
	if err != nil {
		return nil, err
	}
	return borrows, nil
}

func (r *borrowRepository) Close(db *gorm.DB, borrowID uuid.UUID, returnDate time.Time) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Borrow{}).
		Where("id = ? AND return_date IS NULL", borrowID).
		Update("return_date", returnDate).Error
}

type sessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(db *gorm.DB, session *models.Session) error {
	if db == nil {
		db = r.db
	}
	return db.Create(session).Error
}

func (r *sessionRepository) GetUserByTokenHash(db *gorm.DB, tokenHash string) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var session models.Session
	if err := db.Preload("User").First(&session, "token_hash = ?", tokenHash).Error; err != nil {
		return nil, err
	}
	return &session.User, nil
}
