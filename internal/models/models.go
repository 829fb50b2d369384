package models

import (
	"time"

	"github.com/google/uuid"
)

type CategoryName string

const (
	CategoryFiction    CategoryName = "FICTION"
	CategoryNonFiction CategoryName = "NON_FICTION"
	CategoryScience    CategoryName = "SCIENCE"
	CategoryHistory    CategoryName = "HISTORY"
	CategoryBiography  CategoryName = "BIOGRAPHY"
	CategoryMystery    CategoryName = "MYSTERY"
	CategoryFantasy    CategoryName = "FANTASY"
	CategoryRomance    CategoryName = "ROMANCE"
	CategoryTechnology CategoryName = "TECHNOLOGY"
	CategoryArt        CategoryName = "ART"
	CategoryChildrens  CategoryName = "CHILDRENS"
	CategorySelfHelp   CategoryName = "SELF_HELP"
	CategoryTravel     CategoryName = "TRAVEL"
)

// ValidCategoryName reports whether name is one of the fixed catalog categories.
func ValidCategoryName(name CategoryName) bool {
	switch name {
	case CategoryFiction, CategoryNonFiction, CategoryScience, CategoryHistory,
		CategoryBiography, CategoryMystery, CategoryFantasy, CategoryRomance,
		CategoryTechnology, CategoryArt, CategoryChildrens, CategorySelfHelp,
		CategoryTravel:
		return true
	}
	return false
}

type User struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Username      string    `gorm:"size:150;not null;uniqueIndex" json:"username"`
	PasswordHash  string    `gorm:"size:255;not null" json:"-"`
	IsStaff       bool      `gorm:"not null;default:false" json:"is_staff"`
	PenaltyPoints int       `gorm:"not null;default:0" json:"penalty_points"`
}

type Category struct {
	ID   uint         `gorm:"primaryKey" json:"id"`
	Name CategoryName `gorm:"size:20;not null;uniqueIndex" json:"name"`
}

type Author struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:50;not null;uniqueIndex" json:"name"`
	Bio  string `gorm:"type:text" json:"bio"`
}

type Book struct {
	ID              uint     `gorm:"primaryKey" json:"id"`
	Title           string   `gorm:"size:255;not null" json:"title"`
	Description     string   `gorm:"type:text" json:"description"`
	AuthorID        uint     `gorm:"not null;index" json:"author_id"`
	Author          Author   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	CategoryID      uint     `gorm:"not null;index" json:"category_id"`
	Category        Category `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	TotalCopies     int      `gorm:"not null" json:"total_copies"`
	AvailableCopies int      `gorm:"not null" json:"available_copies"`
}

// Available reports whether at least one copy can be borrowed right now.
func (b *Book) Available() bool {
	return b.AvailableCopies > 0
}

type Borrow struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"borrow_id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	User       User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	BookID     uint       `gorm:"not null;index" json:"book_id"`
	Book       Book       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	BorrowDate time.Time  `gorm:"not null" json:"borrow_date"`
	DueDate    time.Time  `gorm:"not null" json:"due_date"`
	ReturnDate *time.Time `json:"return_date"`
}

// Open reports whether the borrow has not been returned yet.
func (b *Borrow) Open() bool {
	return b.ReturnDate == nil
}

// Session is one issued bearer token. Only the SHA-256 hex digest of the
// token is stored; the plain value is handed to the client once at login.
type Session struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User      User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	TokenHash string    `gorm:"size:64;not null;uniqueIndex" json:"-"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}
