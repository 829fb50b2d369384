package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"liblend/internal/models"
	"liblend/internal/repositories"
	"liblend/internal/services"
)

const contextUserKey = "currentUser"

type APIHandler struct {
	users   services.UserService
	catalog services.CatalogService
	borrows services.BorrowService
}

func RegisterRoutes(r *gin.Engine, users services.UserService, catalog services.CatalogService, borrows services.BorrowService) {
	h := &APIHandler{users: users, catalog: catalog, borrows: borrows}

	api := r.Group("/api")

	// Open endpoints
	api.POST("/register/", h.register)
	api.POST("/login/", h.login)

	authed := api.Group("", h.authRequired)
	staff := authed.Group("", h.staffRequired)

	// Users
	authed.GET("/user/", h.listUsers)
	authed.GET("/user/:id/", h.getUser)
	authed.GET("/user/:id/penalty/", h.getPenalty)

	// Borrow workflow
	authed.POST("/borrow/", h.borrowBook)
	authed.GET("/borrow/", h.listOpenBorrows)
	authed.POST("/borrow/return/", h.returnBook)

	// Catalog: book reads need authentication; categories and authors are
	// staff-only in full, mutations and reads alike.
	staff.GET("/categories/", h.listCategories)
	staff.GET("/categories/:id/", h.getCategory)
	staff.POST("/categories/", h.createCategory)
	staff.PUT("/categories/:id/", h.updateCategory)
	staff.DELETE("/categories/:id/", h.deleteCategory)

	staff.GET("/authors/", h.listAuthors)
	staff.GET("/authors/:id/", h.getAuthor)
	staff.POST("/authors/", h.createAuthor)
	staff.PATCH("/authors/:id/", h.updateAuthor)
	staff.DELETE("/authors/:id/", h.deleteAuthor)

	authed.GET("/books/", h.listBooks)
	authed.GET("/books/:id/", h.getBook)
	staff.POST("/books/", h.createBook)
	staff.PATCH("/books/:id/", h.updateBook)
	staff.DELETE("/books/:id/", h.deleteBook)
}

// middleware

// authRequired resolves the Authorization bearer token and stores the user
// in the request context.
func (h *APIHandler) authRequired(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	user, err := h.users.Authenticate(token)
	if err != nil {
		if errors.Is(err, services.ErrInvalidToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		log.Printf("[ERROR] authRequired: %v", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.Set(contextUserKey, user)
	c.Next()
}

// staffRequired gates catalog mutations behind the staff role.
func (h *APIHandler) staffRequired(c *gin.Context) {
	if !currentUser(c).IsStaff {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "staff access required"})
		return
	}
	c.Next()
}

func currentUser(c *gin.Context) *models.User {
	return c.MustGet(contextUserKey).(*models.User)
}

// respondError maps service sentinel errors onto the HTTP status taxonomy.
// Anything unrecognized is logged and returned as an opaque 500.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrBookNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrAuthorNotFound),
		errors.Is(err, services.ErrCategoryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrBookNotAvailable),
		errors.Is(err, services.ErrBorrowLimitReached),
		errors.Is(err, services.ErrBorrowNotOpen),
		errors.Is(err, services.ErrUnknownCategory),
		errors.Is(err, services.ErrDuplicateName),
		errors.Is(err, services.ErrDuplicateUsername),
		errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidCopies),
		errors.Is(err, services.ErrTotalBelowAvailable),
		errors.Is(err, services.ErrTotalBelowCheckedOut),
		errors.Is(err, services.ErrInUse):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("[ERROR] request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// user endpoints

type registerRequest struct {
	Username string `json:"username" binding:"required,max=150"`
	Password string `json:"password" binding:"required,min=8"`
}

func (h *APIHandler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Register(req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *APIHandler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.users.Login(req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *APIHandler) listUsers(c *gin.Context) {
	users, err := h.users.ListUsers(currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *APIHandler) getUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	user, err := h.users.GetUser(currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *APIHandler) getPenalty(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	points, err := h.users.PenaltyPoints(currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "penalty_points": points})
}

// borrow workflow endpoints

type borrowRequest struct {
	BookID uint `json:"book_id" binding:"required"`
}

func (h *APIHandler) borrowBook(c *gin.Context) {
	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "book_id is required"})
		return
	}

	borrow, err := h.borrows.BorrowBook(currentUser(c).ID, req.BookID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"details": "borrowing book is successful",
		"borrow":  borrow,
	})
}

func (h *APIHandler) listOpenBorrows(c *gin.Context) {
	borrows, err := h.borrows.ListOpenBorrows(currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, borrows)
}

type returnRequest struct {
	BorrowID string `json:"borrow_id" binding:"required,uuid"`
}

func (h *APIHandler) returnBook(c *gin.Context) {
	var req returnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "borrow_id must be a valid UUID"})
		return
	}
	borrowID, err := uuid.Parse(req.BorrowID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "borrow_id must be a valid UUID"})
		return
	}

	borrow, err := h.borrows.ReturnBook(currentUser(c).ID, borrowID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"details": "book returned successfully",
		"borrow":  borrow,
	})
}

// category endpoints

type categoryRequest struct {
	Name models.CategoryName `json:"name" binding:"required"`
}

func (h *APIHandler) createCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	category, err := h.catalog.CreateCategory(req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (h *APIHandler) listCategories(c *gin.Context) {
	categories, err := h.catalog.ListCategories()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

func (h *APIHandler) getCategory(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	category, err := h.catalog.GetCategory(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (h *APIHandler) updateCategory(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	category, err := h.catalog.UpdateCategory(id, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (h *APIHandler) deleteCategory(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteCategory(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"details": "category deleted"})
}

// author endpoints

type authorRequest struct {
	Name string `json:"name" binding:"required,max=50"`
	Bio  string `json:"bio"`
}

func (h *APIHandler) createAuthor(c *gin.Context) {
	var req authorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	author, err := h.catalog.CreateAuthor(req.Name, req.Bio)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, author)
}

func (h *APIHandler) listAuthors(c *gin.Context) {
	authors, err := h.catalog.ListAuthors()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, authors)
}

func (h *APIHandler) getAuthor(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	author, err := h.catalog.GetAuthor(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, author)
}

type updateAuthorRequest struct {
	Name *string `json:"name" binding:"omitempty,max=50"`
	Bio  *string `json:"bio"`
}

func (h *APIHandler) updateAuthor(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var req updateAuthorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	author, err := h.catalog.UpdateAuthor(id, services.AuthorUpdate{
		Name: req.Name,
		Bio:  req.Bio,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, author)
}

func (h *APIHandler) deleteAuthor(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteAuthor(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"details": "author deleted"})
}

// book endpoints

type createBookRequest struct {
	Title       string `json:"title" binding:"required,max=255"`
	Description string `json:"description"`
	AuthorID    uint   `json:"author_id" binding:"required"`
	CategoryID  uint   `json:"category_id" binding:"required"`
	TotalCopies int    `json:"total_copies" binding:"required,min=1"`
}

func (h *APIHandler) createBook(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	book, err := h.catalog.CreateBook(req.Title, req.Description, req.AuthorID, req.CategoryID, req.TotalCopies)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (h *APIHandler) listBooks(c *gin.Context) {
	var filter repositories.BookFilter
	if raw := c.Query("author_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid author_id"})
			return
		}
		filter.AuthorID = uint(id)
	}
	if raw := c.Query("category_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category_id"})
			return
		}
		filter.CategoryID = uint(id)
	}
	if raw := c.Query("available"); raw != "" {
		available, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid available"})
			return
		}
		filter.Available = &available
	}

	books, err := h.catalog.ListBooks(filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (h *APIHandler) getBook(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	book, err := h.catalog.GetBook(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

type updateBookRequest struct {
	Title       *string `json:"title" binding:"omitempty,max=255"`
	Description *string `json:"description"`
	AuthorID    *uint   `json:"author_id"`
	CategoryID  *uint   `json:"category_id"`
	TotalCopies *int    `json:"total_copies" binding:"omitempty,min=1"`
}

func (h *APIHandler) updateBook(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var req updateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	book, err := h.catalog.UpdateBook(id, services.BookUpdate{
		Title:       req.Title,
		Description: req.Description,
		AuthorID:    req.AuthorID,
		CategoryID:  req.CategoryID,
		TotalCopies: req.TotalCopies,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *APIHandler) deleteBook(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteBook(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"details": "book deleted"})
}
