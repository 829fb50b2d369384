package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"liblend/internal/models"
	"liblend/internal/repositories"
)

var (
	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateUsername is returned when registering an already-taken username.
	ErrDuplicateUsername = errors.New("username already exists")

	// ErrInvalidCredentials is returned on login with a wrong username or password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrForbidden is returned when a non-staff caller accesses another
	// user's data.
	ErrForbidden = errors.New("permission denied")

	// ErrInvalidToken is returned when a bearer token matches no session.
	ErrInvalidToken = errors.New("invalid token")
)

// UserService handles accounts, sessions and the penalty inquiry.
type UserService interface {
	Register(username, password string) (*models.User, error)
	Login(username, password string) (string, error)
	Authenticate(token string) (*models.User, error)

	GetUser(caller *models.User, id uuid.UUID) (*models.User, error)
	ListUsers(caller *models.User) ([]models.User, error)
	PenaltyPoints(caller *models.User, id uuid.UUID) (int, error)
}

type userService struct {
	db          *gorm.DB
	userRepo    repositories.UserRepository
	sessionRepo repositories.SessionRepository
}

func NewUserService(
	db *gorm.DB,
	userRepo repositories.UserRepository,
	sessionRepo repositories.SessionRepository,
) UserService {
	return &userService{
		db:          db,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
	}
}

// Register creates an account with a bcrypt-hashed password.
func (s *userService) Register(username, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.userRepo.Create(nil, user); err != nil {
		if isUniqueViolation(err) {
			log.Printf("[WARN] Register: username %q already taken", username)
			return nil, ErrDuplicateUsername
		}
		log.Printf("[ERROR] Register: failed to create user %q: %v", username, err)
		return nil, err
	}
	log.Printf("[INFO] Register: created user %q (id=%s)", username, user.ID)
	return user, nil
}

// Login verifies the credentials and issues an opaque bearer token. The
// token's SHA-256 digest is persisted; the plain value is returned once.
func (s *userService) Login(username, password string) (string, error) {
	user, err := s.userRepo.GetByUsername(nil, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		log.Printf("[WARN] Login: bad password for user %q", username)
		return "", ErrInvalidCredentials
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	session := &models.Session{
		UserID:    user.ID,
		TokenHash: hashToken(token),
	}
	if err := s.sessionRepo.Create(nil, session); err != nil {
		log.Printf("[ERROR] Login: failed to persist session for user %q: %v", username, err)
		return "", err
	}
	log.Printf("[INFO] Login: session created for user %q", username)
	return token, nil
}

// Authenticate resolves a bearer token to its user.
func (s *userService) Authenticate(token string) (*models.User, error) {
	user, err := s.sessionRepo.GetUserByTokenHash(nil, hashToken(token))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

// GetUser returns the requested account. Staff may read anyone; other
// callers only themselves.
func (s *userService) GetUser(caller *models.User, id uuid.UUID) (*models.User, error) {
	if !caller.IsStaff && caller.ID != id {
		return nil, ErrForbidden
	}
	user, err := s.userRepo.GetByID(nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// ListUsers returns every account for staff, and just the caller's own
// account for everyone else.
func (s *userService) ListUsers(caller *models.User) ([]models.User, error) {
	if !caller.IsStaff {
		return []models.User{*caller}, nil
	}
	return s.userRepo.List(nil)
}

// PenaltyPoints returns the penalty total for the given user. Staff may
// query any user; other callers only themselves.
func (s *userService) PenaltyPoints(caller *models.User, id uuid.UUID) (int, error) {
	if !caller.IsStaff && caller.ID != id {
		log.Printf("[WARN] PenaltyPoints: user %s denied access to user %s", caller.ID, id)
		return 0, ErrForbidden
	}
	user, err := s.userRepo.GetByID(nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return user.PenaltyPoints, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
