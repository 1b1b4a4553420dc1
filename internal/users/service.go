package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beatbound/beatbound/backend/internal/auth"
	"gorm.io/gorm"
)

var (
	// ErrEmailTaken indicates another account already claimed the email.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrBadCredentials indicates the email/password pair did not match an account.
	ErrBadCredentials = errors.New("users: invalid credentials")
	// ErrInvalidInput indicates a registration field failed validation.
	ErrInvalidInput = errors.New("users: invalid input")
)

// IDProvider issues identifiers for new accounts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// Service manages account registration and credential verification.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	now        func() time.Time
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, idProvider: cfg.IDProvider, now: clock}, nil
}

// RegisterRequest carries the fields needed to create an account.
type RegisterRequest struct {
	Email       string
	DisplayName string
	Password    string
	Role        Role
}

// Register creates a new account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (User, error) {
	email := normalizeEmail(req.Email)
	displayName := strings.TrimSpace(req.DisplayName)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if displayName == "" {
		return User{}, fmt.Errorf("%w: display name", ErrInvalidInput)
	}
	if req.Role != RoleProducer && req.Role != RoleArtist {
		return User{}, fmt.Errorf("%w: role", ErrInvalidInput)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return User{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return User{}, err
	}

	account := User{
		ID:           id,
		Email:        email,
		DisplayName:  displayName,
		Role:         req.Role,
		PasswordHash: hash,
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return account, nil
}

// Authenticate verifies credentials and returns the matching account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	var account User
	err := s.db.WithContext(ctx).
		Where("email = ?", normalizeEmail(email)).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrBadCredentials
	}
	if err != nil {
		return User{}, err
	}
	if !auth.VerifyPassword(account.PasswordHash, password) {
		return User{}, ErrBadCredentials
	}
	return account, nil
}

// GetByID loads an account by identifier.
func (s *Service) GetByID(ctx context.Context, id string) (User, error) {
	var account User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&account).Error
	if err != nil {
		return User{}, err
	}
	return account, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value")
}
