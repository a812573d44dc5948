package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/casafacil/pkg/models"
	"github.com/mcclellann/casafacil/pkg/store"
	"go.uber.org/zap"
)

const minPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrPasswordTooShort   = fmt.Errorf("new password must have at least %d characters", minPasswordLength)
	ErrPasswordMismatch   = errors.New("new password and confirmation do not match")
)

// AdminStore is the part of the storage layer the auth service needs.
type AdminStore interface {
	GetAdminByEmail(ctx context.Context, email string) (*models.Admin, error)
	CreateAdmin(ctx context.Context, admin *models.Admin) error
	UpdateAdminPassword(ctx context.Context, id uuid.UUID, hash string, updatedAt time.Time) error
}

// ChangePasswordRequest is the body of a password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Service logs admins in and manages their passwords.
type Service struct {
	admins        AdminStore
	issuer        *Issuer
	logger        *zap.Logger
	checkPassword func(hash, password string) bool
}

func NewService(admins AdminStore, issuer *Issuer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{admins: admins, issuer: issuer, logger: logger, checkPassword: CheckPassword}
}

var (
	unknownAdminOnce sync.Once
	unknownAdminHash string
)

// decoyHash is compared against when no admin matches the email, so an
// unknown email costs as much as a wrong password.
func decoyHash() string {
	unknownAdminOnce.Do(func() {
		hash, err := HashPassword(uuid.NewString())
		if err == nil {
			unknownAdminHash = hash
		}
	})
	return unknownAdminHash
}

func (s *Service) Issuer() *Issuer {
	return s.issuer
}

// EnsureAdmin creates the admin account for email unless it already exists.
// An existing account keeps its current password.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return errors.New("admin email and password are required")
	}

	_, err := s.admins.GetAdminByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to look up admin: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	admin := &models.Admin{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.admins.CreateAdmin(ctx, admin); err != nil && !errors.Is(err, store.ErrDuplicateEmail) {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	s.logger.Info("admin account created", zap.String("op", "auth.EnsureAdmin"), zap.String("email", email))
	return nil
}

// Login checks the credentials and returns the admin with a signed token and
// its expiry.
func (s *Service) Login(ctx context.Context, email, password string) (*models.Admin, string, time.Time, error) {
	admin, err := s.admins.GetAdminByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.checkPassword(decoyHash(), password)
			return nil, "", time.Time{}, ErrInvalidCredentials
		}
		return nil, "", time.Time{}, err
	}
	if !s.checkPassword(admin.PasswordHash, password) {
		s.logger.Warn("failed admin login", zap.String("op", "auth.Login"), zap.String("email", admin.Email))
		return nil, "", time.Time{}, ErrInvalidCredentials
	}

	token, expires, err := s.issuer.Issue(admin)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return admin, token, expires, nil
}

// ChangePassword replaces the password of the admin with email after
// checking the current one.
func (s *Service) ChangePassword(ctx context.Context, email string, req ChangePasswordRequest) error {
	if len(req.NewPassword) < minPasswordLength {
		return ErrPasswordTooShort
	}
	if req.NewPassword != req.ConfirmPassword {
		return ErrPasswordMismatch
	}

	admin, err := s.admins.GetAdminByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if !CheckPassword(admin.PasswordHash, req.CurrentPassword) {
		return ErrWrongPassword
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.admins.UpdateAdminPassword(ctx, admin.ID, hash, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.logger.Info("admin password changed", zap.String("op", "auth.ChangePassword"), zap.String("email", admin.Email))
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
