package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-chat/internal/auth"
	"github.com/spec-kit/support-chat/internal/config"
	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/repository"
	apperrors "github.com/spec-kit/support-chat/pkg/util"
)

// AuthService handles registration and login for profiles.
type AuthService struct {
	profiles   repository.ProfileRepository
	tokens     *auth.TokenManager
	bcryptCost int
}

// NewAuthService constructs the service.
func NewAuthService(cfg config.Config, profiles repository.ProfileRepository) *AuthService {
	return &AuthService{
		profiles:   profiles,
		tokens:     auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		bcryptCost: cfg.Auth.BcryptCost,
	}
}

// TokenManager exposes the manager for middleware wiring.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokens
}

// Register creates a new end-user profile.
func (s *AuthService) Register(ctx context.Context, displayName, email, password string) (*domain.Profile, error) {
	displayName = strings.TrimSpace(displayName)
	email = strings.ToLower(strings.TrimSpace(email))
	if displayName == "" || email == "" {
		return nil, apperrors.NewValidationError("display name and email required", nil)
	}
	if len(password) < 8 {
		return nil, apperrors.NewValidationError("password must be at least 8 characters", nil)
	}

	if _, err := s.profiles.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewValidationError("email already registered", nil)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewPersistenceError("lookup profile", err)
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	profile := &domain.Profile{
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		return nil, apperrors.NewPersistenceError("create profile", err)
	}
	return profile, nil
}

// Login verifies credentials and issues an access token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.Profile, string, time.Time, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	profile, err := s.profiles.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", time.Time{}, apperrors.NewAuthError("invalid credentials")
		}
		return nil, "", time.Time{}, apperrors.NewPersistenceError("lookup profile", err)
	}
	if err := auth.ComparePassword(profile.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, apperrors.NewAuthError("invalid credentials")
	}

	token, expiresAt, err := s.tokens.GenerateToken(profile.ID, profile.Role)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	return profile, token, expiresAt, nil
}
