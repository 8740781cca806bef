package dto

import (
	"time"

	"github.com/spec-kit/support-chat/internal/domain"
)

// RegisterRequest payload.
type RegisterRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

// LoginRequest payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileResponse is the public view of an account.
type ProfileResponse struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Email       string      `json:"email"`
	Role        domain.Role `json:"role"`
}

// AuthResponse carries an issued access token.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ProfileView maps a domain profile to its public view.
func ProfileView(p *domain.Profile) ProfileResponse {
	return ProfileResponse{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		Role:        p.Role,
	}
}
