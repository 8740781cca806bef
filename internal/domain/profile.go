package domain

import "time"

// Role distinguishes end-users from administrators.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Profile is an account that can file or triage tickets.
type Profile struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SystemAuthorID is the reserved author id for automated messages.
const SystemAuthorID = "system"

// SystemAuthorName is the display name for automated messages.
const SystemAuthorName = "Support Bot"
