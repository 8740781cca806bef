package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/repository"
	apperrors "github.com/spec-kit/support-chat/pkg/util"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	Profile *domain.Profile
}

// IsAdmin reports whether the caller holds the administrator role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Profile != nil && p.Profile.Role == domain.RoleAdmin
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens   *TokenManager
	profiles repository.ProfileRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, profiles repository.ProfileRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, profiles: profiles}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewAuthError("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewAuthError("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewAuthError("invalid token")
	}

	profile, err := m.profiles.GetByID(c.Context(), claims.ProfileID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return apperrors.NewAuthError("profile not found")
		}
		return apperrors.MapError(err)
	}

	c.Locals(principalKey, &Principal{Profile: profile})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

// RequireAdmin ensures the caller holds the administrator role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewAuthError("authentication required")
		}
		if !principal.IsAdmin() {
			return apperrors.NewForbidden("administrator required")
		}
		return c.Next()
	}
}
