package auth

import (
	"testing"
	"time"

	"github.com/spec-kit/support-chat/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("test-secret", 60)

	token, expiresAt, err := tm.GenerateToken("profile-1", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if time.Until(expiresAt) < 59*time.Minute {
		t.Errorf("expiry too close: %v", expiresAt)
	}

	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.ProfileID != "profile-1" {
		t.Errorf("ProfileID = %q, want profile-1", claims.ProfileID)
	}
	if claims.Role != domain.RoleAdmin {
		t.Errorf("Role = %q, want admin", claims.Role)
	}
}

func TestTokenRejectsForeignSecret(t *testing.T) {
	token, _, err := NewTokenManager("secret-a", 60).GenerateToken("profile-1", domain.RoleUser)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := NewTokenManager("secret-b", 60).ParseToken(token); err == nil {
		t.Error("token signed with a different secret accepted")
	}
}

func TestTokenRejectsGarbage(t *testing.T) {
	tm := NewTokenManager("test-secret", 60)
	if _, err := tm.ParseToken("not.a.token"); err == nil {
		t.Error("malformed token accepted")
	}
}
