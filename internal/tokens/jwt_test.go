package tokens_test

import (
	"testing"

	"github.com/technosupport/ts-trapnet/internal/tokens"
)

func TestTokenGeneration(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key")
	userID := "user-123"

	token, err := mgr.GenerateAccessToken(userID, true)
	if err != nil {
		t.Fatalf("Failed to generate access token: %v", err)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}

	if claims.UserID != userID {
		t.Errorf("Expected UserID %s, got %s", userID, claims.UserID)
	}
	if !claims.IsServerAdmin {
		t.Errorf("Expected server_admin claim to survive the round trip")
	}
	if claims.TokenType != tokens.Access {
		t.Errorf("Expected TokenType %s, got %s", tokens.Access, claims.TokenType)
	}
}

func TestInvalidSignature(t *testing.T) {
	mgr1 := tokens.NewManager("secret-1")
	mgr2 := tokens.NewManager("secret-2")

	token, _ := mgr1.GenerateAccessToken("u1", false)
	_, err := mgr2.ValidateToken(token)
	if err == nil {
		t.Fatalf("Expected validation to fail across signing keys")
	}
}

func TestRefreshTokenType(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key")

	token, err := mgr.GenerateRefreshToken("u1", false)
	if err != nil {
		t.Fatalf("Failed to generate refresh token: %v", err)
	}
	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if claims.TokenType != tokens.Refresh {
		t.Errorf("Expected TokenType %s, got %s", tokens.Refresh, claims.TokenType)
	}
}
