package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndComparePassword(t *testing.T) {
	password := "SecureP@ss123"

	// Test hashing
	hash, err := hashWithCost(password, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if hash == "" {
		t.Error("hash should not be empty")
	}

	if hash == password {
		t.Error("hash should not equal plaintext password")
	}

	// Test comparison with correct password
	err = ComparePassword(hash, password)
	if err != nil {
		t.Errorf("ComparePassword with correct password failed: %v", err)
	}

	// Test comparison with wrong password
	err = ComparePassword(hash, "WrongPassword123!")
	if err == nil {
		t.Error("ComparePassword with wrong password should fail")
	}
}

func TestHashPassword_Empty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestNewHasher_Cost(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	hash, err := h.Hash("SecureP@ss123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("bcrypt.Cost failed: %v", err)
	}
	if cost != bcrypt.MinCost {
		t.Errorf("cost = %d, want %d", cost, bcrypt.MinCost)
	}

	if NewHasher(99).cost != DefaultBcryptCost {
		t.Error("out of range cost should fall back to the default")
	}
}

func TestGenerateTokenKey_Unique(t *testing.T) {
	a, err := GenerateTokenKey()
	if err != nil {
		t.Fatalf("GenerateTokenKey failed: %v", err)
	}
	b, _ := GenerateTokenKey()

	if a == b {
		t.Error("token keys should be unique")
	}
	if strings.TrimSpace(a) == "" {
		t.Error("token key should not be empty")
	}
}
