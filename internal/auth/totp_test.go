package auth

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "edugate")
	require.NoError(t, err)
	return tm
}

// ============================================================================
// Constructor Tests
// ============================================================================

func TestTOTPManager_NewTOTPManager_InvalidKeyLength(t *testing.T) {
	for _, length := range []int{0, 16, 24, 31, 33, 64} {
		tm, err := NewTOTPManager(make([]byte, length), "edugate")
		assert.Error(t, err)
		assert.Nil(t, tm)
		assert.Contains(t, err.Error(), "must be exactly 32 bytes")
	}
}

// ============================================================================
// Setup Tests
// ============================================================================

func TestTOTPManager_Setup(t *testing.T) {
	tm := newTestTOTPManager(t)

	setup, err := tm.Setup("student@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, setup.Secret)
	assert.Len(t, setup.Nonce, 12) // GCM nonce is 12 bytes
	assert.NotContains(t, string(setup.EncryptedSecret), setup.Secret)

	require.True(t, strings.HasPrefix(setup.QRCodeDataURL, "data:image/png;base64,"))
	pngData, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(setup.QRCodeDataURL, "data:image/png;base64,"))
	require.NoError(t, err)
	// PNG signature: 137 80 78 71
	assert.Equal(t, []byte{137, 80, 78, 71}, pngData[:4])

	decrypted, err := tm.DecryptSecret(setup.EncryptedSecret, setup.Nonce)
	require.NoError(t, err)
	assert.Equal(t, setup.Secret, string(decrypted))
}

// ============================================================================
// Encryption/Decryption Tests - SECURITY CRITICAL
// ============================================================================

func TestTOTPManager_DecryptSecret_TamperedCiphertext(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, nonce, err := tm.EncryptSecret([]byte("test_secret_value"))
	require.NoError(t, err)

	encrypted[0] ^= 0xFF
	_, err = tm.DecryptSecret(encrypted, nonce)
	assert.Error(t, err)
}

func TestTOTPManager_DecryptSecret_WrongKey(t *testing.T) {
	tm := newTestTOTPManager(t)
	other := newTestTOTPManager(t)

	encrypted, nonce, err := tm.EncryptSecret([]byte("test_secret_value"))
	require.NoError(t, err)

	_, err = other.DecryptSecret(encrypted, nonce)
	assert.Error(t, err)
}

func TestTOTPManager_DecryptSecret_WrongNonceLength(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, _, err := tm.EncryptSecret([]byte("test_secret_value"))
	require.NoError(t, err)

	_, err = tm.DecryptSecret(encrypted, []byte{1, 2, 3})
	assert.Error(t, err)
}

// ============================================================================
// TOTP Validation Tests - SECURITY CRITICAL
// ============================================================================

func TestTOTPManager_ValidateCode(t *testing.T) {
	tm := newTestTOTPManager(t)
	setup, err := tm.Setup("student@example.com")
	require.NoError(t, err)

	now := time.Now()
	tests := []struct {
		name  string
		at    time.Time
		valid bool
	}{
		{"current step", now, true},
		{"next step within skew", now.Add(30 * time.Second), true},
		{"previous step within skew", now.Add(-30 * time.Second), true},
		{"outside window", now.Add(-3 * time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := totp.GenerateCode(setup.Secret, tt.at)
			require.NoError(t, err)

			valid, err := tm.ValidateCode(setup.EncryptedSecret, setup.Nonce, code, now)
			assert.NoError(t, err)
			assert.Equal(t, tt.valid, valid)
		})
	}
}

func TestValidateTOTP_MalformedCode(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "edugate", AccountName: "a@example.com"})
	require.NoError(t, err)

	valid, err := ValidateTOTP(key.Secret(), "12", time.Now())
	assert.NoError(t, err)
	assert.False(t, valid)
}
