package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// CSRFHeader carries the echoed csrf_token cookie value.
const CSRFHeader = "X-CSRF-Token"

// GenerateCSRFToken returns 32 random bytes, hex encoded.
func GenerateCSRFToken() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(randomBytes), nil
}

// ValidateDoubleSubmit checks that the X-CSRF-Token header matches the
// csrf_token cookie. A cross-site page can send the cookie but cannot read
// it to produce the header.
func ValidateDoubleSubmit(r *http.Request) bool {
	header := r.Header.Get(CSRFHeader)
	if header == "" {
		return false
	}
	cookie, err := r.Cookie(CSRFTokenCookie)
	if err != nil || cookie.Value == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) == 1
}

// IsStateChangingMethod checks if the HTTP method modifies state
func IsStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
