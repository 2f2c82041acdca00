package auth

import (
	"net/http"
	"time"
)

// Cookie names
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	MFAVerifiedCookie  = "mfa_verified"
	CSRFTokenCookie    = "csrf_token"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain   string // Empty string = current host only
	Secure   bool   // HTTPS only
	SameSite string // "strict", "lax", or "none"
}

// NewCookieConfig returns the cookie settings for env. Production cookies
// are Secure; all auth cookies are SameSite=Strict.
func NewCookieConfig(env, domain string) CookieConfig {
	return CookieConfig{
		Domain:   domain,
		Secure:   env == "production",
		SameSite: "strict",
	}
}

func (c CookieConfig) set(w http.ResponseWriter, name, value string, maxAge time.Duration, httpOnly bool) {
	seconds := int(maxAge / time.Second)
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		Expires:  time.Now().Add(maxAge),
		MaxAge:   seconds,
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: parseSameSite(c.SameSite),
	})
}

func (c CookieConfig) clear(w http.ResponseWriter, name string, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1, // Negative MaxAge deletes the cookie
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: parseSameSite(c.SameSite),
	})
}

// SetAuthCookies writes the token pair plus a readable CSRF cookie.
// mfaVerified adds the mfa_verified marker.
func SetAuthCookies(w http.ResponseWriter, pair *TokenPair, csrfToken string, mfaVerified bool, config CookieConfig) {
	now := time.Now()
	accessAge := pair.AccessExpiresAt.Sub(now)
	refreshAge := pair.RefreshExpiresAt.Sub(now)

	config.set(w, AccessTokenCookie, pair.AccessToken, accessAge, true)
	config.set(w, RefreshTokenCookie, pair.RefreshToken, refreshAge, true)
	// JavaScript needs to read this and send it in X-CSRF-Token header
	config.set(w, CSRFTokenCookie, csrfToken, refreshAge, false)
	if mfaVerified {
		config.set(w, MFAVerifiedCookie, "true", refreshAge, true)
	}
}

// ClearAuthCookies expires every auth cookie.
func ClearAuthCookies(w http.ResponseWriter, config CookieConfig) {
	config.clear(w, AccessTokenCookie, true)
	config.clear(w, RefreshTokenCookie, true)
	config.clear(w, MFAVerifiedCookie, true)
	config.clear(w, CSRFTokenCookie, false)
}

// GetAccessTokenCookie retrieves the access token from cookies
func GetAccessTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// GetRefreshTokenCookie retrieves the refresh token from cookies
func GetRefreshTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(RefreshTokenCookie)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// parseSameSite converts string to http.SameSite constant
func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
