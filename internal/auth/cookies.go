package auth

import (
	"net/http"
	"strings"
	"time"
)

const (
	AccessCookieName  = "access-token"
	RefreshCookieName = "refresh-token"
	cookiePath        = "/api"
)

// CookieManager binds issued tokens to transport. Both cookies are HttpOnly
// and SameSite=Strict, scoped to the API path; Secure everywhere except
// local development.
type CookieManager struct {
	secure bool
	now    func() time.Time
}

func NewCookieManager(secure bool) *CookieManager {
	return &CookieManager{secure: secure, now: time.Now}
}

func (c *CookieManager) Attach(w http.ResponseWriter, pair TokenPair) {
	c.set(w, AccessCookieName, pair.AccessToken, pair.AccessExpiresAt)
	c.set(w, RefreshCookieName, pair.RefreshToken, pair.RefreshExpiresAt)
}

// AttachAccess replaces only the access cookie, used by the transparent
// refresh path where the refresh cookie stays as issued.
func (c *CookieManager) AttachAccess(w http.ResponseWriter, token string, expiresAt time.Time) {
	c.set(w, AccessCookieName, token, expiresAt)
}

// Clear unsets both cookies. Both-or-neither: logout must not leave a
// dangling refresh cookie behind an expired access cookie.
func (c *CookieManager) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessCookieName, RefreshCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     cookiePath,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   c.secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func (c *CookieManager) set(w http.ResponseWriter, name, value string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(c.now().UTC()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}

	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     cookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// readAccessToken extracts the bearer credential from the access cookie,
// falling back to the Authorization header for non-browser clients.
func readAccessToken(r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(AccessCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}
