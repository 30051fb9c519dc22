// internal/session/cookies.go
//
// Session cookie plumbing.
//   - "session"    the user JWT; HttpOnly, SameSite=Strict, expires with
//     the token. A bearer Authorization header takes precedence on read.
//   - "adminAuth"  the legacy admin marker; HttpOnly, SameSite=Strict.
//   - Secure is set in production only.

package session

import (
	"net/http"
	"strings"
	"time"
)

// SetUserCookie writes the user session cookie.
func (m *Manager) SetUserCookie(w http.ResponseWriter, token string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     UserCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  exp,
	})
}

// ClearUserCookie deletes the user session cookie.
func (m *Manager) ClearUserCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     UserCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// SetAdminCookie writes the admin session cookie. Strict same-site, 4h.
func (m *Manager) SetAdminCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     AdminCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(AdminTTL / time.Second),
	})
}

// ClearAdminCookie deletes the admin session cookie.
func (m *Manager) ClearAdminCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     AdminCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

// UserToken extracts a bearer token from the Authorization header or the session cookie.
func UserToken(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	if c, err := r.Cookie(UserCookieName); err == nil {
		return c.Value
	}
	return ""
}

// AdminToken returns the admin cookie value, if any.
func AdminToken(r *http.Request) string {
	if c, err := r.Cookie(AdminCookieName); err == nil {
		return c.Value
	}
	return ""
}
