// internal/session/session.go
//
// Signed session tokens.
//   - User sessions: HS256 JWT carrying a minimal claim set, stored in the
//     "session" cookie (or sent as a bearer token).
//   - Admin sessions: a separate securecookie value {authenticated, issuedAt}
//     stored in the "adminAuth" cookie. It does not depend on any user row,
//     so the admin password keeps working without a database.
//
// Verification never returns an error to callers: a bad, tampered or expired
// token simply yields "not authenticated".

package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/securecookie"
)

const (
	// UserCookieName holds the per-user JWT.
	UserCookieName = "session"
	// AdminCookieName holds the admin-password session.
	AdminCookieName = "adminAuth"
	// AdminTTL is the fixed lifetime of an admin session.
	AdminTTL = 4 * time.Hour

	minSecretLength = 32
)

// ErrWeakSecret is returned by NewManager for secrets shorter than 32 bytes.
var ErrWeakSecret = errors.New("session secret must be at least 32 characters")

// Claims is the identity embedded in a user token.
type Claims struct {
	UserID      string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role"`
	Grade       string `json:"grade,omitempty"`
	ClassNumber int    `json:"classNumber,omitempty"`
	jwt.RegisteredClaims
}

type adminPayload struct {
	Authenticated bool  `json:"authenticated"`
	IssuedAt      int64 `json:"issuedAt"`
}

// Manager issues and verifies both token kinds.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	admin  *securecookie.SecureCookie
	secure bool
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a Manager. ttl is the user-session lifetime;
// secureCookies marks cookies Secure (production).
func NewManager(secret string, ttl time.Duration, secureCookies bool, opts ...Option) (*Manager, error) {
	if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %v", ttl)
	}
	m := &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		secure: secureCookies,
	}
	for _, o := range opts {
		o(m)
	}

	codec := securecookie.New(deriveKey(m.secret, "admin-cookie-hash"), deriveKey(m.secret, "admin-cookie-block"))
	codec.MaxAge(int(AdminTTL / time.Second))
	codec.SetSerializer(securecookie.JSONEncoder{})
	m.admin = codec
	return m, nil
}

// TTL is the user-session lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

func deriveKey(secret []byte, label string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(label))
	return mac.Sum(nil)
}

// IssueUserToken signs c with a fresh expiry. Registered claims on c are overwritten.
func (m *Manager) IssueUserToken(c Claims) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   c.UserID,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &c)
	ss, err := t.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return ss, exp, nil
}

// VerifyUserToken returns the claims of a valid token, or nil.
func (m *Manager) VerifyUserToken(token string) *Claims {
	if token == "" {
		return nil
	}
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil || !t.Valid {
		return nil
	}
	if claims.UserID == "" || claims.Username == "" {
		return nil
	}
	return claims
}

// IssueAdminToken returns an encoded admin session value.
func (m *Manager) IssueAdminToken() (string, error) {
	v, err := m.admin.Encode(AdminCookieName, adminPayload{Authenticated: true, IssuedAt: m.now().Unix()})
	if err != nil {
		return "", fmt.Errorf("encode admin token: %w", err)
	}
	return v, nil
}

// VerifyAdminToken reports whether token is an unexpired admin session.
func (m *Manager) VerifyAdminToken(token string) bool {
	if token == "" {
		return false
	}
	var p adminPayload
	if err := m.admin.Decode(AdminCookieName, token, &p); err != nil {
		return false
	}
	if !p.Authenticated {
		return false
	}
	issued := time.Unix(p.IssuedAt, 0)
	now := m.now()
	return !issued.After(now.Add(time.Minute)) && now.Sub(issued) < AdminTTL
}
