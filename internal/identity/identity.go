// internal/identity/identity.go
//
// Per-request identity.
// Two independent signals are read on every request:
//  1. the user session cookie (or bearer token) -> the logged-in user;
//  2. the admin cookie -> the IsAdmin capability.
//
// They are not exclusive: a student can be logged in and admin-authenticated
// at the same time. A user whose role is admin is also IsAdmin.
// Without a database the only identity is the legacy admin (id "admin").

package identity

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/schoolpaper/newsroom/internal/session"
)

// LegacyAdminID is the user id carried by the password-only admin.
const LegacyAdminID = "admin"

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden")
)

// Identity is who is making the request.
type Identity struct {
	User    *session.Claims
	IsAdmin bool
}

// Anonymous is the identity of a request with no valid cookies.
func Anonymous() Identity { return Identity{} }

// Authenticated reports whether the request carries any valid session.
func (id Identity) Authenticated() bool { return id.User != nil || id.IsAdmin }

// UserID is the logged-in user's id, or "".
func (id Identity) UserID() string {
	if id.User == nil {
		return ""
	}
	return id.User.UserID
}

// IsLegacyAdmin reports whether the user is the password-only admin with no
// row in the users table.
func (id Identity) IsLegacyAdmin() bool {
	return id.User != nil && id.User.UserID == LegacyAdminID
}

// OwnerID is the id used for post ownership. The legacy admin owns nothing;
// it edits through IsAdmin.
func (id Identity) OwnerID() string {
	if id.IsLegacyAdmin() {
		return ""
	}
	return id.UserID()
}

// RequireAuth fails with ErrUnauthenticated for anonymous requests.
func RequireAuth(id Identity) error {
	if !id.Authenticated() {
		return ErrUnauthenticated
	}
	return nil
}

// RequireUser fails unless a user session (not just an admin cookie) is present.
func RequireUser(id Identity) error {
	if id.User == nil {
		return ErrUnauthenticated
	}
	return nil
}

// RequireAdmin fails with ErrUnauthenticated for anonymous requests and
// ErrForbidden for logged-in users without the admin capability.
func RequireAdmin(id Identity) error {
	if !id.Authenticated() {
		return ErrUnauthenticated
	}
	if !id.IsAdmin {
		return ErrForbidden
	}
	return nil
}

// LegacyAdminClaims is the user object issued when the admin logs in with
// ADMIN_PASSWORD instead of an account.
func LegacyAdminClaims() session.Claims {
	return session.Claims{
		UserID:      LegacyAdminID,
		Username:    "admin",
		DisplayName: "Admin",
		Role:        "admin",
	}
}

// UserLookup returns the stored role of the user with this id. found is
// false when the user no longer exists.
type UserLookup func(ctx context.Context, id string) (role string, found bool, err error)

// Resolver turns request cookies into an Identity.
type Resolver struct {
	sessions *session.Manager
	lookup   UserLookup
}

// NewResolver returns a Resolver. lookup may be nil (no database); tokens
// are then trusted as issued until they expire.
func NewResolver(sessions *session.Manager, lookup UserLookup) *Resolver {
	return &Resolver{sessions: sessions, lookup: lookup}
}

// Resolve evaluates both cookies. It never fails; bad tokens are ignored.
// With a lookup, the role comes from the stored user, not from the token,
// so promotions and demotions apply from the next request on.
func (res *Resolver) Resolve(r *http.Request) Identity {
	id := Anonymous()

	if c := res.sessions.VerifyUserToken(session.UserToken(r)); c != nil {
		if res.refresh(r.Context(), c) {
			id.User = c
			if c.Role == "admin" {
				id.IsAdmin = true
			}
		}
	}
	if res.sessions.VerifyAdminToken(session.AdminToken(r)) {
		id.IsAdmin = true
	}
	return id
}

// refresh replaces the token's role with the stored one. It reports false
// when the user is gone or cannot be looked up.
func (res *Resolver) refresh(ctx context.Context, c *session.Claims) bool {
	if res.lookup == nil || c.UserID == LegacyAdminID {
		return true
	}
	role, found, err := res.lookup(ctx, c.UserID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", c.UserID).Msg("identity: user lookup failed")
		return false
	}
	if !found {
		return false
	}
	c.Role = role
	return true
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware, or Anonymous.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(ctxKey{}).(Identity); ok {
		return id
	}
	return Anonymous()
}

// Middleware resolves the identity once per request and stores it in the
// request context. It never rejects; routes decide with RequireAuth/RequireAdmin.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), res.Resolve(r))))
	})
}
