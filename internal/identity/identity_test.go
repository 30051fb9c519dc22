package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/schoolpaper/newsroom/internal/session"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	m, err := session.NewManager(testSecret, time.Hour, false)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func request(t *testing.T, m *session.Manager, user *session.Claims, admin bool) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if user != nil {
		tok, _, err := m.IssueUserToken(*user)
		if err != nil {
			t.Fatal(err)
		}
		r.AddCookie(&http.Cookie{Name: session.UserCookieName, Value: tok})
	}
	if admin {
		tok, err := m.IssueAdminToken()
		if err != nil {
			t.Fatal(err)
		}
		r.AddCookie(&http.Cookie{Name: session.AdminCookieName, Value: tok})
	}
	return r
}

func TestResolve(t *testing.T) {
	m := newManager(t)
	res := NewResolver(m, nil)
	student := &session.Claims{UserID: "u1", Username: "dana", Role: "user"}
	adminUser := &session.Claims{UserID: "u2", Username: "boss", Role: "admin"}

	tests := []struct {
		name      string
		user      *session.Claims
		admin     bool
		wantUser  string
		wantAdmin bool
	}{
		{"anonymous", nil, false, "", false},
		{"user only", student, false, "u1", false},
		{"admin cookie only", nil, true, "", true},
		{"user and admin cookie", student, true, "u1", true},
		{"admin role", adminUser, false, "u2", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := res.Resolve(request(t, m, tt.user, tt.admin))
			if id.UserID() != tt.wantUser || id.IsAdmin != tt.wantAdmin {
				t.Errorf("Resolve() = user %q admin %v, want %q %v", id.UserID(), id.IsAdmin, tt.wantUser, tt.wantAdmin)
			}
		})
	}
}

func TestResolve_BadCookiesAreAnonymous(t *testing.T) {
	m := newManager(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: session.UserCookieName, Value: "not.a.jwt"})
	r.AddCookie(&http.Cookie{Name: session.AdminCookieName, Value: strings.Repeat("x", 40)})
	if id := NewResolver(m, nil).Resolve(r); id.Authenticated() {
		t.Errorf("Resolve() = %+v, want anonymous", id)
	}
}

func TestResolve_DeletedUser(t *testing.T) {
	m := newManager(t)
	gone := &session.Claims{UserID: "gone", Username: "ghost", Role: "user"}
	legacy := LegacyAdminClaims()

	check := func(_ context.Context, id string) (string, bool, error) {
		if id == LegacyAdminID {
			t.Error("legacy admin should not be looked up")
		}
		return "", false, nil
	}
	res := NewResolver(m, check)

	if id := res.Resolve(request(t, m, gone, false)); id.Authenticated() {
		t.Errorf("deleted user resolved as %+v", id)
	}
	id := res.Resolve(request(t, m, &legacy, false))
	if !id.IsAdmin || !id.IsLegacyAdmin() || id.OwnerID() != "" {
		t.Errorf("legacy admin = %+v", id)
	}

	failing := NewResolver(m, func(context.Context, string) (string, bool, error) { return "", false, errors.New("db down") })
	if id := failing.Resolve(request(t, m, gone, false)); id.User != nil {
		t.Error("lookup error should fail closed")
	}
}

func TestResolve_RoleFromStore(t *testing.T) {
	m := newManager(t)
	stored := map[string]string{"u1": "teacher", "u2": "admin"}
	res := NewResolver(m, func(_ context.Context, id string) (string, bool, error) {
		role, ok := stored[id]
		return role, ok, nil
	})

	demoted := &session.Claims{UserID: "u1", Username: "was_admin", Role: "admin"}
	id := res.Resolve(request(t, m, demoted, false))
	if id.User == nil {
		t.Fatal("demoted user not resolved")
	}
	if id.IsAdmin || id.User.Role != "teacher" {
		t.Errorf("demoted admin resolved as admin=%v role=%q", id.IsAdmin, id.User.Role)
	}

	promoted := &session.Claims{UserID: "u2", Username: "now_admin", Role: "user"}
	id = res.Resolve(request(t, m, promoted, false))
	if id.User == nil {
		t.Fatal("promoted user not resolved")
	}
	if !id.IsAdmin || id.User.Role != "admin" {
		t.Errorf("promoted user resolved as admin=%v role=%q", id.IsAdmin, id.User.Role)
	}
}

func TestRequire(t *testing.T) {
	user := Identity{User: &session.Claims{UserID: "u1"}}
	admin := Identity{IsAdmin: true}

	if err := RequireAuth(Anonymous()); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("RequireAuth(anon) = %v", err)
	}
	if err := RequireAuth(user); err != nil {
		t.Errorf("RequireAuth(user) = %v", err)
	}
	if err := RequireUser(admin); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("RequireUser(admin cookie only) = %v", err)
	}
	if err := RequireAdmin(Anonymous()); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("RequireAdmin(anon) = %v", err)
	}
	if err := RequireAdmin(user); !errors.Is(err, ErrForbidden) {
		t.Errorf("RequireAdmin(user) = %v", err)
	}
	if err := RequireAdmin(admin); err != nil {
		t.Errorf("RequireAdmin(admin) = %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	m := newManager(t)
	var got Identity
	h := NewResolver(m, nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), request(t, m, &session.Claims{UserID: "u1", Username: "dana"}, false))
	if got.UserID() != "u1" {
		t.Errorf("FromContext() = %+v", got)
	}
	if FromContext(context.Background()).Authenticated() {
		t.Error("empty context should be anonymous")
	}
}
