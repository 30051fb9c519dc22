// internal/httpserver/routes_auth.go
//
// Authentication routes.
//   - POST /api/auth/login            username+password -> session cookie
//   - POST /api/auth/register         new student account -> session cookie
//   - POST /api/auth/logout           clears both cookies
//   - GET  /api/auth/session          current identity
//   - GET  /api/check-auth            same, kept for older clients
//   - POST /api/admin/verify-password ADMIN_PASSWORD -> adminAuth cookie
//   - POST /api/admin/logout          clears adminAuth
//
// The admin can also log in through /api/auth/login as "admin" with
// ADMIN_PASSWORD. This works with no database at all, or when the database
// has no account called admin.

package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/schoolpaper/newsroom/internal/credential"
	"github.com/schoolpaper/newsroom/internal/identity"
	"github.com/schoolpaper/newsroom/internal/logging"
	"github.com/schoolpaper/newsroom/internal/metrics"
	"github.com/schoolpaper/newsroom/internal/session"
	"github.com/schoolpaper/newsroom/internal/user"
)

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type passwordReq struct {
	Password string `json:"password"`
}

// sessionUser is the user object returned by the auth endpoints.
type sessionUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role"`
	Grade       string `json:"grade,omitempty"`
	ClassNumber int    `json:"classNumber,omitempty"`
}

func sessionUserFrom(c *session.Claims) *sessionUser {
	if c == nil {
		return nil
	}
	return &sessionUser{
		ID:          c.UserID,
		Username:    c.Username,
		DisplayName: c.DisplayName,
		Role:        c.Role,
		Grade:       c.Grade,
		ClassNumber: c.ClassNumber,
	}
}

// claimsFor is the token claim set for a stored user.
func claimsFor(u *user.User) session.Claims {
	return session.Claims{
		UserID:      u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Grade:       u.Grade,
		ClassNumber: u.ClassNumber,
	}
}

func (s *Server) mountAuthRoutes(r chi.Router) {
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/logout", s.handleLogout)
	r.Get("/auth/session", s.handleSession)
	r.Get("/check-auth", s.handleSession)

	r.Post("/admin/verify-password", s.handleAdminVerify)
	r.Post("/admin/logout", s.handleAdminLogout)
}

// issueSession signs c, sets the session cookie and answers with the user.
func (s *Server) issueSession(w http.ResponseWriter, r *http.Request, status int, c session.Claims) {
	tok, exp, err := s.sessions.IssueUserToken(c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sessions.SetUserCookie(w, tok, exp)
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"user":    sessionUserFrom(&c),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, "login", loginLimit, loginWindow) {
		return
	}
	var body loginReq
	if !decodeJSON(w, r, &body) {
		return
	}
	body.Username = strings.TrimSpace(body.Username)
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}
	logger := logging.Ctx(r.Context())

	if s.db == nil {
		if !strings.EqualFold(body.Username, "admin") {
			metrics.RecordAuthAttempt("login", "unavailable")
			s.requireDB(w, r)
			return
		}
		s.legacyAdminLogin(w, r, body.Password)
		return
	}

	u, err := s.users.Authenticate(r.Context(), body.Username, body.Password)
	if errors.Is(err, user.ErrInvalidCredentials) {
		if strings.EqualFold(body.Username, "admin") && s.noAdminAccount(r) {
			s.legacyAdminLogin(w, r, body.Password)
			return
		}
		metrics.RecordAuthAttempt("login", "failure")
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.users.TouchLastLogin(r.Context(), u.ID); err != nil {
		logger.Warn().Err(err).Str("user_id", u.ID).Msg("touch last login")
	}
	metrics.RecordAuthAttempt("login", "success")
	logger.Info().Str("user_id", u.ID).Msg("user logged in")
	s.issueSession(w, r, http.StatusOK, claimsFor(u))
}

// noAdminAccount reports whether no stored user is called admin.
func (s *Server) noAdminAccount(r *http.Request) bool {
	_, err := s.users.GetByUsername(r.Context(), "admin")
	return errors.Is(err, user.ErrNotFound)
}

// legacyAdminLogin checks ADMIN_PASSWORD and issues the legacy admin user
// session plus the admin cookie.
func (s *Server) legacyAdminLogin(w http.ResponseWriter, r *http.Request, password string) {
	stored := s.cfg.Security.AdminPassword
	if stored == "" || !credential.VerifyPassword(password, stored) {
		if stored == "" {
			credential.BurnCompare(password)
		}
		metrics.RecordAuthAttempt("login", "failure")
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	adminTok, err := s.sessions.IssueAdminToken()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sessions.SetAdminCookie(w, adminTok)
	metrics.RecordAuthAttempt("login", "legacy_admin")
	logging.Ctx(r.Context()).Info().Msg("legacy admin logged in")
	s.issueSession(w, r, http.StatusOK, identity.LegacyAdminClaims())
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w, r) {
		return
	}
	if !s.allow(w, r, "register", registerLimit, registerWindow) {
		return
	}
	var in user.CreateInput
	if !decodeJSON(w, r, &in) {
		return
	}
	// Self-registration always creates a student account.
	in.Role = user.RoleUser

	u, err := s.users.Create(r.Context(), in)
	if err != nil {
		metrics.RecordAuthAttempt("register", "rejected")
		s.fail(w, r, err)
		return
	}
	metrics.RecordAuthAttempt("register", "success")
	logging.Ctx(r.Context()).Info().Str("user_id", u.ID).Str("username", u.Username).Msg("user registered")
	s.issueSession(w, r, http.StatusCreated, claimsFor(u))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.ClearUserCookie(w)
	s.sessions.ClearAdminCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	body := map[string]interface{}{
		"authenticated": id.Authenticated(),
		"isAdmin":       id.IsAdmin,
	}
	if id.User != nil {
		body["user"] = sessionUserFrom(id.User)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleAdminVerify(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, "admin-verify", adminVerifyLimit, adminVerifyWin) {
		return
	}
	var body passwordReq
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Password == "" {
		writeError(w, http.StatusBadRequest, "Password is required")
		return
	}
	stored := s.cfg.Security.AdminPassword
	if stored == "" {
		logging.Ctx(r.Context()).Error().Msg("ADMIN_PASSWORD is not configured")
		writeError(w, http.StatusInternalServerError, "Admin password not configured")
		return
	}
	if !credential.VerifyPassword(body.Password, stored) {
		metrics.RecordAuthAttempt("admin_verify", "failure")
		writeError(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	tok, err := s.sessions.IssueAdminToken()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sessions.SetAdminCookie(w, tok)
	metrics.RecordAuthAttempt("admin_verify", "success")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.ClearAdminCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
