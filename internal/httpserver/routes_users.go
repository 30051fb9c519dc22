// internal/httpserver/routes_users.go
//
// Profile and user administration routes.
//   - /api/user/profile, /api/user/password  the logged-in user's account.
//   - /api/admin/users[/{id}]                admin-only user CRUD. Deleting
//     a user drops the cached pages of their posts.

package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/schoolpaper/newsroom/internal/cache"
	"github.com/schoolpaper/newsroom/internal/identity"
	"github.com/schoolpaper/newsroom/internal/logging"
	"github.com/schoolpaper/newsroom/internal/metrics"
	"github.com/schoolpaper/newsroom/internal/post"
	"github.com/schoolpaper/newsroom/internal/user"
)

type changePasswordReq struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) mountUserRoutes(r chi.Router) {
	r.Get("/user/profile", s.handleGetProfile)
	r.Patch("/user/profile", s.handleUpdateProfile)
	r.Post("/user/password", s.handleChangePassword)

	r.Route("/admin/users", func(r chi.Router) {
		r.Use(s.adminOnly)
		r.Get("/", s.handleListUsers)
		r.Post("/", s.handleCreateUser)
		r.Get("/{id}", s.handleGetUser)
		r.Patch("/{id}", s.handleUpdateUser)
		r.Delete("/{id}", s.handleDeleteUser)
	})
}

// adminOnly gates a route group on the admin capability and a database.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := identity.RequireAdmin(identity.FromContext(r.Context())); err != nil {
			s.fail(w, r, err)
			return
		}
		if !s.requireDB(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// profileUser loads the logged-in user's own row.
func (s *Server) profileUser(w http.ResponseWriter, r *http.Request) (*user.User, bool) {
	id := identity.FromContext(r.Context())
	if err := identity.RequireUser(id); err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	if !s.requireDB(w, r) {
		return nil, false
	}
	if id.IsLegacyAdmin() {
		writeError(w, http.StatusBadRequest, "The admin account has no profile")
		return nil, false
	}
	u, err := s.users.GetByID(r.Context(), id.UserID())
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return u, true
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	u, ok := s.profileUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": u})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	u, ok := s.profileUser(w, r)
	if !ok {
		return
	}
	var patch user.Patch
	if !decodeJSON(w, r, &patch) {
		return
	}
	// Roles change only through the admin endpoints.
	patch.Role = nil

	updated, err := s.users.Update(r.Context(), u.ID, patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// Re-issue the session so the token carries the new profile fields.
	s.issueSession(w, r, http.StatusOK, claimsFor(updated))
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	u, ok := s.profileUser(w, r)
	if !ok {
		return
	}
	var body changePasswordReq
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.CurrentPassword == "" || body.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "Current and new password are required")
		return
	}
	if _, err := s.users.Authenticate(r.Context(), u.Username, body.CurrentPassword); err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			metrics.RecordAuthAttempt("password_change", "failure")
			writeError(w, http.StatusUnauthorized, "Current password is incorrect")
			return
		}
		s.fail(w, r, err)
		return
	}
	if err := s.users.ChangePassword(r.Context(), u.ID, body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	metrics.RecordAuthAttempt("password_change", "success")
	logging.Ctx(r.Context()).Info().Str("user_id", u.ID).Msg("password changed")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ------------------------------ admin: users --------------------------------

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in user.CreateInput
	if !decodeJSON(w, r, &in) {
		return
	}
	u, err := s.users.Create(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("user_id", u.ID).Str("role", string(u.Role)).Msg("user created by admin")
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "user": u})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": u})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch user.Patch
	if !decodeJSON(w, r, &patch) {
		return
	}
	u, err := s.users.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user": u})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "id")
	if target == identity.FromContext(r.Context()).UserID() {
		writeError(w, http.StatusBadRequest, "You cannot delete your own account")
		return
	}
	// Their posts show "author deleted" from now on, so every cached page
	// of theirs goes along with the listings.
	owned, err := s.posts.List(r.Context(), post.Filter{AuthorID: target})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.users.Delete(r.Context(), target); err != nil {
		s.fail(w, r, err)
		return
	}
	tags := []string{cache.TagPosts, cache.TagArchive}
	for _, p := range owned {
		tags = append(tags, cache.PostTag(p.Slug))
	}
	metrics.RecordCacheInvalidation(s.cache.Invalidate(r.Context(), tags...))
	logging.Ctx(r.Context()).Info().Str("user_id", target).Msg("user deleted")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
