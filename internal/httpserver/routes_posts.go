// internal/httpserver/routes_posts.go
//
// Post routes.
//   - /api/admin/posts[/{id}]  dashboard CRUD. Admins see and edit everything;
//     other users only their own posts.
//   - /api/user/posts[/{id}]   owner-only CRUD for the logged-in user.
//   - /api/posts, /api/posts/archive, /api/posts/{slug}  public, published
//     only, served from the tag cache.
//
// Every mutation invalidates the cache tags of the listings and pages that
// could show the post.

package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/schoolpaper/newsroom/internal/cache"
	"github.com/schoolpaper/newsroom/internal/identity"
	"github.com/schoolpaper/newsroom/internal/logging"
	"github.com/schoolpaper/newsroom/internal/metrics"
	"github.com/schoolpaper/newsroom/internal/post"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (s *Server) mountPostRoutes(r chi.Router) {
	r.Route("/admin/posts", func(r chi.Router) {
		r.Get("/", s.handleListPosts(true))
		r.Post("/", s.handleCreatePost(true))
		r.Get("/{id}", s.handleGetPost(true))
		r.Patch("/{id}", s.handleUpdatePost(true))
		r.Delete("/{id}", s.handleDeletePost(true))
	})
	r.Route("/user/posts", func(r chi.Router) {
		r.Get("/", s.handleListPosts(false))
		r.Post("/", s.handleCreatePost(false))
		r.Get("/{id}", s.handleGetPost(false))
		r.Patch("/{id}", s.handleUpdatePost(false))
		r.Delete("/{id}", s.handleDeletePost(false))
	})

	r.Get("/posts", s.handlePublicPosts)
	r.Get("/posts/archive", s.handleArchive)
	r.Get("/posts/{slug}", s.handlePublicPost)
}

// postActor resolves who is acting on the post routes. On the admin routes
// the admin capability applies; the user routes are strictly owner-only.
func (s *Server) postActor(r *http.Request, adminRoutes bool) (identity.Identity, bool, error) {
	id := identity.FromContext(r.Context())
	if adminRoutes {
		if err := identity.RequireAuth(id); err != nil {
			return id, false, err
		}
		return id, id.IsAdmin, nil
	}
	if err := identity.RequireUser(id); err != nil {
		return id, false, err
	}
	return id, false, nil
}

// authorOf is the attribution stamped onto posts the identity creates.
func authorOf(id identity.Identity) post.Author {
	if id.User == nil {
		return post.Author{Name: "Admin"}
	}
	a := post.Author{
		ID:    id.OwnerID(),
		Name:  id.User.DisplayName,
		Grade: id.User.Grade,
		Class: id.User.ClassNumber,
	}
	if a.Name == "" {
		a.Name = id.User.Username
	}
	return a
}

func (s *Server) handleListPosts(adminRoutes bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requireDB(w, r) {
			return
		}
		id, isAdmin, err := s.postActor(r, adminRoutes)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		q := r.URL.Query()
		f := post.Filter{
			Status: post.Status(q.Get("status")),
			Search: q.Get("q"),
		}
		if f.Status != "" && f.Status != post.StatusDraft && f.Status != post.StatusPublished {
			writeError(w, http.StatusBadRequest, "status must be one of: draft, published")
			return
		}
		if !isAdmin {
			f.AuthorID = id.OwnerID()
			if f.AuthorID == "" {
				writeJSON(w, http.StatusOK, map[string]interface{}{"posts": []post.Post{}, "total": 0})
				return
			}
		}

		posts, err := s.posts.List(r.Context(), f)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"posts": posts, "total": len(posts)})
	}
}

func (s *Server) handleCreatePost(adminRoutes bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requireDB(w, r) {
			return
		}
		id, isAdmin, err := s.postActor(r, adminRoutes)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		var in post.Input
		if !decodeJSON(w, r, &in) {
			return
		}
		if !isAdmin {
			// Only admins may attribute a post to somebody else.
			in.AuthorID = ""
		}

		p, err := s.posts.Create(r.Context(), authorOf(id), in)
		if err != nil {
			metrics.RecordPostMutation("create", "rejected")
			s.fail(w, r, err)
			return
		}
		metrics.RecordPostMutation("create", "created")
		logging.Ctx(r.Context()).Info().Str("post_id", p.ID).Str("slug", p.Slug).Str("status", string(p.Status)).Msg("post created")
		s.invalidatePost(r.Context(), p)
		writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "post": p})
	}
}

func (s *Server) handleGetPost(adminRoutes bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requireDB(w, r) {
			return
		}
		id, isAdmin, err := s.postActor(r, adminRoutes)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		p, err := s.posts.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !post.CanEdit(id.OwnerID(), p.AuthorID, isAdmin) {
			writeError(w, http.StatusForbidden, "Forbidden - You can only view your own posts")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"post": p})
	}
}

func (s *Server) handleUpdatePost(adminRoutes bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requireDB(w, r) {
			return
		}
		id, isAdmin, err := s.postActor(r, adminRoutes)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		var patch post.Patch
		if !decodeJSON(w, r, &patch) {
			return
		}
		if patch.IsEmpty() {
			writeError(w, http.StatusBadRequest, "No fields to update")
			return
		}

		postID := chi.URLParam(r, "id")
		res, err := s.posts.UpdateIfOwned(r.Context(), postID, id.OwnerID(), isAdmin, patch)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		metrics.RecordPostMutation("update", res.Outcome.String())
		switch res.Outcome {
		case post.NotFound:
			writeError(w, http.StatusNotFound, "Post not found")
		case post.Forbidden:
			logging.Ctx(r.Context()).Warn().Str("post_id", postID).Str("user_id", id.UserID()).Msg("update denied")
			writeError(w, http.StatusForbidden, "Forbidden - You can only edit your own posts")
		default:
			s.invalidatePost(r.Context(), res.Before, res.Post)
			logging.Ctx(r.Context()).Info().Str("post_id", postID).Str("slug", res.Post.Slug).Msg("post updated")
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "post": res.Post})
		}
	}
}

func (s *Server) handleDeletePost(adminRoutes bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requireDB(w, r) {
			return
		}
		id, isAdmin, err := s.postActor(r, adminRoutes)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		postID := chi.URLParam(r, "id")
		res, err := s.posts.DeleteIfOwned(r.Context(), postID, id.OwnerID(), isAdmin)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		metrics.RecordPostMutation("delete", res.Outcome.String())
		switch res.Outcome {
		case post.NotFound:
			writeError(w, http.StatusNotFound, "Post not found")
		case post.Forbidden:
			logging.Ctx(r.Context()).Warn().Str("post_id", postID).Str("user_id", id.UserID()).Msg("delete denied")
			writeError(w, http.StatusForbidden, "Forbidden - You can only delete your own posts")
		default:
			s.invalidatePost(r.Context(), res.Post)
			logging.Ctx(r.Context()).Info().Str("post_id", postID).Msg("post deleted")
			writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		}
	}
}

// invalidatePost drops every cached response that could show any of ps.
func (s *Server) invalidatePost(ctx context.Context, ps ...*post.Post) {
	tags := []string{cache.TagPosts, cache.TagArchive}
	for _, p := range ps {
		if p != nil {
			tags = append(tags, cache.PostTag(p.Slug))
		}
	}
	n := s.cache.Invalidate(ctx, tags...)
	metrics.RecordCacheInvalidation(n)
}

// ----------------------------- public read API -----------------------------

// serveCached writes a cached response for this URL, if there is one.
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request) bool {
	data, ok := s.cache.Get(r.Context(), r.URL.RequestURI())
	metrics.RecordCacheLookup(ok)
	if !ok {
		return false
	}
	w.Header().Set("X-Cache", "HIT")
	writeRaw(w, http.StatusOK, data)
	return true
}

// respondCached encodes v and writes it. It is cached under this URL with
// tags unless one of them was invalidated after ver was taken.
func (s *Server) respondCached(w http.ResponseWriter, r *http.Request, v interface{}, ver uint64, tags ...string) {
	data, err := json.Marshal(v)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.cache.SetIfCurrent(r.Context(), r.URL.RequestURI(), data, ver, tags...)
	w.Header().Set("X-Cache", "MISS")
	writeRaw(w, http.StatusOK, data)
}

func (s *Server) handlePublicPosts(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w, r) {
		return
	}
	if s.serveCached(w, r) {
		return
	}
	ver := s.cache.Version(r.Context(), cache.TagPosts)
	q := r.URL.Query()
	f := post.Filter{
		PublishedOnly: true,
		Search:        q.Get("q"),
		Limit:         intParam(q.Get("limit"), defaultPageSize, 1, maxPageSize),
		Offset:        intParam(q.Get("offset"), 0, 0, 1<<30),
	}
	posts, err := s.posts.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	total, err := s.posts.Count(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondCached(w, r, map[string]interface{}{
		"posts":  posts,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	}, ver, cache.TagPosts)
}

func (s *Server) handlePublicPost(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w, r) {
		return
	}
	if s.serveCached(w, r) {
		return
	}
	slug := chi.URLParam(r, "slug")
	ver := s.cache.Version(r.Context(), cache.PostTag(slug))
	p, err := s.posts.GetBySlug(r.Context(), slug, true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondCached(w, r, map[string]interface{}{"post": p}, ver, cache.PostTag(slug))
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w, r) {
		return
	}
	if s.serveCached(w, r) {
		return
	}
	ver := s.cache.Version(r.Context(), cache.TagArchive)
	months, err := s.posts.Archive(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondCached(w, r, map[string]interface{}{"archive": months}, ver, cache.TagArchive)
}

// intParam parses v, falling back to def and clamping to [min, max].
func intParam(v string, def, min, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
