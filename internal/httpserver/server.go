// internal/httpserver/server.go
//
// HTTP server wiring for the newsroom backend.
// Responsibilities:
//   - Router + middleware (request IDs, logging, CORS, timeouts, panic recovery).
//   - Identity resolution on every request (user session + admin cookie).
//   - Auth endpoints: /api/auth/*, /api/check-auth, /api/admin/verify-password.
//   - Post endpoints: admin/owner CRUD, owner-only CRUD, public read API.
//   - User endpoints: profile, password, admin user management.
//   - Upload, one-time setup, /health and /metrics.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - Handlers never 401 on their own middleware; each route decides with
//     identity.RequireAuth / RequireUser / RequireAdmin.
//   - Without a database only the legacy admin login and upload work; the
//     rest answers 503.

package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/schoolpaper/newsroom/internal/blob"
	"github.com/schoolpaper/newsroom/internal/cache"
	"github.com/schoolpaper/newsroom/internal/config"
	"github.com/schoolpaper/newsroom/internal/database"
	"github.com/schoolpaper/newsroom/internal/identity"
	"github.com/schoolpaper/newsroom/internal/post"
	"github.com/schoolpaper/newsroom/internal/ratelimit"
	"github.com/schoolpaper/newsroom/internal/session"
	"github.com/schoolpaper/newsroom/internal/user"
)

// Attempt budgets for the fixed-window limiter.
const (
	loginLimit       = 10
	loginWindow      = 15 * time.Minute
	adminVerifyLimit = 5
	adminVerifyWin   = 15 * time.Minute
	setupLimit       = 3
	setupWindow      = time.Hour
	registerLimit    = 5
	registerWindow   = time.Hour
)

// Deps are the collaborators a Server needs. DB may be nil (legacy admin mode).
type Deps struct {
	Config   *config.Config
	DB       *database.DB
	Sessions *session.Manager
	Limiter  *ratelimit.Limiter
	Cache    cache.Store
	Blobs    blob.Store
}

// Server bundles the router and the repositories behind it.
type Server struct {
	r        *chi.Mux
	cfg      *config.Config
	db       *database.DB
	users    *user.Repository
	posts    *post.Repository
	sessions *session.Manager
	limiter  *ratelimit.Limiter
	cache    cache.Store
	blobs    blob.Store
	resolver *identity.Resolver
	started  time.Time
}

// New constructs a Server, installs middleware, and registers routes.
func New(d Deps) *Server {
	s := &Server{
		r:        chi.NewRouter(),
		cfg:      d.Config,
		db:       d.DB,
		sessions: d.Sessions,
		limiter:  d.Limiter,
		cache:    d.Cache,
		blobs:    d.Blobs,
		started:  time.Now(),
	}
	if s.limiter == nil {
		s.limiter = ratelimit.New(time.Now)
	}
	if s.cache == nil {
		s.cache = cache.NewMemoryStore(5 * time.Minute)
	}
	if s.blobs == nil {
		s.blobs = blob.NewStore(s.cfg.Upload.BlobAPIURL, s.cfg.Upload.BlobToken)
	}

	var lookup identity.UserLookup
	if s.db != nil {
		s.users = user.NewRepository(s.db)
		s.posts = post.NewRepository(s.db)
		lookup = s.userRole
	}
	s.resolver = identity.NewResolver(s.sessions, lookup)

	timeout := s.cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	// --- middleware ---
	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(requestLogger)
	s.r.Use(accessLog)
	s.r.Use(chimw.Recoverer)
	s.r.Use(chimw.Timeout(timeout))
	s.r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.r.Use(s.resolver.Middleware)

	// --- diagnostics ---
	s.r.Get("/health", s.handleHealth)
	s.r.Handle("/metrics", promhttp.Handler())

	s.r.Route("/api", func(api chi.Router) {
		api.Use(s.apiThrottle())
		s.mountAuthRoutes(api)
		s.mountPostRoutes(api)
		s.mountUserRoutes(api)
		api.Post("/upload", s.handleUpload)
		api.Post("/setup", s.handleSetup)
	})

	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	s.r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return s
}

// ServeHTTP lets the Server be used directly as a handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.r.ServeHTTP(w, r) }

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.Server.CORSOrigins) > 0 {
		return s.cfg.Server.CORSOrigins
	}
	if s.cfg.Server.SiteURL != "" {
		return []string{s.cfg.Server.SiteURL}
	}
	return []string{"http://localhost:3000"}
}

// apiThrottle is the coarse per-IP ceiling for the whole /api tree. The
// per-action attempt budgets are enforced separately by s.limiter.
func (s *Server) apiThrottle() func(http.Handler) http.Handler {
	sec := s.cfg.Security
	if sec.RateLimitDisabled || sec.RateLimitRequests <= 0 || sec.RateLimitWindow <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		sec.RateLimitRequests,
		sec.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "Too many requests")
		}),
	)
}

// userRole is the identity lookup: the stored role of a token's user.
func (s *Server) userRole(ctx context.Context, id string) (string, bool, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(u.Role), true, nil
}

// handleHealth reports liveness and which store is in use.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"ok":       true,
		"database": s.db.Mode(),
		"uptime":   strconv.FormatInt(int64(time.Since(s.started).Seconds()), 10) + "s",
	}
	if s.db != nil {
		if err := s.db.SQL.PingContext(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["ok"] = false
			body["error"] = "database unreachable"
		}
	}
	writeJSON(w, status, body)
}
