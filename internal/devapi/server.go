// Package devapi is an in-memory implementation of the content API used for
// local development and end-to-end tests of the client.
package devapi

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"contenthub.org/internal/content"
	"contenthub.org/internal/obs"
)

// Config tunes token lifetimes and rate limits.
type Config struct {
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RatePerSec of zero disables rate limiting.
	RatePerSec float64
	RateBurst  int
	Version    string
}

// Server holds every collection in memory.
type Server struct {
	cfg      Config
	tokens   *tokens
	accounts *accounts
	delays   delays
	limiter  *ipLimiter

	posts    *collection[content.Post]
	blogs    *collection[content.Blog]
	comments *collection[content.Comment]
	events   *collection[content.Event]
	experts  *collection[content.Expert]
	uploads  *uploads

	refreshCalls  atomic.Int64
	failMu        sync.RWMutex
	refreshStatus int

	router chi.Router
}

func New(cfg Config) (*Server, error) {
	tok, err := newTokens(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		tokens:   tok,
		accounts: newAccounts(),
		limiter:  newIPLimiter(cfg.RatePerSec, cfg.RateBurst),
		posts:    newCollection("posts", postHooks(), true),
		blogs:    newCollection("blogs", blogHooks(), true),
		comments: newCollection("comments", commentHooks(), true),
		events:   newCollection("events", eventHooks(), false),
		experts:  newCollection("experts", expertHooks(), false),
		uploads:  newUploads(),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(obs.Instrument)
	r.Use(s.limiter.middleware)
	r.Use(s.delays.middleware)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", obs.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Post("/password-reset", s.handlePasswordReset)
		r.Group(func(r chi.Router) {
			r.Use(s.viewer, requireViewer)
			r.Get("/me", s.handleMe)
			r.Patch("/me", s.handleUpdateMe)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.viewer)
		mountCollection(r, "/posts", s.posts)
		mountCollection(r, "/blogs", s.blogs)
		mountCollection(r, "/comments", s.comments)
		mountCollection(r, "/events", s.events)
		mountCollection(r, "/experts", s.experts)
		r.With(requireViewer).Post("/uploads", s.uploads.handle)
	})

	r.Route("/public", func(r chi.Router) {
		r.Get("/posts", publicList(s.posts))
		r.Get("/events", publicList(s.events))
		r.Get("/experts", publicList(s.experts))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "contenthub-devapi",
		"version": s.cfg.Version,
	})
}

// ExpireAccessTokens invalidates every access token issued so far. Refresh
// tokens keep working.
func (s *Server) ExpireAccessTokens() { s.tokens.expireAccess() }

// RefreshCalls counts requests to /auth/refresh, successful or not.
func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }

// SetDelay holds every request to path for d before handling it. A zero d
// removes the delay.
func (s *Server) SetDelay(path string, d time.Duration) { s.delays.set(path, d) }

// FailRefresh makes /auth/refresh answer with status. Zero restores normal
// behaviour.
func (s *Server) FailRefresh(status int) {
	s.failMu.Lock()
	s.refreshStatus = status
	s.failMu.Unlock()
}

// PasswordResets lists addresses that asked for a reset link.
func (s *Server) PasswordResets() []string { return s.accounts.resetRequests() }

// Uploads returns metadata of every accepted upload.
func (s *Server) Uploads() []Upload { return s.uploads.list() }
