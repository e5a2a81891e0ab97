package devapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"contenthub.org/internal/audit"
	"contenthub.org/internal/content"
	"contenthub.org/internal/credentials"
	"contenthub.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	User         *credentials.User `json:"user"`
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, a *account, code int, event string) {
	pair, err := s.tokens.mint(a)
	if err != nil {
		obs.Logger().Error("mint tokens", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	_ = audit.LogEvent(audit.WithUserID(r.Context(), a.ID), event, map[string]any{
		"access_expires_at": pair.AccessExpiresAt,
	})
	writeJSON(w, code, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         a.user(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f := content.FieldErrors{}
	if strings.TrimSpace(req.Email) == "" {
		f["email"] = "is required"
	}
	if req.Password == "" {
		f["password"] = "is required"
	}
	if len(f) > 0 {
		writeValidation(w, f)
		return
	}
	a, err := s.accounts.authenticate(req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.issue(w, r, a, http.StatusOK, "auth.login")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeDomainError(w, err)
		return
	}
	a, err := s.accounts.create(req, "member")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.issue(w, r, a, http.StatusCreated, "auth.register")
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	s.failMu.RLock()
	status := s.refreshStatus
	s.failMu.RUnlock()
	if status != 0 {
		writeError(w, status, "refresh rejected")
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := s.tokens.rotate(req.RefreshToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	a, err := s.accounts.find(userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	s.issue(w, r, a, http.StatusOK, "auth.refresh")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err == nil {
		s.tokens.revoke(req.RefreshToken)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	email := normalizeEmail(req.Email)
	if msg := validEmail(email); msg != "" {
		writeValidation(w, content.FieldErrors{"email": msg})
		return
	}
	s.accounts.requestReset(email)
	_ = audit.LogEvent(r.Context(), "auth.password_reset.requested", map[string]any{"email": email})
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the address is registered, a reset link is on its way.",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewerFrom(r.Context()).user())
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var patch profilePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := s.accounts.update(viewerID(r.Context()), patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.user())
}

// mountCollection registers list, read and write routes for one resource.
// Reads are open to anonymous viewers; writes need a bearer.
func mountCollection[T content.Entity](r chi.Router, prefix string, c *collection[T]) {
	r.Route(prefix, func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, c.list(parseListQuery(r), viewerID(r.Context())))
		})
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			v, err := c.get(chi.URLParam(r, "id"), viewerID(r.Context()))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, v)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireViewer)
			r.Post("/", func(w http.ResponseWriter, r *http.Request) {
				var v T
				if err := decodeJSON(w, r, &v); err != nil {
					writeError(w, http.StatusBadRequest, err.Error())
					return
				}
				out, err := c.create(v, viewerFrom(r.Context()))
				if err != nil {
					writeDomainError(w, err)
					return
				}
				_ = audit.LogEvent(r.Context(), c.name+".created", map[string]any{"id": out.EntityID()})
				writeJSON(w, http.StatusCreated, out)
			})
			r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
				var v T
				if err := decodeJSON(w, r, &v); err != nil {
					writeError(w, http.StatusBadRequest, err.Error())
					return
				}
				out, err := c.update(chi.URLParam(r, "id"), v, viewerID(r.Context()))
				if err != nil {
					writeDomainError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, out)
			})
			r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				if err := c.delete(id, viewerID(r.Context())); err != nil {
					writeDomainError(w, err)
					return
				}
				_ = audit.LogEvent(r.Context(), c.name+".deleted", map[string]any{"id": id})
				w.WriteHeader(http.StatusNoContent)
			})
			if c.reactive() {
				r.Post("/{id}/like", toggleHandler(c, content.KindLike))
				r.Post("/{id}/dislike", toggleHandler(c, content.KindDislike))
			}
		})
	})
}

func toggleHandler[T content.Entity](c *collection[T], kind content.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got, err := c.toggle(chi.URLParam(r, "id"), viewerID(r.Context()), kind)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, got)
	}
}

// publicList serves the anonymous listing wrapped in the success envelope.
func publicList[T content.Entity](c *collection[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, envelope{Data: c.list(parseListQuery(r), ""), Success: true})
	}
}

func parseListQuery(r *http.Request) listQuery {
	q := r.URL.Query()
	return listQuery{
		Page:    atoiOr(q.Get("page"), 1),
		PerPage: atoiOr(q.Get("per_page"), defaultPerPage),
		Query:   q.Get("q"),
		Params:  q,
	}
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
