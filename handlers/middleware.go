package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"courseplatform.app/api/internal/apperr"
	"courseplatform.app/api/internal/logger"
	"courseplatform.app/api/internal/session"
	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const claimsKey ctxKey = iota

var (
	ErrMissingSession = apperr.New(apperr.Unauthorized, "LOGIN_REQUIRED", "Sign in to continue")
	ErrAdminOnly      = apperr.New(apperr.Forbidden, "ADMIN_ONLY", "Admin token required")
)

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func withClaims(ctx context.Context, c *session.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// sessionUser returns the authenticated user id, or "" without a session.
func sessionUser(r *http.Request) string {
	if c, ok := r.Context().Value(claimsKey).(*session.Claims); ok {
		return c.UserID
	}
	return ""
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			renderError(w, r, ErrMissingSession)
			return
		}
		claims, err := s.Sessions.Verify(raw)
		if err != nil {
			renderError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// optionalSession attaches claims when a valid token is present. A bad token
// is treated the same as no token.
func (s *Server) optionalSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := bearerToken(r); raw != "" {
			if claims, err := s.Sessions.Verify(raw); err == nil {
				r = r.WithContext(withClaims(r.Context(), claims))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if s.AdminToken == "" || token == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminToken)) != 1 {
			renderError(w, r, ErrAdminOnly)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resolveUser checks a body userId against the session subject.
func resolveUser(r *http.Request, bodyUserID string) (string, error) {
	uid := sessionUser(r)
	if bodyUserID != "" && bodyUserID != uid {
		return "", ErrUserMismatch
	}
	return uid, nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		fields := map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}
		if ww.Status() >= http.StatusInternalServerError {
			logger.Warn("Request completed", fields)
			return
		}
		logger.Debug("Request completed", fields)
	})
}
