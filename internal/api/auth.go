package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"PluginSystem/pkg/logger"
)

// WithToken requires "Authorization: Bearer <token>" on every /api route.
// Probes and /metrics stay open. An empty token disables the check.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// authenticate rejects requests without the configured bearer token and
// writes an audit record for every request it lets through.
func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	audit := s.audit
	if audit == nil {
		audit = logger.Audit()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			audit.Warn("access_denied",
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method),
				slog.Int("status", http.StatusUnauthorized),
			)
			return
		}
		start := time.Now()
		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(aw, r)
		audit.Info("api_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", aw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
