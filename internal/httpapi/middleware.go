package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// skipAuthPaths never require a bearer token regardless of whether a
// password is configured.
var skipAuthPaths = map[string]bool{
	"/healthz":       true,
	"/readyz":        true,
	"/metrics":       true,
	"/auth/login":    true,
}

// latencyMiddleware records every request's outcome into the shared
// HTTP latency histogram, keyed by (method, route template) rather
// than the literal path so /jobs/{id} doesn't fragment into one bucket
// per job id.
func (s *Server) latencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Histogram == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := nowFunc()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.deps.Histogram.Record(r.Context(), r.Method, route, sw.status, nowFunc().Sub(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// authMiddleware enforces the bearer token on every route except the
// skip list, and is a no-op entirely when no password has ever been
// configured (auth disabled).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipAuthPaths[r.URL.Path] || strings.HasSuffix(r.URL.Path, "/ws") {
			// WebSocket routes authenticate inside their own handler so a
			// bad token closes the upgraded connection with 4401 instead
			// of failing the handshake with a plain HTTP 401.
			next.ServeHTTP(w, r)
			return
		}

		settings, err := s.deps.Settings.GetSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "settings unavailable")
			return
		}
		passwordHash := settings["password_hash"]
		if passwordHash == "" {
			next.ServeHTTP(w, r) // auth disabled: no password configured
			return
		}

		token := bearerToken(r.Header.Get("Authorization"), r.URL.Query().Get("token"))
		if token == "" || verifyToken(token, passwordHash, nowFunc()) != nil {
			writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorizeWS reports whether r carries a valid bearer token, or true
// if no password has been configured (auth disabled globally). Every
// WebSocket handler calls this after upgrading so a rejection can close
// with code 4401 per §4.9.
func (s *Server) authorizeWS(r *http.Request) bool {
	settings, err := s.deps.Settings.GetSettings(r.Context())
	if err != nil {
		return false
	}
	passwordHash := settings["password_hash"]
	if passwordHash == "" {
		return true
	}
	token := bearerToken(r.Header.Get("Authorization"), r.URL.Query().Get("token"))
	return token != "" && verifyToken(token, passwordHash, nowFunc()) == nil
}

const closeCodeAuthFailed = 4401
