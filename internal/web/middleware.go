package web

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/logctx"
)

// sessionCookie correlates all downloads and stream subscriptions belonging
// to one end user. The token is opaque; equality is the only check performed.
const sessionCookie = "d3as_session"

type tokenKey struct{}

// userToken returns the session token attached by the sessionToken middleware.
func userToken(r *http.Request) string {
	token, _ := r.Context().Value(tokenKey{}).(string)
	return token
}

// sessionToken issues a session cookie when the request carries none and
// stores the token in the request context.
func (s *Server) sessionToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var token string
		if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
			token = c.Value
		} else {
			token = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    token,
				Path:     "/",
				HttpOnly: true,
				MaxAge:   24 * 60 * 60,
			})
		}

		ctx := context.WithValue(r.Context(), tokenKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger attaches a request-scoped logger to the context and logs each
// request on completion.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := s.logger.With("method", r.Method, "path", r.URL.Path)

		next.ServeHTTP(w, r.WithContext(logctx.WithLogger(r.Context(), logger)))

		logger.Debug("request handled", "duration", time.Since(start).String())
	})
}
