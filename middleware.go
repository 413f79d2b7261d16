package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/campusgate/internal/ratelimit"
	"github.com/example/campusgate/internal/session"
)

// Admission enforces policy per caller and route. It runs before the session
// is validated so rejected requests do not slide the session.
func (a *App) Admission(policy ratelimit.Policy) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := ratelimit.CallerKey(r)
			d := a.limiter.Check(r.Context(), caller, routeKey(r), policy)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.Itoa(d.ResetSeconds))

			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(d.ResetSeconds))
				a.logger.Warn("rate limit exceeded",
					slog.String("policy", policy.Name),
					slog.String("caller", caller),
					slog.String("path", r.URL.Path))
				writeJSON(w, http.StatusTooManyRequests, map[string]string{
					"error": "Too many requests, please try again later.",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func routeKey(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// Session validates the credential and slides its expiry. Invalid or expired
// credentials leave the request anonymous; handlers decide whether that is a 401.
func (a *App) Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := credentialFrom(r)
		if cred == "" {
			next.ServeHTTP(w, r)
			return
		}

		verdict := a.validator.Validate(cred)
		ctx := r.Context()
		switch {
		case verdict.Authenticated():
			id, err := strconv.ParseInt(verdict.Subject, 10, 64)
			if err != nil {
				break
			}
			a.issueCredential(w, verdict.Credential, verdict.ExpiresAt)
			ctx = context.WithValue(ctx, ctxUserID, id)
			ctx = context.WithValue(ctx, ctxSessionExpiresAt, verdict.ExpiresAt)
			ctx = context.WithValue(ctx, ctxSessionIdle, verdict.Idle)
		case verdict.Expired:
			a.clearCredential(w)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// guarded wraps h with admission control for policy and session validation.
func (a *App) guarded(policy ratelimit.Policy, h http.HandlerFunc) http.Handler {
	return a.Admission(policy)(a.Session(h))
}

// CORS reflects origins listed in allowedOrigins. An empty list allows none;
// "*" allows any.
func (a *App) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := false
			for _, o := range a.allowedOrigins {
				if o == origin || o == "*" {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", strings.Join([]string{
			session.HeaderName, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After",
		}, ", "))
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Logging middleware logs requests
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		a.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.statusCode),
			slog.Duration("duration", time.Since(start)),
			slog.String("caller", ratelimit.CallerKey(r)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}
