package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/example/campusgate/internal/session"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxSessionExpiresAt
	ctxSessionIdle
)

func hashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	return string(b), err
}

func comparePassword(hash, p string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
}

// credentialFrom reads the session credential from the cookie, falling back
// to an Authorization bearer token.
func credentialFrom(r *http.Request) string {
	if c, err := r.Cookie(session.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// issueCredential writes credential to the cookie and the response header.
func (a *App) issueCredential(w http.ResponseWriter, credential string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    credential,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(session.Timeout / time.Second),
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(session.HeaderName, credential)
}

func (a *App) clearCredential(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func sessionExpiresAt(ctx context.Context) time.Time {
	t, _ := ctx.Value(ctxSessionExpiresAt).(time.Time)
	return t
}

func sessionIdle(ctx context.Context) time.Duration {
	d, _ := ctx.Value(ctxSessionIdle).(time.Duration)
	return d
}

func userIDFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxUserID).(int64)
	return id, ok
}

// requireUser returns the authenticated user id or writes a 401. Expired
// and absent sessions get the same response.
func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if id, ok := userIDFrom(r.Context()); ok {
		return id, true
	}
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
	return 0, false
}

func subjectFor(id int64) string { return strconv.FormatInt(id, 10) }
