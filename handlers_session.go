package main

import (
	"net/http"
	"time"

	"github.com/example/campusgate/internal/session"
)

// sessionStatus describes the session after this request slid it, so
// RemainingSeconds is the full timeout. IdleSeconds is how long the session
// had been idle when the request arrived.
type sessionStatus struct {
	UserID           int64     `json:"userId"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RemainingSeconds int       `json:"remainingSeconds"`
	IdleSeconds      int       `json:"idleSeconds"`
	TimeoutSeconds   int       `json:"timeoutSeconds"`
	WarningSeconds   int       `json:"warningSeconds"`
}

func (a *App) writeSessionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := requireUser(w, r)
	if !ok {
		return
	}
	exp := sessionExpiresAt(r.Context())
	remaining := int(exp.Sub(a.validator.Now()).Round(time.Second) / time.Second)
	if remaining < 0 {
		remaining = 0
	}
	writeJSON(w, http.StatusOK, sessionStatus{
		UserID:           id,
		ExpiresAt:        exp,
		RemainingSeconds: remaining,
		IdleSeconds:      int(sessionIdle(r.Context()) / time.Second),
		TimeoutSeconds:   int(session.Timeout / time.Second),
		WarningSeconds:   int(session.WarningWindow / time.Second),
	})
}

// HandleSessionStatus reports the caller's session. Like any validated
// request it also slides the expiry.
func (a *App) HandleSessionStatus(w http.ResponseWriter, r *http.Request) {
	a.writeSessionStatus(w, r)
}

// HandleSessionTouch is the refresh path used by clients that want to keep
// the session alive without doing anything else.
func (a *App) HandleSessionTouch(w http.ResponseWriter, r *http.Request) {
	a.writeSessionStatus(w, r)
}
