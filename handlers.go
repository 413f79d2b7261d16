package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type creds struct {
	Email       string
	Password    string
	DisplayName string `json:"displayName"`
}

type sessionResponse struct {
	User         map[string]interface{} `json:"user"`
	SessionToken string                 `json:"sessionToken"`
	ExpiresAt    time.Time              `json:"expiresAt"`
}

// startSession mints a credential for user and sets it on the response.
func (a *App) startSession(w http.ResponseWriter, user *User) (*sessionResponse, error) {
	token, exp, err := a.validator.Mint(subjectFor(user.ID))
	if err != nil {
		return nil, err
	}
	a.issueCredential(w, token, exp)
	return &sessionResponse{
		User: map[string]interface{}{
			"id":          user.ID,
			"email":       user.Email,
			"displayName": user.DisplayName,
		},
		SessionToken: token,
		ExpiresAt:    exp,
	}, nil
}

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var c creds
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if c.Email == "" || c.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Email and password are required")
		return
	}

	hashed, err := hashPassword(c.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}
	user, err := a.DB.CreateUser(r.Context(), c.Email, hashed, strings.TrimSpace(c.DisplayName))
	if err != nil {
		if errors.Is(err, errUserExists) {
			writeError(w, http.StatusConflict, "USER_EXISTS", "User with this email already exists")
			return
		}
		a.logger.Error("create user", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create user")
		return
	}
	resp, err := a.startSession(w, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start session")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var c creds
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	user, err := a.DB.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(c.Email)))
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}
	if !comparePassword(user.Password, c.Password) {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}
	resp, err := a.startSession(w, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start session")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleLogout clears the session cookie. Credentials are stateless, so a
// copied bearer token stays valid until it idles out.
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	a.clearCredential(w)
	writeSuccess(w, http.StatusOK, map[string]bool{"loggedOut": true})
}
