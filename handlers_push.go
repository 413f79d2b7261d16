package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/example/campusgate/internal/push"
)

func (a *App) HandleVAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if a.vapidPublicKey == "" {
		writeError(w, http.StatusServiceUnavailable, "PUSH_DISABLED", "Push notifications are not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": a.vapidPublicKey})
}

type subscriptionRequest struct {
	Endpoint string    `json:"endpoint"`
	Keys     push.Keys `json:"keys"`
}

func (a *App) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if u, err := url.Parse(in.Endpoint); err != nil || u.Scheme != "https" || u.Host == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Endpoint must be an https URL")
		return
	}
	if in.Keys.P256dh == "" || in.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Subscription keys are required")
		return
	}

	sub := push.Subscription{UserID: userID, Endpoint: in.Endpoint, Keys: in.Keys}
	if err := a.DB.UpsertSubscription(r.Context(), sub); err != nil {
		a.logger.Error("upsert push subscription", slog.Int64("user_id", userID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save subscription")
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]string{"endpoint": in.Endpoint})
}

func (a *App) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Endpoint is required")
		return
	}
	err := a.DB.DeleteSubscription(r.Context(), userID, in.Endpoint)
	if errors.Is(err, push.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Subscription not found")
		return
	}
	if err != nil {
		a.logger.Error("delete push subscription", slog.Int64("user_id", userID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to remove subscription")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"removed": true})
}

func (a *App) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	prefs, err := a.DB.GetPreferences(r.Context(), userID)
	if err != nil {
		a.logger.Error("load preferences", slog.Int64("user_id", userID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// preferencesPatch leaves omitted flags unchanged.
type preferencesPatch struct {
	PushEnabled     *bool `json:"pushEnabled"`
	Messages        *bool `json:"messages"`
	ListingMatches  *bool `json:"listingMatches"`
	WishlistMatches *bool `json:"wishlistMatches"`
	Offers          *bool `json:"offers"`
}

func (p preferencesPatch) apply(prefs push.Preferences) push.Preferences {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&prefs.PushEnabled, p.PushEnabled)
	set(&prefs.Messages, p.Messages)
	set(&prefs.ListingMatches, p.ListingMatches)
	set(&prefs.WishlistMatches, p.WishlistMatches)
	set(&prefs.Offers, p.Offers)
	return prefs
}

func (a *App) HandleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var patch preferencesPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	current, err := a.DB.GetPreferences(r.Context(), userID)
	if err != nil {
		a.logger.Error("load preferences", slog.Int64("user_id", userID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load preferences")
		return
	}
	updated := patch.apply(current)
	if err := a.DB.SetPreferences(r.Context(), userID, updated); err != nil {
		a.logger.Error("save preferences", slog.Int64("user_id", userID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save preferences")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
