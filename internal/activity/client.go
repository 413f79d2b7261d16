package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/example/campusgate/internal/session"
)

// ErrSessionExpired is returned when the server no longer accepts the credential.
var ErrSessionExpired = errors.New("activity: server rejected session")

// HTTPRefresher refreshes a session through the server's touch endpoint and
// keeps the rotated credential.
type HTTPRefresher struct {
	baseURL string
	client  *http.Client

	mu         sync.Mutex
	credential string
}

// NewHTTPRefresher returns a refresher for the server at baseURL.
func NewHTTPRefresher(baseURL, credential string) *HTTPRefresher {
	return &HTTPRefresher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 10 * time.Second},
		credential: credential,
	}
}

// Credential returns the most recent credential.
func (h *HTTPRefresher) Credential() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.credential
}

// Refresh calls POST /api/v1/session/touch.
func (h *HTTPRefresher) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/api/v1/session/touch", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+h.Credential())

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrSessionExpired
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("touch returned %d", resp.StatusCode)
	}
	if tok := resp.Header.Get(session.HeaderName); tok != "" {
		h.mu.Lock()
		h.credential = tok
		h.mu.Unlock()
	}
	return nil
}

// Login exchanges email and password for a credential.
func Login(ctx context.Context, baseURL, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/auth/login", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login returned %d", resp.StatusCode)
	}
	var out struct {
		SessionToken string `json:"sessionToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.SessionToken == "" {
		return "", errors.New("login response carried no session token")
	}
	return out.SessionToken, nil
}
