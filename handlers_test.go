package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/campusgate/internal/logger"
	"github.com/example/campusgate/internal/push"
	"github.com/example/campusgate/internal/ratelimit"
	"github.com/example/campusgate/internal/session"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []push.Job
}

func (q *recordingQueue) Enqueue(job push.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return true
}

func (q *recordingQueue) Jobs() []push.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]push.Job(nil), q.jobs...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	app     *App
	handler http.Handler
	queue   *recordingQueue
	clock   *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := ratelimit.NewMemoryStore()
	clock := &testClock{now: time.Now()}
	q := &recordingQueue{}
	app := &App{
		DB:             NewMemoryDB(),
		store:          store,
		limiter:        ratelimit.NewLimiter(store, logger.Discard()),
		validator:      session.NewValidatorWithClock([]byte("test-secret"), clock.Now),
		notifier:       push.NewNotifier(q),
		logger:         logger.Discard(),
		vapidPublicKey: "BPublicKey",
	}
	return &testEnv{app: app, handler: app.routes(), queue: q, clock: clock}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// register creates a user and returns its id and credential.
func (e *testEnv) register(t *testing.T, email, name string) (int64, string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": email, "password": "hunter22", "displayName": name,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		User struct {
			ID int64 `json:"id"`
		} `json:"user"`
		SessionToken string `json:"sessionToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.SessionToken)
	return out.User.ID, out.SessionToken
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestRegisterLoginAndSessionStatus(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.register(t, "Ana@Campus.edu", "Ana")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "ana@campus.edu", "password": "hunter22",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var login sessionResponse
	decode(t, rec, &login)
	require.NotEmpty(t, login.SessionToken)
	require.Equal(t, login.SessionToken, rec.Header().Get(session.HeaderName))

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	require.True(t, cookie.HttpOnly)

	env.clock.Advance(10 * time.Minute)
	rec = env.do(t, http.MethodGet, "/api/v1/session", nil, login.SessionToken)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(session.HeaderName))

	var status sessionStatus
	decode(t, rec, &status)
	require.Equal(t, id, status.UserID)
	require.Equal(t, 1800, status.TimeoutSeconds)
	require.Equal(t, 300, status.WarningSeconds)
	require.Equal(t, 600, status.IdleSeconds)
	require.Equal(t, 1800, status.RemainingSeconds)
	require.Equal(t, env.clock.Now().Add(session.Timeout).Unix(), status.ExpiresAt.Unix())
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ana@campus.edu", "Ana")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "ana@campus.edu", "password": "wrong",
	}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var apiErr APIError
	decode(t, rec, &apiErr)
	require.Equal(t, "INVALID_CREDENTIALS", apiErr.Code)
}

func TestRegisterDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ana@campus.edu", "Ana")
	rec := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "ana@campus.edu", "password": "x",
	}, "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSessionSlidesAndExpires(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register(t, "ana@campus.edu", "Ana")

	// each touch inside the window slides it
	for i := 0; i < 3; i++ {
		env.clock.Advance(session.Timeout - time.Second)
		rec := env.do(t, http.MethodPost, "/api/v1/session/touch", nil, token)
		require.Equal(t, http.StatusOK, rec.Code)
		token = rec.Header().Get(session.HeaderName)
		require.NotEmpty(t, token)
	}

	env.clock.Advance(session.Timeout)
	rec := env.do(t, http.MethodGet, "/api/v1/session", nil, token)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, rec.Header().Get(session.HeaderName))

	// an expired session looks exactly like no session
	anon := env.do(t, http.MethodGet, "/api/v1/session", nil, "")
	require.Equal(t, anon.Code, rec.Code)
	require.JSONEq(t, anon.Body.String(), rec.Body.String())
}

func TestAnonymousRequestIsUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/push/subscriptions", map[string]interface{}{
		"endpoint": "https://push.example/abc",
	}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "200", rec.Header().Get("X-RateLimit-Limit"))

	var apiErr APIError
	decode(t, rec, &apiErr)
	require.Equal(t, "UNAUTHORIZED", apiErr.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/session", nil, "garbage")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubscribeUpsertsAndUnsubscribes(t *testing.T) {
	env := newTestEnv(t)
	id, token := env.register(t, "ana@campus.edu", "Ana")
	endpoint := "https://fcm.googleapis.com/fcm/send/abc"

	for _, auth := range []string{"old-auth", "new-auth"} {
		rec := env.do(t, http.MethodPost, "/api/v1/push/subscriptions", map[string]interface{}{
			"endpoint": endpoint,
			"keys":     map[string]string{"p256dh": "BKey", "auth": auth},
		}, token)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	subs, err := env.app.DB.ListSubscriptions(t.Context(), id)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "new-auth", subs[0].Keys.Auth)

	rec := env.do(t, http.MethodDelete, "/api/v1/push/subscriptions", map[string]string{"endpoint": endpoint}, token)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/v1/push/subscriptions", map[string]string{"endpoint": endpoint}, token)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscribeValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register(t, "ana@campus.edu", "Ana")
	for name, body := range map[string]interface{}{
		"http endpoint": map[string]interface{}{"endpoint": "http://push.example/a", "keys": map[string]string{"p256dh": "k", "auth": "a"}},
		"missing keys":  map[string]interface{}{"endpoint": "https://push.example/a"},
	} {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/push/subscriptions", body, token)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPreferencesDefaultAndPatch(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register(t, "ana@campus.edu", "Ana")

	rec := env.do(t, http.MethodGet, "/api/v1/notifications/preferences", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var prefs push.Preferences
	decode(t, rec, &prefs)
	require.Equal(t, push.DefaultPreferences(), prefs)

	rec = env.do(t, http.MethodPut, "/api/v1/notifications/preferences", map[string]bool{"offers": false}, token)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &prefs)
	want := push.DefaultPreferences()
	want.Offers = false
	require.Equal(t, want, prefs)
}

func TestListingNotifiesWishlistWatchers(t *testing.T) {
	env := newTestEnv(t)
	sellerID, seller := env.register(t, "sam@campus.edu", "Sam")
	fanID, fan := env.register(t, "ana@campus.edu", "Ana")
	_, other := env.register(t, "lee@campus.edu", "Lee")

	for _, tc := range []struct {
		token string
		cats  []string
	}{
		{seller, []string{"furniture"}},
		{fan, []string{" Furniture ", "bikes", "furniture"}},
		{other, []string{"books"}},
	} {
		rec := env.do(t, http.MethodPut, "/api/v1/wishlist", map[string][]string{"categories": tc.cats}, tc.token)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/wishlist", nil, fan)
	var wl map[string][]string
	decode(t, rec, &wl)
	require.Equal(t, []string{"bikes", "furniture"}, wl["categories"])

	rec = env.do(t, http.MethodPost, "/api/v1/listings", map[string]interface{}{
		"title": "Desk lamp", "category": "Furniture", "price": 12,
	}, seller)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		Listing       Listing `json:"listing"`
		Notifications int     `json:"notifications"`
	}
	decode(t, rec, &out)
	require.Equal(t, sellerID, out.Listing.SellerID)
	require.Equal(t, 1, out.Notifications)

	jobs := env.queue.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, fanID, jobs[0].UserID)
	require.Equal(t, push.CategoryWishlistMatch, jobs[0].Category)
	require.Equal(t, "wishlist-"+strconv.FormatInt(out.Listing.ID, 10), jobs[0].Payload.Tag)
}

func TestOfferAndMessageNotify(t *testing.T) {
	env := newTestEnv(t)
	sellerID, seller := env.register(t, "sam@campus.edu", "Sam")
	_, buyer := env.register(t, "ana@campus.edu", "Ana")

	rec := env.do(t, http.MethodPost, "/api/v1/listings", map[string]interface{}{
		"title": "Bike", "category": "bikes", "price": 80,
	}, seller)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Listing Listing `json:"listing"`
	}
	decode(t, rec, &created)

	rec = env.do(t, http.MethodPost, "/api/v1/offers", map[string]interface{}{
		"listingId": created.Listing.ID, "amount": 65,
	}, seller)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/offers", map[string]interface{}{
		"listingId": created.Listing.ID, "amount": 65,
	}, buyer)
	require.Equal(t, http.StatusCreated, rec.Code)
	var offer Offer
	decode(t, rec, &offer)

	rec = env.do(t, http.MethodPost, "/api/v1/messages", map[string]interface{}{
		"recipientId": sellerID, "conversationId": 12, "body": "still available?",
	}, buyer)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/messages", map[string]interface{}{
		"recipientId": 999, "conversationId": 12, "body": "hello",
	}, buyer)
	require.Equal(t, http.StatusNotFound, rec.Code)

	jobs := env.queue.Jobs()
	require.Len(t, jobs, 2)
	require.Equal(t, sellerID, jobs[0].UserID)
	require.Equal(t, push.CategoryOffer, jobs[0].Category)
	require.Equal(t, "offer-"+strconv.FormatInt(offer.ID, 10), jobs[0].Payload.Tag)
	require.Equal(t, "Ana offered on Bike", jobs[0].Payload.Body)

	require.Equal(t, sellerID, jobs[1].UserID)
	require.Equal(t, push.CategoryMessage, jobs[1].Category)
	require.Equal(t, "message-12", jobs[1].Payload.Tag)
	require.Equal(t, "New message from Ana", jobs[1].Payload.Title)
}

func TestUploadUsesUploadPolicy(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register(t, "ana@campus.edu", "Ana")

	for i := 0; i < 10; i++ {
		rec := env.do(t, http.MethodPost, "/api/v1/uploads", "image-bytes", token)
		require.Equal(t, http.StatusAccepted, rec.Code)
		require.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	}
	rec := env.do(t, http.MethodPost, "/api/v1/uploads", "image-bytes", token)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestVAPIDPublicKey(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/push/vapid-public-key", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"publicKey":"BPublicKey"}`, rec.Body.String())

	env.app.vapidPublicKey = ""
	rec = env.do(t, http.MethodGet, "/api/v1/push/vapid-public-key", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/ready", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ready":true}`, rec.Body.String())
}

func TestAuthPolicyRejectsSixthAttempt(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"email": "nobody@campus.edu", "password": "nope"}

	for i := 0; i < 5; i++ {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", body, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
		require.Equal(t, strconv.Itoa(4-i), rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", body, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.JSONEq(t, `{"error":"Too many requests, please try again later."}`, rec.Body.String())

	// a different caller has its own window
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(`{"email":"x","password":"y"}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	other := httptest.NewRecorder()
	env.handler.ServeHTTP(other, req)
	require.Equal(t, http.StatusUnauthorized, other.Code)
}

func TestRejectedRequestDoesNotSlideSession(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register(t, "ana@campus.edu", "Ana")

	for i := 0; i < 10; i++ {
		rec := env.do(t, http.MethodPost, "/api/v1/uploads", nil, token)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/api/v1/uploads", nil, token)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Empty(t, rec.Header().Get(session.HeaderName))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	env.app.allowedOrigins = []string{"https://campus.example"}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/session", nil)
	req.Header.Set("Origin", "https://campus.example")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://campus.example", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), session.HeaderName)
}

func TestCORSDeniesWhenNoOriginsConfigured(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/session", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	env.app.allowedOrigins = []string{"https://campus.example"}
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	env.app.allowedOrigins = []string{"*"}
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, "https://evil.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
