package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/require"
)

func testSubscription(t *testing.T, endpoint string) Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return Subscription{
		UserID:   1,
		Endpoint: endpoint,
		Keys: Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
}

func TestWebPushSender_Classifies(t *testing.T) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "vapid "))
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusCreated)
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	s := NewWebPushSender(VAPID{PublicKey: pub, PrivateKey: priv, Subject: "mailto:ops@campus.example"}, srv.Client())
	body := []byte(`{"title":"hi"}`)

	require.Equal(t, KindDelivered, s.Send(context.Background(), testSubscription(t, srv.URL+"/ok"), body).Kind)
	require.Equal(t, KindGone, s.Send(context.Background(), testSubscription(t, srv.URL+"/gone"), body).Kind)
	require.Equal(t, KindGone, s.Send(context.Background(), testSubscription(t, srv.URL+"/missing"), body).Kind)

	out := s.Send(context.Background(), testSubscription(t, srv.URL+"/busy"), body)
	require.Equal(t, KindTransient, out.Kind)
	require.Equal(t, http.StatusTooManyRequests, out.StatusCode)
	require.Error(t, out.Err)
}

func TestWebPushSender_TransportErrorIsTransient(t *testing.T) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := NewWebPushSender(VAPID{PublicKey: pub, PrivateKey: priv, Subject: "ops@campus.example"}, nil)
	out := s.Send(context.Background(), testSubscription(t, url+"/x"), []byte(`{}`))
	require.Equal(t, KindTransient, out.Kind)
	require.Zero(t, out.StatusCode)
	require.Error(t, out.Err)
}

func TestClassifyStatus(t *testing.T) {
	require.Equal(t, KindDelivered, ClassifyStatus(200).Kind)
	require.Equal(t, KindDelivered, ClassifyStatus(201).Kind)
	require.Equal(t, KindGone, ClassifyStatus(404).Kind)
	require.Equal(t, KindGone, ClassifyStatus(410).Kind)
	require.Equal(t, KindTransient, ClassifyStatus(500).Kind)
	require.Equal(t, KindTransient, ClassifyStatus(413).Kind)
	require.Equal(t, "gone", KindGone.String())
}
