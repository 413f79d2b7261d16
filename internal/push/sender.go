package push

import (
	"context"
	"io"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Sender performs one delivery attempt.
type Sender interface {
	Send(ctx context.Context, sub Subscription, body []byte) Outcome
}

// VAPID is the deployment's application server identity.
type VAPID struct {
	PublicKey  string
	PrivateKey string
	// Subject is a contact address, with or without the mailto: prefix.
	Subject string
}

// WebPushSender delivers through the Web Push protocol.
type WebPushSender struct {
	vapid  VAPID
	ttl    int
	client *http.Client
}

// NewWebPushSender returns a sender signing requests with vapid.
func NewWebPushSender(vapid VAPID, client *http.Client) *WebPushSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebPushSender{vapid: vapid, ttl: 60 * 60 * 24, client: client}
}

func (s *WebPushSender) Send(ctx context.Context, sub Subscription, body []byte) Outcome {
	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      strings.TrimPrefix(s.vapid.Subject, "mailto:"),
		VAPIDPublicKey:  s.vapid.PublicKey,
		VAPIDPrivateKey: s.vapid.PrivateKey,
		TTL:             s.ttl,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return Transient(0, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return ClassifyStatus(resp.StatusCode)
}
