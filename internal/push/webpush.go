package push

import (
	"context"
	"fmt"
	"io"

	webpush "github.com/SherClockHolmes/webpush-go"

	"carehq/internal/subscriptions"
)

// VAPIDConfig holds the application server key material and contact
// address presented to push services.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	TTLSeconds int
}

// WebPushSender delivers payloads over the Web Push protocol with VAPID
// authorization.
type WebPushSender struct {
	vapid VAPIDConfig
}

// NewWebPushSender validates the key material and returns a sender.
func NewWebPushSender(vapid VAPIDConfig) (*WebPushSender, error) {
	if vapid.PublicKey == "" || vapid.PrivateKey == "" {
		return nil, fmt.Errorf("webpush: VAPID key pair is required")
	}
	if vapid.Subject == "" {
		vapid.Subject = "mailto:you@example.com"
	}
	if vapid.TTLSeconds <= 0 {
		vapid.TTLSeconds = 30
	}
	return &WebPushSender{vapid: vapid}, nil
}

// Send encrypts the payload for the subscription and posts it to the
// push service endpoint. Push-service rejections come back as
// *DeliveryError so the dispatcher can prune dead endpoints.
func (s *WebPushSender) Send(ctx context.Context, rec subscriptions.Record, payload []byte) error {
	sub := &webpush.Subscription{
		Endpoint: rec.Endpoint,
		Keys: webpush.Keys{
			P256dh: rec.P256dh,
			Auth:   rec.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		Subscriber:      s.vapid.Subject,
		VAPIDPublicKey:  s.vapid.PublicKey,
		VAPIDPrivateKey: s.vapid.PrivateKey,
		TTL:             s.vapid.TTLSeconds,
	})
	if err != nil {
		return fmt.Errorf("webpush send: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return &DeliveryError{StatusCode: resp.StatusCode, Endpoint: rec.Endpoint}
	}
	return nil
}

// GenerateVAPIDKeys returns a freshly generated key pair, public key
// first. Intended for one-time setup.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate VAPID keys: %w", err)
	}
	return publicKey, privateKey, nil
}
