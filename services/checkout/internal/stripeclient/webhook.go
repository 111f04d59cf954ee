package stripeclient

import (
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
	"mentalia/services/checkout/internal/app"
)

// ErrWebhookSecret is returned when the verifier is built without a secret.
var ErrWebhookSecret = errors.New("stripe webhook secret required")

// WebhookVerifier checks the Stripe-Signature header of webhook deliveries.
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrWebhookSecret
	}
	return &WebhookVerifier{secret: secret, tolerance: webhook.DefaultTolerance}, nil
}

// Verify validates the signature over the raw payload and decodes the event.
func (v *WebhookVerifier) Verify(payload []byte, signature string) (app.WebhookEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return app.WebhookEvent{}, err
	}
	out := app.WebhookEvent{
		ID:   ev.ID,
		Type: string(ev.Type),
		Raw:  payload,
	}
	if ev.Created > 0 {
		out.Created = time.Unix(ev.Created, 0).UTC()
	}
	if ev.Data != nil {
		out.Object = ev.Data.Object
	}
	if out.Object == nil {
		out.Object = map[string]any{}
	}
	return out, nil
}
