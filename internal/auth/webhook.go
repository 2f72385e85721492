package auth

import (
	"errors"
	"fmt"
	"net/http"

	svix "github.com/svix/svix-webhooks/go"
)

var ErrWebhookSecretMissing = errors.New("webhook secret is not configured")

var webhookHeaders = []string{"svix-id", "svix-timestamp", "svix-signature"}

// WebhookVerifier checks svix signatures on identity-provider deliveries.
type WebhookVerifier struct {
	wh *svix.Webhook
}

func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	if secret == "" {
		return nil, ErrWebhookSecretMissing
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook secret: %w", err)
	}
	return &WebhookVerifier{wh: wh}, nil
}

// HasSignatureHeaders reports whether all svix headers are present.
func HasSignatureHeaders(h http.Header) bool {
	for _, name := range webhookHeaders {
		if h.Get(name) == "" {
			return false
		}
	}
	return true
}

func (v *WebhookVerifier) Verify(payload []byte, h http.Header) error {
	return v.wh.Verify(payload, h)
}
