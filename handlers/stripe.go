package handlers

import (
	"fmt"
	"io"
	"net/http"

	"courseplatform.app/api/internal/apperr"
	"courseplatform.app/api/internal/logger"
	"github.com/getsentry/sentry-go"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const maxWebhookBytes = int64(65536)

var (
	ErrWebhookNotConfigured = apperr.New(apperr.Misconfigured, "WEBHOOK_NOT_CONFIGURED", "Webhook secret is not configured")
	ErrWebhookUnreadable    = apperr.New(apperr.Misconfigured, "WEBHOOK_UNREADABLE", "Failed to read webhook payload")
	ErrBadSignature         = apperr.New(apperr.InvalidSignature, "INVALID_SIGNATURE", "Webhook signature verification failed")
)

type WebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// Stripe verifies the signature and hands the event to the ledger. The gateway
// only gets a non-2xx when the ledger wants the delivery retried.
func (s *Server) Stripe(w http.ResponseWriter, r *http.Request) {
	if s.WebhookSecret == "" {
		logger.Error("STRIPE_WEBHOOK_SECRET environment variable not set")
		renderError(w, r, ErrWebhookNotConfigured)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("Failed to read webhook payload", map[string]interface{}{
			"error": err.Error(),
		})
		renderError(w, r, ErrWebhookUnreadable)
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), s.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		logger.Warn("Webhook signature verification failed", map[string]interface{}{
			"error":        err.Error(),
			"payload_size": len(payload),
		})
		renderError(w, r, ErrBadSignature)
		return
	}

	logger.Info("Stripe event received", map[string]interface{}{
		"event_type": string(event.Type),
		"event_id":   event.ID,
	})

	outcome, err := s.Webhooks.Process(r.Context(), event)
	if !outcome.Acknowledge() {
		logger.Error("Webhook processing failed", map[string]interface{}{
			"event_type": string(event.Type),
			"event_id":   event.ID,
			"error":      fmt.Sprint(err),
		})
		writeJSON(w, r, http.StatusInternalServerError, WebhookResponse{Received: true, Outcome: outcome.String()})
		return
	}

	writeJSON(w, r, http.StatusOK, WebhookResponse{Received: true, Outcome: outcome.String()})
}

// reportDeadLetter sends events that exhausted their retries to Sentry.
func reportDeadLetter(event stripe.Event, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("stripe_event_type", string(event.Type))
		scope.SetTag("stripe_event_id", event.ID)
		scope.SetLevel(sentry.LevelError)
		sentry.CaptureException(fmt.Errorf("stripe event %s dead-lettered: %w", event.ID, err))
	})
}
