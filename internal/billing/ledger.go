package billing

import (
	"context"
	"fmt"
	"time"

	"courseplatform.app/api/internal/logger"
	"courseplatform.app/api/internal/metrics"
	"courseplatform.app/api/models"
	"courseplatform.app/api/storage"
	"github.com/stripe/stripe-go/v82"
)

// DefaultMaxAttempts bounds deliveries of a failing event before it is
// dead-lettered and acknowledged.
const DefaultMaxAttempts = 5

type Outcome int

const (
	// Processed events were applied on this delivery.
	Processed Outcome = iota
	// Duplicate events were already processed or dead-lettered.
	Duplicate
	// Retry asks the gateway to deliver the event again.
	Retry
	// DeadLettered events failed too often and are acknowledged anyway.
	DeadLettered
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case Duplicate:
		return "duplicate"
	case Retry:
		return "retry"
	case DeadLettered:
		return "dead"
	default:
		return "unknown"
	}
}

// Acknowledge reports whether the gateway should get a 2xx.
func (o Outcome) Acknowledge() bool {
	return o != Retry
}

type EventDispatcher interface {
	Dispatch(ctx context.Context, event stripe.Event) error
}

// Ledger records every delivery attempt per event id so replays are skipped
// and poison events stop being retried after MaxAttempts.
type Ledger struct {
	Storage     storage.Storage
	Dispatcher  EventDispatcher
	MaxAttempts int
	Now         func() time.Time

	// OnDeadLetter is called once when an event is given up on.
	OnDeadLetter func(event stripe.Event, err error)
}

func NewLedger(store storage.Storage, dispatcher EventDispatcher, maxAttempts int) *Ledger {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Ledger{
		Storage:     store,
		Dispatcher:  dispatcher,
		MaxAttempts: maxAttempts,
		Now:         time.Now,
	}
}

func (l *Ledger) Process(ctx context.Context, event stripe.Event) (outcome Outcome, err error) {
	defer func() {
		metrics.WebhookEvents.WithLabelValues(string(event.Type), outcome.String()).Inc()
	}()

	entry, err := l.Storage.GetWebhookEvent(ctx, event.ID)
	if err != nil {
		return Retry, fmt.Errorf("failed to read webhook ledger: %w", err)
	}
	if entry != nil && entry.Settled() {
		logger.Info("Webhook event already settled", map[string]interface{}{
			"event_id": event.ID,
			"status":   entry.Status,
		})
		return Duplicate, nil
	}

	now := l.Now().UTC()
	if entry == nil {
		entry = &models.WebhookEvent{
			ID:        event.ID,
			Type:      string(event.Type),
			CreatedAt: now,
		}
	}
	entry.Attempts++
	entry.UpdatedAt = now

	dispatchErr := l.Dispatcher.Dispatch(ctx, event)
	switch {
	case dispatchErr == nil:
		entry.Status = models.WebhookProcessed
		entry.LastError = ""
		outcome = Processed
	case entry.Attempts >= l.MaxAttempts:
		entry.Status = models.WebhookDead
		entry.LastError = dispatchErr.Error()
		outcome = DeadLettered
	default:
		entry.Status = models.WebhookFailed
		entry.LastError = dispatchErr.Error()
		outcome = Retry
	}

	if err := l.Storage.SaveWebhookEvent(ctx, entry); err != nil {
		// Without a ledger row the next delivery reprocesses; handlers are idempotent.
		logger.Error("Failed to record webhook event", map[string]interface{}{
			"event_id": event.ID,
			"error":    err.Error(),
		})
		return Retry, fmt.Errorf("failed to record webhook event: %w", err)
	}

	switch outcome {
	case DeadLettered:
		logger.Error("Webhook event dead-lettered", map[string]interface{}{
			"event_id":   event.ID,
			"event_type": string(event.Type),
			"attempts":   entry.Attempts,
			"error":      dispatchErr.Error(),
		})
		if l.OnDeadLetter != nil {
			l.OnDeadLetter(event, dispatchErr)
		}
		return outcome, nil
	case Retry:
		logger.Warn("Webhook event failed, awaiting retry", map[string]interface{}{
			"event_id":   event.ID,
			"event_type": string(event.Type),
			"attempts":   entry.Attempts,
			"error":      dispatchErr.Error(),
		})
		return outcome, dispatchErr
	}
	return outcome, nil
}
